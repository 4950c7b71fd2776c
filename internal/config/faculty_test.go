package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/pkg/model"
)

const socialTOML = `
name = "social"
concurrent = true

[orient]
command = "./hooks/social-orient.sh"
timeout = "30s"

[engage]
model = "claude-sonnet-4-20250514"
tools = ["send_message"]
max_turns = 20
max_parallel_tools = 4

[consolidate]
command = "./hooks/social-consolidate.sh"
timeout = "30s"

[recover]
command = "./hooks/social-recover.sh"
max_attempts = 5
`

func TestLoadFacultiesParsesTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "social.toml"), []byte(socialTOML), 0o644))

	facs, warnings, err := LoadFaculties(dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Contains(t, facs, "social")

	f := facs["social"]
	assert.True(t, f.Concurrent)
	assert.Equal(t, 20, f.Engage.MaxTurns)
	assert.Equal(t, 4, f.Engage.MaxParallelTools)
	assert.Equal(t, model.EngageInternal, f.Engage.Mode)
	assert.Equal(t, 5, f.Recover.MaxAttempts)
}

func TestLoadFacultiesDefaultsNameFromFilename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "researcher.toml"), []byte("concurrent = false\n"), 0o644))

	facs, _, err := LoadFaculties(dir)
	require.NoError(t, err)
	require.Contains(t, facs, "researcher")
	assert.Equal(t, 50, facs["researcher"].Engage.MaxTurns)
}

func TestLoadFacultiesWarnsOnUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.toml"), []byte("name = \"x\"\nbogus_field = 1\n"), 0o644))

	_, warnings, err := LoadFaculties(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
}

func TestLoadFacultiesRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.toml"), []byte("name = \"dup\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.toml"), []byte("name = \"dup\"\n"), 0o644))

	_, _, err := LoadFaculties(dir)
	assert.Error(t, err)
}
