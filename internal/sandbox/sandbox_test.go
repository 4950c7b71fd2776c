package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/animuserr"
)

func TestRunRejectsUnsupportedLanguage(t *testing.T) {
	s := New(DefaultConfig())
	_, err := s.Run(context.Background(), Params{Language: "ruby", Code: "puts 1"})
	require.Error(t, err)
	assert.True(t, animuserr.IsValidation(err))
}

func TestMainFilenameByLanguage(t *testing.T) {
	assert.Equal(t, "main.py", mainFilename("python"))
	assert.Equal(t, "main.js", mainFilename("nodejs"))
	assert.Equal(t, "main.go", mainFilename("go"))
	assert.Equal(t, "main.sh", mainFilename("bash"))
}

func TestStageScratchWritesFiles(t *testing.T) {
	dir, err := stageScratch(t.TempDir(), Params{
		Language: "python",
		Code:     "print(1)",
		Files:    map[string]string{"helper.py": "x = 1"},
	})
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestSDKStagedForSupportedLanguages(t *testing.T) {
	assert.Equal(t, "animus.py", sdkFilename("python"))
	assert.Equal(t, "animus.js", sdkFilename("nodejs"))
	assert.Empty(t, sdkFilename("bash"))
	assert.Empty(t, sdkFilename("go"))
	assert.NotEmpty(t, sdkSource("python"))
	assert.NotEmpty(t, sdkSource("nodejs"))
}

func TestDefaultConfigFillsZeroValues(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, 1000, s.cfg.DefaultCPU)
	assert.Equal(t, 512, s.cfg.DefaultMemory)
	assert.Equal(t, 30*time.Second, s.cfg.DefaultTimeout)
}
