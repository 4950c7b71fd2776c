package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeCommandAcceptsPathsAndBareNames(t *testing.T) {
	for _, v := range []string{
		"/usr/local/bin/orient-hook",
		"./hooks/consolidate.sh",
		"~/hooks/recover",
		"orient-hook",
		"python3",
		"hook_v2.1",
	} {
		got, err := SanitizeCommand(v)
		require.NoError(t, err, v)
		assert.Equal(t, v, got)
	}
}

func TestSanitizeCommandTrims(t *testing.T) {
	got, err := SanitizeCommand("  orient-hook  ")
	require.NoError(t, err)
	assert.Equal(t, "orient-hook", got)
}

func TestSanitizeCommandRejectsShellSyntax(t *testing.T) {
	for _, v := range []string{
		"hook; rm -rf /",
		"hook && curl evil",
		"hook | tee out",
		"hook `id`",
		"hook $HOME",
		"hook > /etc/passwd",
		"hook\nrm",
		"\"hook\"",
		"'hook'",
		"hook\x00",
	} {
		_, err := SanitizeCommand(v)
		assert.ErrorIs(t, err, ErrUnsafeCommand, "%q", v)
	}
}

func TestSanitizeCommandRejectsEmpty(t *testing.T) {
	for _, v := range []string{"", "   "} {
		_, err := SanitizeCommand(v)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	}
}

func TestSanitizeCommandRejectsOptionInjection(t *testing.T) {
	_, err := SanitizeCommand("--version")
	assert.ErrorIs(t, err, ErrOptionInjection)
}

func TestSanitizeCommandRejectsOddBareNames(t *testing.T) {
	_, err := SanitizeCommand("hook name")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestIsSafeCommand(t *testing.T) {
	assert.True(t, IsSafeCommand("/usr/bin/hook"))
	assert.False(t, IsSafeCommand("hook;id"))
}
