// Package exec validates faculty hook commands before the focus runner
// launches them. Commands come from operator-authored TOML, not from
// agents, but they still pass through environments where a stray shell
// metacharacter or an option-injection value would be silently dangerous;
// validation rejects those shapes outright rather than trying to escape
// them.
package exec

import (
	"errors"
	"regexp"
	"strings"
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareName       = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

var (
	ErrEmptyCommand    = errors.New("hook command is empty")
	ErrUnsafeCommand   = errors.New("hook command contains shell metacharacters, quotes, or control characters")
	ErrOptionInjection = errors.New("hook command starts with a dash")
	ErrInvalidName     = errors.New("hook command is not a path or a plain executable name")
)

// looksLikePath reports whether value is a filesystem path rather than a
// bare executable name resolved via PATH.
func looksLikePath(value string) bool {
	return strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") ||
		strings.ContainsAny(value, `/\`)
}

// SanitizeCommand validates a hook command and returns it trimmed. A
// command is either an absolute/relative path or a bare executable name;
// anything carrying shell syntax is rejected because hooks are launched
// directly via exec, never through a shell.
func SanitizeCommand(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyCommand
	}
	if strings.Contains(trimmed, "\x00") || controlChars.MatchString(trimmed) ||
		shellMetachars.MatchString(trimmed) || quoteChars.MatchString(trimmed) {
		return "", ErrUnsafeCommand
	}
	if looksLikePath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}
	if !bareName.MatchString(trimmed) {
		return "", ErrInvalidName
	}
	return trimmed, nil
}

// IsSafeCommand reports whether SanitizeCommand would accept value.
func IsSafeCommand(value string) bool {
	_, err := SanitizeCommand(value)
	return err == nil
}
