package engage

import (
	"regexp"
	"strings"

	"github.com/animus-run/animus/pkg/model"
)

// defaultMaxToolResultChars bounds a tool result's size before it is
// written into loop history or the ledger when a faculty enables guarding
// without an explicit MaxChars, preventing one runaway tool from blowing
// the context budget.
const defaultMaxToolResultChars = 64 * 1024

// builtinSecretPatterns are always applied when SanitizeSecrets is set,
// regardless of any faculty-supplied RedactPatterns.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

const redactionText = "[REDACTED]"
const truncateSuffix = "...[truncated]"

// resultGuard redacts and truncates a tool result before it becomes part
// of the loop's durable history. A zero-value guard (cfg.active() ==
// false) is a no-op pass-through.
type resultGuard struct {
	cfg model.ResultGuardConfig
}

func newResultGuard(cfg model.ResultGuardConfig) resultGuard {
	return resultGuard{cfg: cfg}
}

func (g resultGuard) active() bool {
	c := g.cfg
	return c.Enabled || c.MaxChars > 0 || len(c.Denylist) > 0 || len(c.RedactPatterns) > 0 || c.SanitizeSecrets
}

// apply redacts/truncates the content of result in place and returns it.
// toolName is checked against the denylist first: a denylisted tool's
// entire result is replaced rather than scanned.
func (g resultGuard) apply(toolName string, result *model.ToolResult) *model.ToolResult {
	if !g.active() || result == nil {
		return result
	}

	for _, denied := range g.cfg.Denylist {
		if strings.EqualFold(strings.TrimSpace(denied), toolName) {
			result.Content = redactionText
			return result
		}
	}

	content := result.Content
	if g.cfg.SanitizeSecrets {
		for _, re := range builtinSecretPatterns {
			content = re.ReplaceAllString(content, redactionText)
		}
	}
	for _, pattern := range g.cfg.RedactPatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, redactionText)
	}
	result.Content = content

	maxChars := g.cfg.MaxChars
	if g.cfg.Enabled && maxChars <= 0 {
		maxChars = defaultMaxToolResultChars
	}
	if maxChars > 0 && len(result.Content) > maxChars {
		result.Content = result.Content[:maxChars] + truncateSuffix
	}
	return result
}
