package engage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/animus-run/animus/pkg/model"
)

func TestResultGuardInactiveByDefault(t *testing.T) {
	g := newResultGuard(model.ResultGuardConfig{})
	result := &model.ToolResult{Content: "api_key=abcdefghijklmnopqrst1234"}
	out := g.apply("some_tool", result)
	assert.Equal(t, "api_key=abcdefghijklmnopqrst1234", out.Content)
}

func TestResultGuardSanitizesSecrets(t *testing.T) {
	g := newResultGuard(model.ResultGuardConfig{SanitizeSecrets: true})
	result := &model.ToolResult{Content: "here is api_key=abcdefghijklmnopqrst1234 in the output"}
	out := g.apply("shell", result)
	assert.Contains(t, out.Content, "[REDACTED]")
	assert.NotContains(t, out.Content, "abcdefghijklmnopqrst1234")
}

func TestResultGuardDenylistReplacesWholeResult(t *testing.T) {
	g := newResultGuard(model.ResultGuardConfig{Enabled: true, Denylist: []string{"dump_env"}})
	result := &model.ToolResult{Content: "SECRET_TOKEN=xyz"}
	out := g.apply("dump_env", result)
	assert.Equal(t, "[REDACTED]", out.Content)
}

func TestResultGuardTruncatesOverMaxChars(t *testing.T) {
	g := newResultGuard(model.ResultGuardConfig{MaxChars: 10})
	result := &model.ToolResult{Content: strings.Repeat("x", 100)}
	out := g.apply("big_tool", result)
	assert.True(t, strings.HasSuffix(out.Content, "...[truncated]"))
	assert.Less(t, len(out.Content), 100)
}

func TestResultGuardAppliesCustomRedactPattern(t *testing.T) {
	g := newResultGuard(model.ResultGuardConfig{RedactPatterns: []string{`\d{3}-\d{2}-\d{4}`}})
	result := &model.ToolResult{Content: "ssn: 123-45-6789"}
	out := g.apply("lookup", result)
	assert.Equal(t, "ssn: [REDACTED]", out.Content)
}

func TestExecutorMetricsSnapshot(t *testing.T) {
	var m ExecutorMetrics
	m.recordExecution()
	m.recordExecution()
	m.recordFailure()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
}
