package engage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/toolregistry"
	"github.com/animus-run/animus/pkg/model"
)

func writeHookScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestScriptHooksEmptyConfig(t *testing.T) {
	hooks, err := ScriptHooks(model.EngageHooksConfig{}, "ops")
	require.NoError(t, err)
	assert.Empty(t, hooks.BeforeLLMCall)
	assert.Empty(t, hooks.BeforeToolCall)
	assert.Empty(t, hooks.AfterToolCall)
}

func TestScriptHooksRejectsUnsafeCommand(t *testing.T) {
	_, err := ScriptHooks(model.EngageHooksConfig{
		BeforeToolCall: []string{"rm -rf; echo"},
	}, "ops")
	require.Error(t, err)
}

func TestScriptHookBlocksLLMCall(t *testing.T) {
	script := writeHookScript(t, `echo '{"action":"block","reason":"budget exhausted"}'`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{BeforeLLMCall: []string{script}}, "ops")
	require.NoError(t, err)

	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("should not see this")}},
	}}
	l := New(client, toolregistry.New(), ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "budget exhausted", result.OutcomeText)
	assert.Empty(t, client.systems, "a blocked iteration never reaches the LLM")
}

func TestScriptHookReceivesEventEnv(t *testing.T) {
	// The script proves it saw the hook environment by echoing the event
	// name back as its block reason.
	script := writeHookScript(t, `echo "{\"action\":\"block\",\"reason\":\"$ANIMUS_HOOK_EVENT $ANIMUS_WORK_ID\"}"`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{BeforeLLMCall: []string{script}}, "ops")
	require.NoError(t, err)

	client := &scriptedClient{responses: []*model.CompletionResponse{}}
	l := New(client, toolregistry.New(), ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})
	st := NewState("wi-7", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-7"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "before_llm_call wi-7", result.OutcomeText)
}

func TestScriptHookBlocksToolCall(t *testing.T) {
	script := writeHookScript(t, `echo '{"action":"block","reason":"tool not approved"}'`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{BeforeToolCall: []string{script}}, "ops")
	require.NoError(t, err)

	tools := toolregistry.New()
	tools.Register(echoTool{})
	l := New(&scriptedClient{}, tools, ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})

	res, err := l.InvokeTool(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "hook_blocked", res.ErrorType)
	assert.Equal(t, "tool not approved", res.Content)
}

func TestScriptHookReplacesToolResult(t *testing.T) {
	script := writeHookScript(t, `echo '{"replace_content":"[redacted by policy]"}'`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{AfterToolCall: []string{script}}, "ops")
	require.NoError(t, err)

	tools := toolregistry.New()
	tools.Register(echoTool{})
	l := New(&scriptedClient{}, tools, ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})

	res, err := l.InvokeTool(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[redacted by policy]", res.Content)
}

func TestScriptHookEmptyOutputAllows(t *testing.T) {
	script := writeHookScript(t, `cat > /dev/null`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{BeforeToolCall: []string{script}}, "ops")
	require.NoError(t, err)

	tools := toolregistry.New()
	tools.Register(echoTool{})
	l := New(&scriptedClient{}, tools, ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})

	res, err := l.InvokeTool(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "echoed", res.Content)
}

func TestScriptHookNonZeroExitIsHookError(t *testing.T) {
	script := writeHookScript(t, `exit 3`)
	hooks, err := ScriptHooks(model.EngageHooksConfig{BeforeToolCall: []string{script}}, "ops")
	require.NoError(t, err)

	tools := toolregistry.New()
	tools.Register(echoTool{})
	l := New(&scriptedClient{}, tools, ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})

	res, err := l.InvokeTool(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "hook_error", res.ErrorType)
}
