package engage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/toolregistry"
	"github.com/animus-run/animus/pkg/model"
)

type scriptedClient struct {
	responses []*model.CompletionResponse
	calls     int
	systems   []string
}

func (c *scriptedClient) Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error) {
	c.systems = append(c.systems, req.System)
	resp := c.responses[c.calls]
	if c.calls < len(c.responses)-1 {
		c.calls++
	}
	return resp, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req model.CompletionRequest, sink model.EventSink) (*model.CompletionResponse, error) {
	return c.Complete(ctx, req)
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echo" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	return &model.ToolResult{Content: "echoed"}, nil
}

func newTestLoop(t *testing.T, client *scriptedClient, cfg Config) *Loop {
	t.Helper()
	tools := toolregistry.New()
	tools.Register(echoTool{})
	tools.Register(&ledgerAppendStub{store: ledger.NewMemoryStore()})
	return New(client, tools, ledger.NewMemoryStore(), Hooks{}, cfg)
}

// ledgerAppendStub exercises the real engine tool name without importing
// internal/enginetools (would create an import cycle in tests).
type ledgerAppendStub struct {
	store ledger.Store
}

func (l *ledgerAppendStub) Name() string            { return "ledger_append" }
func (l *ledgerAppendStub) Description() string     { return "append" }
func (l *ledgerAppendStub) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (l *ledgerAppendStub) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var in ledgerAppendInput
	_ = json.Unmarshal(input, &in)
	entry, err := l.store.Append(ctx, auth.WorkItemID, in.EntryType, in.Content)
	if err != nil {
		return nil, err
	}
	return &model.ToolResult{Content: "ok", Metadata: map[string]any{"seq": entry.Seq}}, nil
}

func TestRunEndsOnEndTurn(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("done")}},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "done", result.OutcomeText)
}

func TestRunWithZeroMaxTurnsExitsImmediately(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("should never be seen")}},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 0})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "(no response)", result.OutcomeText)
	assert.Equal(t, 0, client.calls)
}

func TestRunRetriesOnceOnEmptyReply(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: nil},
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("ok now")}},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "ok now", result.OutcomeText)
}

func TestRunReturnsNoResponseAfterSecondEmptyReply(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: nil},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "(no response)", result.OutcomeText)
}

func TestRunDispatchesToolsAndClosesBlockOnStep(t *testing.T) {
	toolCall := model.ToolUseBlock("call-1", "ledger_append", json.RawMessage(`{"entry_type":"step","content":"did X"}`))
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopToolUse, Content: []model.AssistantBlock{toolCall}},
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("finished")}},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 5, TruncateClosedBlocks: true})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "finished", result.OutcomeText)
	assert.Equal(t, 0, st.IterationsSinceLedgerStep)
	assert.Len(t, st.closedStubs, 1)
}

// activateOnceTool simulates activate_skill: the first call flips a flag
// the test's skill-fragment lookup consults, so the *next* LLM call (not
// the one in flight) picks up the new fragment.
type activateOnceTool struct{ activated *bool }

func (activateOnceTool) Name() string            { return "activate_skill" }
func (activateOnceTool) Description() string     { return "activate" }
func (activateOnceTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t activateOnceTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	*t.activated = true
	return &model.ToolResult{Content: "activated"}, nil
}

func TestRunPicksUpLiveSkillFragmentsEachIteration(t *testing.T) {
	toolCall := model.ToolUseBlock("call-1", "activate_skill", json.RawMessage(`{}`))
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopToolUse, Content: []model.AssistantBlock{toolCall}},
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("done")}},
	}}
	tools := toolregistry.New()
	var activated bool
	tools.Register(activateOnceTool{activated: &activated})
	l := New(client, tools, ledger.NewMemoryStore(), Hooks{}, Config{MaxTurns: 5})
	l.WithSkillFragments(func(workItemID string) []string {
		if activated {
			return []string{"triage skill body"}
		}
		return nil
	})

	st := NewState("wi-1", nil)
	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "done", result.OutcomeText)
	require.Len(t, client.systems, 2)
	assert.True(t, strings.HasSuffix(client.systems[0], "\n\nsystem"))
	assert.NotContains(t, client.systems[0], "triage skill body")
	assert.Contains(t, client.systems[1], "triage skill body")
}

func TestRunHitsTurnCap(t *testing.T) {
	toolCall := model.ToolUseBlock("call-1", "echo", json.RawMessage(`{}`))
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopToolUse, Content: []model.AssistantBlock{toolCall}},
	}}
	l := newTestLoop(t, client, Config{MaxTurns: 2})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "turn limit reached", result.OutcomeText)
}

func TestRunHonorsBeforeLLMCallBlock(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("should not see this")}},
	}}
	hooks := Hooks{BeforeLLMCall: []BeforeLLMCallHook{
		func(ctx context.Context, st *State) (LLMCallDecision, error) {
			return LLMCallDecision{Block: true, BlockReason: "blocked by policy"}, nil
		},
	}}
	l := New(client, toolregistry.New(), ledger.NewMemoryStore(), hooks, Config{MaxTurns: 5})
	st := NewState("wi-1", nil)

	result, err := l.Run(context.Background(), model.AuthContext{WorkItemID: "wi-1"}, "system", nil, st)
	require.NoError(t, err)
	assert.Equal(t, "blocked by policy", result.OutcomeText)
}

func TestEstimateTokensScalesWithContent(t *testing.T) {
	short := []model.Message{model.UserMessage(model.TextUserBlock("hi"))}
	long := []model.Message{model.UserMessage(model.TextUserBlock(string(make([]byte, 4000))))}
	assert.Less(t, estimateTokens(short), estimateTokens(long))
}

func TestInvokeToolRoutesThroughRegistry(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	auth := model.AuthContext{WorkItemID: "wi-1", FocusID: "f-1"}

	res, err := l.InvokeTool(context.Background(), auth, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "echoed", res.Content)

	res, err = l.InvokeTool(context.Background(), auth, "no_such_tool", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError, "unknown tools come back as error results, not Go errors")
}

func TestInvokeToolStepAppendClosesBlock(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	auth := model.AuthContext{WorkItemID: "wi-1"}

	res, err := l.InvokeTool(context.Background(), auth, "ledger_append",
		json.RawMessage(`{"entry_type":"step","content":"synced contacts"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	st := NewState("wi-1", nil)
	st.Messages = append(st.Messages, model.UserMessage(model.TextUserBlock("working")))
	l.accountContextBlock(st)

	assert.Equal(t, len(st.Messages), st.OpenBlockStart, "sdk-initiated step closes the open block")
	require.Len(t, st.closedStubs, 1)
	assert.Contains(t, st.closedStubs[0], "synced contacts")
	assert.Zero(t, st.IterationsSinceLedgerStep)
}

func TestInvokeToolNonStepAppendLeavesBlockOpen(t *testing.T) {
	client := &scriptedClient{responses: []*model.CompletionResponse{}}
	l := newTestLoop(t, client, Config{MaxTurns: 5})
	auth := model.AuthContext{WorkItemID: "wi-1"}

	_, err := l.InvokeTool(context.Background(), auth, "ledger_append",
		json.RawMessage(`{"entry_type":"finding","content":"rate limit is 10rps"}`))
	require.NoError(t, err)

	st := NewState("wi-1", nil)
	st.Messages = append(st.Messages, model.UserMessage(model.TextUserBlock("working")))
	l.accountContextBlock(st)

	assert.Zero(t, st.OpenBlockStart)
	assert.Empty(t, st.closedStubs)
	assert.Equal(t, 1, st.IterationsSinceLedgerStep)
}

func TestMaybeCompactReplacesHistoryWithLedgerSummary(t *testing.T) {
	led := ledger.NewMemoryStore()
	_, err := led.Append(context.Background(), "wi-1", model.EntryPlan, "build the quarterly report")
	require.NoError(t, err)

	client := &scriptedClient{responses: []*model.CompletionResponse{
		{StopReason: model.StopEndTurn, Content: []model.AssistantBlock{model.TextAssistantBlock("done")}},
	}}
	l := New(client, toolregistry.New(), led, Hooks{}, Config{
		MaxTurns: 5, CompactThreshold: 0.5, CompactKeepRecent: 2, ContextWindow: 200,
	})

	st := NewState("wi-1", nil)
	for i := 0; i < 10; i++ {
		st.Messages = append(st.Messages, model.UserMessage(model.TextUserBlock(strings.Repeat("chatter ", 10))))
	}
	st.closedStubs = []string{"[completed step 1: old]"}
	st.OpenBlockStart = 4

	require.NoError(t, l.maybeCompact(context.Background(), st))

	require.Len(t, st.Messages, 4)
	assert.Contains(t, st.Messages[0].Text(), "build the quarterly report")
	assert.Zero(t, st.OpenBlockStart, "compacted history restarts block accounting")
	assert.Empty(t, st.closedStubs)
}
