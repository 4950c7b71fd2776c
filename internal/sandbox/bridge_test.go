package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/pkg/model"
)

type fakeInvoker struct {
	lastTool  string
	lastInput json.RawMessage
	lastAuth  model.AuthContext
	result    *model.ToolResult
}

func (f *fakeInvoker) InvokeTool(ctx context.Context, auth model.AuthContext, tool string, input json.RawMessage) (*model.ToolResult, error) {
	f.lastTool = tool
	f.lastInput = input
	f.lastAuth = auth
	return f.result, nil
}

func bridgeClient(b *bridge) *http.Client {
	sock := filepath.Join(b.SocketDir(), "rpc.sock")
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", sock)
			},
		},
	}
}

func TestBridgeInvokeRoutesToolCall(t *testing.T) {
	inv := &fakeInvoker{result: &model.ToolResult{Content: "seq 3 recorded"}}
	auth := model.AuthContext{WorkItemID: "wi-1", FocusID: "f-1", Faculty: "social"}
	b, err := newBridge(inv, auth)
	require.NoError(t, err)
	defer b.Close(context.Background())

	body, _ := json.Marshal(map[string]any{
		"tool":  "ledger_append",
		"input": map[string]string{"entry_type": "step", "content": "scanned inbox"},
	})
	resp, err := bridgeClient(b).Post("http://animus/invoke", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out invokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "seq 3 recorded", out.Content)
	assert.False(t, out.IsError)

	assert.Equal(t, "ledger_append", inv.lastTool)
	assert.Equal(t, auth, inv.lastAuth, "SDK calls must carry the focus's own auth context")
	assert.JSONEq(t, `{"entry_type":"step","content":"scanned inbox"}`, string(inv.lastInput))
}

func TestBridgeInvokeSurfacesToolError(t *testing.T) {
	inv := &fakeInvoker{result: &model.ToolResult{IsError: true, ErrorType: "unknown_tool", Content: "no such tool"}}
	b, err := newBridge(inv, model.AuthContext{})
	require.NoError(t, err)
	defer b.Close(context.Background())

	resp, err := bridgeClient(b).Post("http://animus/invoke", "application/json",
		bytes.NewReader([]byte(`{"tool":"nope"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out invokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.IsError)
	assert.Equal(t, "unknown_tool", out.ErrorType)
}

func TestBridgeResultCapturesReturnValue(t *testing.T) {
	b, err := newBridge(&fakeInvoker{result: &model.ToolResult{}}, model.AuthContext{})
	require.NoError(t, err)
	defer b.Close(context.Background())

	_, got := b.ReturnValue()
	require.False(t, got, "no value before the code submits one")

	resp, err := bridgeClient(b).Post("http://animus/result", "application/json",
		bytes.NewReader([]byte(`{"value":"42 items processed"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	value, got := b.ReturnValue()
	assert.True(t, got)
	assert.Equal(t, "42 items processed", value)
}

func TestBridgeResultLastSubmissionWins(t *testing.T) {
	b, err := newBridge(&fakeInvoker{result: &model.ToolResult{}}, model.AuthContext{})
	require.NoError(t, err)
	defer b.Close(context.Background())

	c := bridgeClient(b)
	for _, v := range []string{`{"value":"first"}`, `{"value":{"count":2}}`} {
		resp, err := c.Post("http://animus/result", "application/json", bytes.NewReader([]byte(v)))
		require.NoError(t, err)
		resp.Body.Close()
	}

	value, got := b.ReturnValue()
	assert.True(t, got)
	assert.JSONEq(t, `{"count":2}`, value, "non-string values stay JSON")
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "plain", renderValue(json.RawMessage(`"plain"`)))
	assert.Equal(t, `[1,2,3]`, renderValue(json.RawMessage(`[1,2,3]`)))
	assert.Equal(t, `7`, renderValue(json.RawMessage(`7`)))
}
