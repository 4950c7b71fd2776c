package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/pkg/model"
)

// fakeClient is a minimal stand-in used to verify engage-loop-facing call
// sites compile against the Client interface without hitting the network.
type fakeClient struct {
	resp *model.CompletionResponse
	err  error
}

func (f *fakeClient) Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error) {
	return f.resp, f.err
}

func (f *fakeClient) CompleteStream(ctx context.Context, req model.CompletionRequest, sink model.EventSink) (*model.CompletionResponse, error) {
	if sink != nil {
		sink(model.StreamEvent{Kind: model.StreamTextDelta, Text: "hi"})
		sink(model.StreamEvent{Kind: model.StreamDone})
	}
	return f.resp, f.err
}

func TestFakeClientSatisfiesInterface(t *testing.T) {
	var _ Client = (*fakeClient)(nil)

	fc := &fakeClient{resp: &model.CompletionResponse{StopReason: model.StopEndTurn}}
	resp, err := fc.Complete(context.Background(), model.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.StopEndTurn, resp.StopReason)
}

func TestCompleteStreamInvokesSink(t *testing.T) {
	fc := &fakeClient{resp: &model.CompletionResponse{}}
	var events []model.StreamEvent
	_, err := fc.CompleteStream(context.Background(), model.CompletionRequest{}, func(e model.StreamEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.StreamDone, events[1].Kind)
}

func TestWithMetricsReturnsSameClientForChaining(t *testing.T) {
	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)

	m := observability.NewMetrics()
	got := c.WithMetrics(m)
	assert.Same(t, c, got)
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]model.StopReason{
		"end_turn":   model.StopEndTurn,
		"tool_use":   model.StopToolUse,
		"max_tokens": model.StopMaxTokens,
		"":           model.StopEndTurn,
		"refusal":    model.StopOther,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStopReason(in), in)
	}
}
