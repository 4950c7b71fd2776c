package engage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/animus-run/animus/pkg/model"
)

// sdkStep records a step-typed ledger_append made from inside the code
// execution sandbox, so accountContextBlock closes the context block for
// it exactly as it would for a direct ledger_append call.
type sdkStep struct {
	seq     int
	content string
}

var sdkCallCounter atomic.Uint64

// InvokeTool runs one tool call through the same hook pipeline, registry,
// and result guard as a model-initiated call. It is the seam the sandbox's
// RPC bridge calls into: an SDK-initiated tool call is indistinguishable
// from a direct one, including a step entry's block-closing effect.
func (l *Loop) InvokeTool(ctx context.Context, auth model.AuthContext, tool string, input json.RawMessage) (*model.ToolResult, error) {
	call := model.ToolUseBlock(fmt.Sprintf("sdk-%d", sdkCallCounter.Add(1)), tool, input)
	result := l.runOneTool(ctx, auth, call)

	if tool == "ledger_append" && result != nil && !result.IsError {
		var in ledgerAppendInput
		if err := json.Unmarshal(input, &in); err == nil && in.EntryType == model.EntryStep {
			seq := 0
			if result.Metadata != nil {
				if s, ok := result.Metadata["seq"].(int); ok {
					seq = s
				}
			}
			l.sdkMu.Lock()
			l.sdkSteps = append(l.sdkSteps, sdkStep{seq: seq, content: in.Content})
			l.sdkMu.Unlock()
		}
	}
	return result, nil
}

// drainSDKSteps hands back and clears the steps recorded since the last
// call, in arrival order.
func (l *Loop) drainSDKSteps() []sdkStep {
	l.sdkMu.Lock()
	defer l.sdkMu.Unlock()
	steps := l.sdkSteps
	l.sdkSteps = nil
	return steps
}
