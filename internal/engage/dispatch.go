package engage

import (
	"context"
	"sync"

	"github.com/animus-run/animus/pkg/model"
)

// toolOutcome pairs one tool call with its eventual result, preserving the
// call's position so results can be matched back to tool_use ids
// regardless of completion order.
type toolOutcome struct {
	call   model.AssistantBlock
	result *model.ToolResult
}

// dispatchTools runs every call in toolCalls, bounded to maxParallel
// concurrent executions. BeforeToolCall hooks may block a call outright
// (producing an error result with no execution); AfterToolCall hooks run
// on every executed call's result, not on blocked calls.
func (l *Loop) dispatchTools(ctx context.Context, auth model.AuthContext, toolCalls []model.AssistantBlock) ([]toolOutcome, []string) {
	maxParallel := l.cfg.MaxParallelTools
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if !l.cfg.ParallelToolExecution {
		maxParallel = 1
	}

	outcomes := make([]toolOutcome, len(toolCalls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failedTools []string

	for i, call := range toolCalls {
		i, call := i, call
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result := l.runOneTool(ctx, auth, call)
			l.executorMetrics.recordExecution()
			if result.IsError {
				l.executorMetrics.recordFailure()
				mu.Lock()
				failedTools = append(failedTools, call.Name)
				mu.Unlock()
			}
			outcomes[i] = toolOutcome{call: call, result: result}
		}()
	}
	wg.Wait()
	return outcomes, failedTools
}

func (l *Loop) runOneTool(ctx context.Context, auth model.AuthContext, call model.AssistantBlock) *model.ToolResult {
	decision, err := l.hooks.runBeforeToolCall(ctx, auth, call)
	if err != nil {
		return &model.ToolResult{IsError: true, ErrorType: "hook_error", Content: err.Error()}
	}
	if decision.Block {
		return &model.ToolResult{IsError: true, ErrorType: "hook_blocked", Content: decision.BlockReason}
	}
	input := call.Input
	if decision.PatchedInput != nil {
		input = decision.PatchedInput
	}

	result, err := l.tools.Execute(ctx, call.Name, auth, input)
	if err != nil {
		result = &model.ToolResult{IsError: true, ErrorType: "tool_error", Content: err.Error()}
	}

	patched, err := l.hooks.runAfterToolCall(ctx, auth, call, result)
	if err != nil {
		return &model.ToolResult{IsError: true, ErrorType: "hook_error", Content: err.Error()}
	}
	return l.guard.apply(call.Name, patched)
}
