// Package engage implements the built-in engage loop: the cooperative,
// single-threaded-per-focus iteration over LLM calls and bounded-
// concurrency tool dispatch, with ledger-driven context-block accounting
// keeping the visible history small.
package engage

import (
	"context"
	"encoding/json"

	"github.com/animus-run/animus/pkg/model"
)

// LLMCallDecision is what a BeforeLLMCall hook returns: either allow
// (optionally patching the system prompt) or block (ending the loop).
type LLMCallDecision struct {
	Block             bool
	BlockReason       string
	SystemPromptPatch string
}

// BeforeLLMCallHook runs immediately before each LLM request is built.
type BeforeLLMCallHook func(ctx context.Context, st *State) (LLMCallDecision, error)

// ToolCallDecision is what a BeforeToolCall hook returns for one pending
// tool call: allow (optionally replacing the input), or block (the call is
// converted to an error result with no execution).
type ToolCallDecision struct {
	Block        bool
	BlockReason  string
	PatchedInput json.RawMessage
}

// BeforeToolCallHook runs once per pending tool call before dispatch.
type BeforeToolCallHook func(ctx context.Context, auth model.AuthContext, call model.AssistantBlock) (ToolCallDecision, error)

// ToolResultDecision is what an AfterToolCall hook returns for one
// completed tool result: it may replace the content or force an error.
type ToolResultDecision struct {
	ReplaceContent *string
	ForceError     bool
	ForceErrorType string
}

// AfterToolCallHook runs once per completed tool call.
type AfterToolCallHook func(ctx context.Context, auth model.AuthContext, call model.AssistantBlock, result *model.ToolResult) (ToolResultDecision, error)

// Hooks bundles the three hook points the loop consults. Any slice may be
// nil; hooks run in order and the first Block decision wins.
type Hooks struct {
	BeforeLLMCall  []BeforeLLMCallHook
	BeforeToolCall []BeforeToolCallHook
	AfterToolCall  []AfterToolCallHook
}

func (h Hooks) runBeforeLLMCall(ctx context.Context, st *State) (LLMCallDecision, error) {
	for _, hook := range h.BeforeLLMCall {
		decision, err := hook(ctx, st)
		if err != nil {
			return LLMCallDecision{}, err
		}
		if decision.Block {
			return decision, nil
		}
		if decision.SystemPromptPatch != "" {
			st.systemPromptPatches = append(st.systemPromptPatches, decision.SystemPromptPatch)
		}
	}
	return LLMCallDecision{}, nil
}

func (h Hooks) runBeforeToolCall(ctx context.Context, auth model.AuthContext, call model.AssistantBlock) (ToolCallDecision, error) {
	decision := ToolCallDecision{}
	for _, hook := range h.BeforeToolCall {
		d, err := hook(ctx, auth, call)
		if err != nil {
			return ToolCallDecision{}, err
		}
		if d.Block {
			return d, nil
		}
		if d.PatchedInput != nil {
			decision.PatchedInput = d.PatchedInput
			call.Input = d.PatchedInput
		}
	}
	return decision, nil
}

func (h Hooks) runAfterToolCall(ctx context.Context, auth model.AuthContext, call model.AssistantBlock, result *model.ToolResult) (*model.ToolResult, error) {
	for _, hook := range h.AfterToolCall {
		d, err := hook(ctx, auth, call, result)
		if err != nil {
			return nil, err
		}
		if d.ReplaceContent != nil {
			result.Content = *d.ReplaceContent
		}
		if d.ForceError {
			result.IsError = true
			if d.ForceErrorType != "" {
				result.ErrorType = d.ForceErrorType
			}
		}
	}
	return result, nil
}
