package engage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	exectools "github.com/animus-run/animus/internal/exec"
	"github.com/animus-run/animus/pkg/model"
)

// Environment variable names every engage hook subprocess receives. The
// phase hooks' ANIMUS_* contract continues here; engage hooks add the
// event name since one script may serve several hook points.
const (
	envHookEvent = "ANIMUS_HOOK_EVENT"
	envWorkID    = "ANIMUS_WORK_ID"
	envFaculty   = "ANIMUS_FACULTY"
)

const defaultScriptHookTimeout = 30 * time.Second

// llmCallEvent is the stdin payload for a before_llm_call hook.
type llmCallEvent struct {
	Event        string `json:"event"`
	WorkItemID   string `json:"work_item_id"`
	Faculty      string `json:"faculty"`
	MessageCount int    `json:"message_count"`
}

// llmCallReply is the stdout decision for a before_llm_call hook.
type llmCallReply struct {
	Action            string `json:"action"` // "allow" (default) or "block"
	Reason            string `json:"reason,omitempty"`
	SystemPromptPatch string `json:"system_prompt_patch,omitempty"`
}

// toolCallEvent is the stdin payload for a before_tool_call hook.
type toolCallEvent struct {
	Event      string          `json:"event"`
	WorkItemID string          `json:"work_item_id"`
	Faculty    string          `json:"faculty"`
	ToolUseID  string          `json:"tool_use_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input"`
}

// toolCallReply is the stdout decision for a before_tool_call hook.
type toolCallReply struct {
	Action       string          `json:"action"` // "allow" (default) or "block"
	Reason       string          `json:"reason,omitempty"`
	PatchedInput json.RawMessage `json:"patched_input,omitempty"`
}

// toolResultEvent is the stdin payload for an after_tool_call hook.
type toolResultEvent struct {
	Event      string `json:"event"`
	WorkItemID string `json:"work_item_id"`
	Faculty    string `json:"faculty"`
	ToolUseID  string `json:"tool_use_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
	ErrorType  string `json:"error_type,omitempty"`
}

// toolResultReply is the stdout decision for an after_tool_call hook.
type toolResultReply struct {
	ReplaceContent *string `json:"replace_content,omitempty"`
	ForceError     bool    `json:"force_error,omitempty"`
	ForceErrorType string  `json:"force_error_type,omitempty"`
}

// ScriptHooks builds the loop's Hooks from a faculty's configured hook
// scripts, one subprocess invocation per script per event. Commands are
// validated up front so a bad faculty file fails at startup, not on the
// first mid-focus hook firing. An empty config yields zero-valued Hooks.
func ScriptHooks(cfg model.EngageHooksConfig, faculty string) (Hooks, error) {
	if cfg.Empty() {
		return Hooks{}, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScriptHookTimeout
	}

	var hooks Hooks
	for _, raw := range cfg.BeforeLLMCall {
		command, err := exectools.SanitizeCommand(raw)
		if err != nil {
			return Hooks{}, fmt.Errorf("before_llm_call hook %q: %w", raw, err)
		}
		hooks.BeforeLLMCall = append(hooks.BeforeLLMCall, beforeLLMCallScript(command, faculty, timeout))
	}
	for _, raw := range cfg.BeforeToolCall {
		command, err := exectools.SanitizeCommand(raw)
		if err != nil {
			return Hooks{}, fmt.Errorf("before_tool_call hook %q: %w", raw, err)
		}
		hooks.BeforeToolCall = append(hooks.BeforeToolCall, beforeToolCallScript(command, faculty, timeout))
	}
	for _, raw := range cfg.AfterToolCall {
		command, err := exectools.SanitizeCommand(raw)
		if err != nil {
			return Hooks{}, fmt.Errorf("after_tool_call hook %q: %w", raw, err)
		}
		hooks.AfterToolCall = append(hooks.AfterToolCall, afterToolCallScript(command, faculty, timeout))
	}
	return hooks, nil
}

func beforeLLMCallScript(command, faculty string, timeout time.Duration) BeforeLLMCallHook {
	return func(ctx context.Context, st *State) (LLMCallDecision, error) {
		event := llmCallEvent{
			Event:        "before_llm_call",
			WorkItemID:   st.WorkItemID,
			Faculty:      faculty,
			MessageCount: len(st.Messages),
		}
		var reply llmCallReply
		if err := runHookScript(ctx, command, timeout, event, st.WorkItemID, faculty, &reply); err != nil {
			return LLMCallDecision{}, err
		}
		return LLMCallDecision{
			Block:             reply.Action == "block",
			BlockReason:       reply.Reason,
			SystemPromptPatch: reply.SystemPromptPatch,
		}, nil
	}
}

func beforeToolCallScript(command, faculty string, timeout time.Duration) BeforeToolCallHook {
	return func(ctx context.Context, auth model.AuthContext, call model.AssistantBlock) (ToolCallDecision, error) {
		event := toolCallEvent{
			Event:      "before_tool_call",
			WorkItemID: auth.WorkItemID,
			Faculty:    faculty,
			ToolUseID:  call.ID,
			ToolName:   call.Name,
			Input:      call.Input,
		}
		var reply toolCallReply
		if err := runHookScript(ctx, command, timeout, event, auth.WorkItemID, faculty, &reply); err != nil {
			return ToolCallDecision{}, err
		}
		return ToolCallDecision{
			Block:        reply.Action == "block",
			BlockReason:  reply.Reason,
			PatchedInput: reply.PatchedInput,
		}, nil
	}
}

func afterToolCallScript(command, faculty string, timeout time.Duration) AfterToolCallHook {
	return func(ctx context.Context, auth model.AuthContext, call model.AssistantBlock, result *model.ToolResult) (ToolResultDecision, error) {
		event := toolResultEvent{
			Event:      "after_tool_call",
			WorkItemID: auth.WorkItemID,
			Faculty:    faculty,
			ToolUseID:  call.ID,
			ToolName:   call.Name,
			Content:    result.Content,
			IsError:    result.IsError,
			ErrorType:  result.ErrorType,
		}
		var reply toolResultReply
		if err := runHookScript(ctx, command, timeout, event, auth.WorkItemID, faculty, &reply); err != nil {
			return ToolResultDecision{}, err
		}
		return ToolResultDecision{
			ReplaceContent: reply.ReplaceContent,
			ForceError:     reply.ForceError,
			ForceErrorType: reply.ForceErrorType,
		}, nil
	}
}

// runHookScript launches command with the event JSON on stdin and decodes
// its stdout into reply. An empty stdout means "allow unchanged" and
// leaves reply zero-valued.
func runHookScript(ctx context.Context, command string, timeout time.Duration, event any, workItemID, faculty string, reply any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal hook event: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		envHookEvent+"="+eventName(event),
		envWorkID+"="+workItemID,
		envFaculty+"="+faculty,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook %s timed out after %s", command, timeout)
		}
		return fmt.Errorf("hook %s failed: %v (stderr: %s)", command, err, stderr.String())
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil
	}
	if err := json.Unmarshal(out, reply); err != nil {
		return fmt.Errorf("hook %s produced invalid decision JSON: %w", command, err)
	}
	return nil
}

func eventName(event any) string {
	switch e := event.(type) {
	case llmCallEvent:
		return e.Event
	case toolCallEvent:
		return e.Event
	case toolResultEvent:
		return e.Event
	default:
		return ""
	}
}
