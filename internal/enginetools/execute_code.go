package enginetools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/sandbox"
	"github.com/animus-run/animus/pkg/model"
)

// ExecuteCodeTool hands code to the sandbox and returns the value the
// code explicitly submitted via the staged SDK's result() call as the
// tool result content; process output is carried only in metadata. Only
// registered for faculties with code_execution = true.
type ExecuteCodeTool struct {
	Sandbox *sandbox.Sandbox

	// Invoker routes SDK-initiated tool calls from inside the container
	// back through the engage loop's hook pipeline and registry.
	Invoker sandbox.ToolInvoker
}

func (t *ExecuteCodeTool) Name() string { return "execute_code" }
func (t *ExecuteCodeTool) Description() string {
	return "Run a short script in an isolated sandbox. The script may call engine tools through the staged animus SDK and must submit its result with the SDK's result() call; that value becomes this tool's output."
}
func (t *ExecuteCodeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"language": {"type": "string", "enum": ["python", "nodejs", "go", "bash"]},
			"code": {"type": "string"},
			"timeout_seconds": {"type": "integer", "minimum": 1}
		},
		"required": ["language", "code"]
	}`)
}

func (t *ExecuteCodeTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		Language       string `json:"language"`
		Code           string `json:"code"`
		TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("execute_code: invalid input: %v", err)
	}

	var timeout time.Duration
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}

	result, err := t.Sandbox.Run(ctx, sandbox.Params{
		Language: params.Language,
		Code:     params.Code,
		Timeout:  timeout,
		Invoke:   t.Invoker,
		Auth:     auth,
	})
	if err != nil {
		if animuserr.IsValidation(err) {
			return &model.ToolResult{IsError: true, ErrorType: "invalid_language", Content: err.Error()}, nil
		}
		return nil, err
	}

	metadata := map[string]any{
		"exit_code": result.ExitCode,
		"timeout":   result.Timeout,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
	}

	switch {
	case result.Timeout:
		return &model.ToolResult{IsError: true, ErrorType: "timeout", Content: "execution timeout", Metadata: metadata}, nil
	case result.Error != "":
		return &model.ToolResult{IsError: true, ErrorType: "execution_failed", Content: result.Error, Metadata: metadata}, nil
	case result.ExitCode != 0:
		content := strings.TrimSpace(result.Stderr)
		if content == "" {
			content = fmt.Sprintf("exited with code %d", result.ExitCode)
		}
		return &model.ToolResult{IsError: true, ErrorType: "execution_failed", Content: content, Metadata: metadata}, nil
	case result.HasReturn:
		return &model.ToolResult{Content: result.ReturnValue, Metadata: metadata}, nil
	default:
		return &model.ToolResult{Content: "(no return value submitted)", Metadata: metadata}, nil
	}
}
