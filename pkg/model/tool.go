package model

import (
	"context"
	"encoding/json"
)

// AuthContext carries the identity under which a tool call executes: the
// work item and focus it belongs to, so engine tools (ledger, child work,
// skills) can scope themselves without threading extra parameters through
// every call site.
type AuthContext struct {
	WorkItemID string
	FocusID    string
	Faculty    string
}

// ToolResult is what a tool execution (direct or sandbox-mediated) returns.
type ToolResult struct {
	Content   string
	IsError   bool
	ErrorType string
	Metadata  map[string]any
}

// ErrUnknownTool is the ErrorType used when the registry has no tool by
// the requested name.
const ErrUnknownTool = "unknown_tool"

// Tool is one callable capability exposed to the engage loop, whether a
// faculty-declared tool or a built-in engine tool.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, auth AuthContext, input json.RawMessage) (*ToolResult, error)
}

// Definition converts a Tool to the wire-level ToolDefinition sent to the
// LLM client.
func Definition(t Tool) ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}
