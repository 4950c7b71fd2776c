// Package enginetools implements the engine tools every focus gets for
// free alongside its faculty's declared tools: ledger access, child work
// spawning/awaiting, skill discovery/activation/creation, and (when a
// faculty opts in) sandboxed code execution. One struct per tool; Build
// aggregates them over a shared Deps bundle.
package enginetools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/pkg/model"
)

// LedgerAppendMetrics is the narrow interface LedgerAppendTool records
// through, satisfied by *internal/observability.Metrics.
type LedgerAppendMetrics interface {
	RecordLedgerAppend(faculty, entryType string)
}

// LedgerAppendTool appends one entry to the calling work item's ledger.
type LedgerAppendTool struct {
	Store   ledger.Store
	Metrics LedgerAppendMetrics
}

func (t *LedgerAppendTool) Name() string        { return "ledger_append" }
func (t *LedgerAppendTool) Description() string { return "Append an entry to the current work item's ledger. A step entry closes the current context block." }
func (t *LedgerAppendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"entry_type": {"type": "string", "enum": ["plan", "finding", "decision", "step", "error", "note"]},
			"content": {"type": "string"}
		},
		"required": ["entry_type", "content"]
	}`)
}

func (t *LedgerAppendTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		EntryType model.EntryType `json:"entry_type"`
		Content   string          `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("ledger_append: invalid input: %v", err)
	}
	if !model.ValidEntryType(params.EntryType) {
		return &model.ToolResult{IsError: true, ErrorType: "invalid_entry_type", Content: fmt.Sprintf("unknown entry_type %q", params.EntryType)}, nil
	}

	entry, err := t.Store.Append(ctx, auth.WorkItemID, params.EntryType, params.Content)
	if err != nil {
		return nil, err
	}
	if t.Metrics != nil {
		t.Metrics.RecordLedgerAppend(auth.Faculty, string(entry.EntryType))
	}
	return &model.ToolResult{
		Content:  fmt.Sprintf("appended %s entry, seq=%d", entry.EntryType, entry.Seq),
		Metadata: map[string]any{"seq": entry.Seq},
	}, nil
}

// LedgerReadTool reads the calling work item's ledger, optionally filtered
// and/or limited to the last N entries, as a formatted string.
type LedgerReadTool struct {
	Store ledger.Store
}

func (t *LedgerReadTool) Name() string        { return "ledger_read" }
func (t *LedgerReadTool) Description() string { return "Read the current work item's ledger as a formatted summary, optionally filtered by entry type or limited to the last N entries." }
func (t *LedgerReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"entry_type": {"type": "string", "enum": ["plan", "finding", "decision", "step", "error", "note"]},
			"last_n": {"type": "integer", "minimum": 1}
		}
	}`)
}

func (t *LedgerReadTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		EntryType *model.EntryType `json:"entry_type,omitempty"`
		LastN     *int             `json:"last_n,omitempty"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return nil, animuserr.Validation("ledger_read: invalid input: %v", err)
		}
	}
	if params.EntryType != nil && !model.ValidEntryType(*params.EntryType) {
		return &model.ToolResult{IsError: true, ErrorType: "invalid_entry_type", Content: fmt.Sprintf("unknown entry_type %q", *params.EntryType)}, nil
	}

	if params.EntryType != nil || params.LastN != nil {
		entries, err := t.Store.Read(ctx, auth.WorkItemID, params.EntryType, params.LastN)
		if err != nil {
			return nil, err
		}
		return &model.ToolResult{Content: ledger.FormatEntries(entries)}, nil
	}

	formatted, err := t.Store.ReadFormatted(ctx, auth.WorkItemID)
	if err != nil {
		return nil, err
	}
	return &model.ToolResult{Content: formatted}, nil
}
