package enginetools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// DefaultMaxDepth bounds the parent_id chain spawn_child_work will allow.
const DefaultMaxDepth = 5

// SpawnChildWorkTool creates a new work item with parent_id set to the
// calling work item, rejecting submissions that would exceed MaxDepth.
type SpawnChildWorkTool struct {
	Store    store.Store
	MaxDepth int
}

func (t *SpawnChildWorkTool) depthLimit() int {
	if t.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return t.MaxDepth
}

func (t *SpawnChildWorkTool) Name() string { return "spawn_child_work" }
func (t *SpawnChildWorkTool) Description() string {
	return "Create a child work item routed to a faculty. Returns the new work item id."
}
func (t *SpawnChildWorkTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"faculty": {"type": "string"},
			"description": {"type": "string"},
			"params": {"type": "object"},
			"priority": {"type": "integer"}
		},
		"required": ["faculty", "description"]
	}`)
}

func (t *SpawnChildWorkTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		Faculty     string         `json:"faculty"`
		Description string         `json:"description"`
		Params      map[string]any `json:"params,omitempty"`
		Priority    int            `json:"priority,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("spawn_child_work: invalid input: %v", err)
	}
	if params.Faculty == "" || params.Description == "" {
		return nil, animuserr.Validation("spawn_child_work: faculty and description are required")
	}

	depth, err := t.ancestryDepth(ctx, auth.WorkItemID)
	if err != nil {
		return nil, err
	}
	// An item AT the max depth may exist; it just cannot spawn further,
	// so reject only when the child would land beyond the limit.
	if depth >= t.depthLimit() {
		return &model.ToolResult{
			IsError:   true,
			ErrorType: "depth_limit_exceeded",
			Content:   fmt.Sprintf("spawning would exceed max ancestry depth %d", t.depthLimit()),
		}, nil
	}

	merged := map[string]any{"description": params.Description}
	for k, v := range params.Params {
		merged[k] = v
	}

	child := &model.WorkItem{
		ID:       uuid.NewString(),
		Faculty:  params.Faculty,
		Params:   merged,
		ParentID: auth.WorkItemID,
		Priority: params.Priority,
		Provenance: model.Provenance{
			Source:  "spawn_child_work",
			Trigger: auth.WorkItemID,
		},
		MaxAttempts: 3,
	}

	result, err := t.Store.Submit(ctx, child)
	if animuserr.IsConflict(err) {
		result, err = t.Store.Submit(ctx, child)
	}
	if err != nil {
		return nil, err
	}
	return &model.ToolResult{
		Content:  fmt.Sprintf("spawned child work item %s in faculty %q", result.Item.ID, params.Faculty),
		Metadata: map[string]any{"work_item_id": result.Item.ID},
	}, nil
}

// ancestryDepth walks parent_id up to the root, counting hops.
func (t *SpawnChildWorkTool) ancestryDepth(ctx context.Context, id string) (int, error) {
	depth := 0
	current := id
	for current != "" {
		item, err := t.Store.Get(ctx, current)
		if err != nil {
			return 0, err
		}
		if item.ParentID == "" {
			break
		}
		depth++
		current = item.ParentID
		if depth > 1000 {
			return depth, animuserr.Validation("ancestry chain exceeds sane bound; possible cycle")
		}
	}
	return depth, nil
}

// AwaitChildWorkTool blocks (cooperatively, honoring ctx) until every
// listed child reaches a terminal state, or the timeout elapses.
type AwaitChildWorkTool struct {
	Store  store.Store
	Ledger ledger.Store
}

func (t *AwaitChildWorkTool) Name() string { return "await_child_work" }
func (t *AwaitChildWorkTool) Description() string {
	return "Wait for listed child work items to reach a terminal state, returning each child's outcome and ledger summary."
}
func (t *AwaitChildWorkTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"ids": {"type": "array", "items": {"type": "string"}},
			"timeout_seconds": {"type": "integer", "minimum": 1}
		},
		"required": ["ids"]
	}`)
}

type childOutcome struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Summary string `json:"ledger_summary,omitempty"`
}

func (t *AwaitChildWorkTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		IDs            []string `json:"ids"`
		TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("await_child_work: invalid input: %v", err)
	}
	if len(params.IDs) == 0 {
		return &model.ToolResult{Content: "[]"}, nil
	}

	timeout := 5 * time.Minute
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	deadline := time.After(timeout)

	pending := make(map[string]bool, len(params.IDs))
	for _, id := range params.IDs {
		pending[id] = true
	}

	ch, unsubscribe := t.Store.Subscribe()
	defer unsubscribe()

	// A child may have already finished before Subscribe was called; check
	// once up front before waiting on new notifications.
	t.resolveFinished(ctx, pending)
	if len(pending) == 0 {
		return t.finalResult(ctx, params.IDs)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, animuserr.Cancelled("await_child_work cancelled")
		case <-deadline:
			var still []string
			for id := range pending {
				still = append(still, id)
			}
			return &model.ToolResult{
				IsError:   true,
				ErrorType: "timeout",
				Content:   fmt.Sprintf("timed out waiting for: %s", strings.Join(still, ", ")),
				Metadata:  map[string]any{"still_running": still},
			}, nil
		case id, ok := <-ch:
			if !ok {
				return t.finalResult(ctx, params.IDs)
			}
			if pending[id] {
				delete(pending, id)
			}
			if len(pending) == 0 {
				return t.finalResult(ctx, params.IDs)
			}
		}
	}
}

func (t *AwaitChildWorkTool) resolveFinished(ctx context.Context, pending map[string]bool) {
	for id := range pending {
		item, err := t.Store.Get(ctx, id)
		if err == nil && item.State.Terminal() {
			delete(pending, id)
		}
	}
}

func (t *AwaitChildWorkTool) finalResult(ctx context.Context, ids []string) (*model.ToolResult, error) {
	outcomes := make([]childOutcome, 0, len(ids))
	for _, id := range ids {
		item, err := t.Store.Get(ctx, id)
		if err != nil {
			outcomes = append(outcomes, childOutcome{ID: id, Error: err.Error()})
			continue
		}
		summary, _ := t.Ledger.ReadFormatted(ctx, id)
		outcomes = append(outcomes, childOutcome{
			ID:      id,
			State:   string(item.State),
			Data:    item.OutcomeData,
			Error:   item.OutcomeError,
			Summary: summary,
		})
	}
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("marshal child outcomes: %w", err)
	}
	return &model.ToolResult{Content: string(encoded)}, nil
}

// CheckChildWorkTool is the non-blocking counterpart to AwaitChildWorkTool:
// it reports current state and, for still-running children, their most
// recent ledger entries.
type CheckChildWorkTool struct {
	Store  store.Store
	Ledger ledger.Store
}

func (t *CheckChildWorkTool) Name() string { return "check_child_work" }
func (t *CheckChildWorkTool) Description() string {
	return "Report the current state of listed child work items without blocking."
}
func (t *CheckChildWorkTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"ids": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["ids"]
	}`)
}

func (t *CheckChildWorkTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("check_child_work: invalid input: %v", err)
	}

	lastN := 5
	outcomes := make([]childOutcome, 0, len(params.IDs))
	for _, id := range params.IDs {
		item, err := t.Store.Get(ctx, id)
		if err != nil {
			outcomes = append(outcomes, childOutcome{ID: id, Error: err.Error()})
			continue
		}
		oc := childOutcome{ID: id, State: string(item.State), Data: item.OutcomeData, Error: item.OutcomeError}
		if !item.State.Terminal() {
			entries, err := t.Ledger.Read(ctx, id, nil, &lastN)
			if err == nil {
				oc.Summary = ledger.FormatEntries(entries)
			}
		}
		outcomes = append(outcomes, oc)
	}
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("marshal child states: %w", err)
	}
	return &model.ToolResult{Content: string(encoded)}, nil
}
