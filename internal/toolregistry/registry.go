// Package toolregistry maps tool name to executor. Engine tools are always
// registered; faculty tools are merged in per-focus. Execution is
// size-bounded so one oversized tool call can't exhaust the process.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/animus-run/animus/pkg/model"
)

// ExecutionRecorder receives one observation per tool execution. It is the
// seam internal/observability.Metrics.RecordToolExecution is wired through,
// kept as a narrow interface here so this package never imports
// internal/observability directly.
type ExecutionRecorder interface {
	RecordToolExecution(toolName, status string, durationSeconds float64)
}

// Resource-exhaustion guards applied before any tool runs.
const (
	MaxToolNameLength = 256
	MaxInputSize      = 10 << 20
)

// Registry is a thread-safe name -> model.Tool map.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]model.Tool
	recorder ExecutionRecorder
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]model.Tool)}
}

// WithMetrics attaches an ExecutionRecorder so every Execute call reports
// its name/status/duration. Returns the registry for chaining.
func (r *Registry) WithMetrics(rec ExecutionRecorder) *Registry {
	r.recorder = rec
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t model.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (model.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Definitions returns the wire-level ToolDefinition for a subset of
// registered tools, in the order names is given. Unknown names are skipped.
func (r *Registry) Definitions(names []string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, model.Definition(t))
		}
	}
	return out
}

// Execute validates name/input size, looks up the tool, and runs it. Unknown
// names produce an error result with ErrorType = unknown_tool rather than a
// Go error: a lookup miss is tool-call data, not a loop failure.
func (r *Registry) Execute(ctx context.Context, name string, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &model.ToolResult{Content: fmt.Sprintf("tool name exceeds %d characters", MaxToolNameLength), IsError: true, ErrorType: model.ErrUnknownTool}, nil
	}
	if len(input) > MaxInputSize {
		return &model.ToolResult{Content: fmt.Sprintf("tool input exceeds %d bytes", MaxInputSize), IsError: true, ErrorType: "input_too_large"}, nil
	}

	t, ok := r.Get(name)
	if !ok {
		if r.recorder != nil {
			r.recorder.RecordToolExecution(name, "error", 0)
		}
		return &model.ToolResult{
			Content:   fmt.Sprintf("unknown tool %q", name),
			IsError:   true,
			ErrorType: model.ErrUnknownTool,
		}, nil
	}

	start := time.Now()
	result, err := t.Execute(ctx, auth, input)
	if r.recorder != nil {
		status := "success"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}
		r.recorder.RecordToolExecution(name, status, time.Since(start).Seconds())
	}
	return result, err
}
