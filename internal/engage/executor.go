package engage

import "sync"

// ExecutorMetrics tracks a loop's tool dispatch counters: how many tool
// calls ran and how many errored, summed over every focus the loop runs. There is no retry/timeout/panic
// bookkeeping: a tool error here is data fed back to the model, not a
// dispatch-level retry.
type ExecutorMetrics struct {
	mu              sync.Mutex
	totalExecutions int64
	totalFailures   int64
}

// ExecutorMetricsSnapshot is an immutable point-in-time copy of
// ExecutorMetrics, safe to serialize for the status endpoint.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64 `json:"total_executions"`
	TotalFailures   int64 `json:"total_failures"`
}

func (m *ExecutorMetrics) recordExecution() {
	m.mu.Lock()
	m.totalExecutions++
	m.mu.Unlock()
}

func (m *ExecutorMetrics) recordFailure() {
	m.mu.Lock()
	m.totalFailures++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *ExecutorMetrics) Snapshot() ExecutorMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: m.totalExecutions,
		TotalFailures:   m.totalFailures,
	}
}
