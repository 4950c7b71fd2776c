package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting control-plane,
// engage-loop, and LLM-client metrics for a running animus instance.
//
// The metrics system is built on Prometheus and tracks:
//   - Work item flow through the durable queue (submit, claim, terminal state)
//   - Control-plane dispatch latency and active-focus concurrency
//   - Engage-loop iteration counts and emergency-summarization fallbacks
//   - LLM request performance, token usage, and tool execution latency
//   - Errors categorized by component and animuserr taxonomy kind
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.WorkItemSubmitted("social", "created")
//	defer metrics.RecordLLMRequest("claude-sonnet-4-20250514", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// QueueDepth tracks the number of visible (claimable) messages per
	// faculty queue, as set through SetQueueDepth; no engine component
	// calls SetQueueDepth.
	// Labels: faculty
	QueueDepth *prometheus.GaugeVec

	// WorkItemsSubmitted counts submit() calls by faculty and outcome.
	// Labels: faculty, outcome (created|merged)
	WorkItemsSubmitted *prometheus.CounterVec

	// WorkItemsClaimed counts successful claim() calls by faculty.
	// Labels: faculty
	WorkItemsClaimed *prometheus.CounterVec

	// WorkItemsTerminal counts terminal transitions by faculty and state.
	// Labels: faculty, state (completed|failed|dead|merged)
	WorkItemsTerminal *prometheus.CounterVec

	// UnroutableWork gauges queued work items whose faculty name has no
	// matching configuration; they stay queued until an operator adds the
	// faculty.
	// Labels: faculty
	UnroutableWork *prometheus.GaugeVec

	// ActiveFoci is a gauge of currently running foci, raised by
	// FocusStarted and lowered by FocusEnded as the control plane launches
	// and finishes each focus.
	// Labels: faculty
	ActiveFoci *prometheus.GaugeVec

	// DispatchLatency measures time from queue wake signal to focus launch.
	// Labels: faculty
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	DispatchLatency *prometheus.HistogramVec

	// FocusDuration measures one focus's full Orient->terminal wall time.
	// Labels: faculty, outcome (completed|failed|recovered)
	// Buckets: 1s, 5s, 15s, 30s, 60s, 300s, 900s, 3600s
	FocusDuration *prometheus.HistogramVec

	// EngageIterations counts engage-loop iterations completed per focus.
	// Labels: faculty
	EngageIterations *prometheus.HistogramVec

	// EmergencySummarizations counts the engage loop's last-resort LLM
	// summarization fallback during compaction, when closed-block
	// truncation alone cannot fit the context window.
	// Labels: faculty
	EmergencySummarizations *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by model and status.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and outcome.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// SandboxRuns counts execute_code invocations by outcome.
	// Labels: status (success|error|timeout)
	SandboxRuns *prometheus.CounterVec

	// LedgerAppends counts ledger_append tool calls by entry type.
	// Labels: faculty, entry_type
	LedgerAppends *prometheus.CounterVec

	// AwarenessAssemblyFailures counts non-fatal awareness digest assembly
	// errors, which degrade a focus's Orient context but do not block it.
	AwarenessAssemblyFailures prometheus.Counter

	// ErrorCounter tracks errors by component and animuserr.Kind.
	// Labels: component, error_kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics against the default registry.
// This should be called once at application startup; the collectors then
// surface through the serve command's /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the metrics against a caller-supplied registerer,
// letting tests use an isolated prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "animus_queue_depth",
				Help: "Visible (claimable) queue messages per faculty",
			},
			[]string{"faculty"},
		),

		WorkItemsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_work_items_submitted_total",
				Help: "Total work items submitted, by faculty and outcome",
			},
			[]string{"faculty", "outcome"},
		),

		WorkItemsClaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_work_items_claimed_total",
				Help: "Total work items claimed by the control plane, by faculty",
			},
			[]string{"faculty"},
		),

		WorkItemsTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_work_items_terminal_total",
				Help: "Total terminal transitions, by faculty and resulting state",
			},
			[]string{"faculty", "state"},
		),

		UnroutableWork: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "animus_unroutable_work",
				Help: "Queued work items whose faculty has no matching configuration",
			},
			[]string{"faculty"},
		),

		ActiveFoci: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "animus_active_foci",
				Help: "Currently running foci, by faculty",
			},
			[]string{"faculty"},
		),

		DispatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animus_dispatch_latency_seconds",
				Help:    "Time from queue wake signal to focus launch",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"faculty"},
		),

		FocusDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animus_focus_duration_seconds",
				Help:    "Wall time of one focus from Orient through its terminal outcome",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
			},
			[]string{"faculty", "outcome"},
		),

		EngageIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animus_engage_iterations",
				Help:    "Engage-loop iterations completed per focus",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"faculty"},
		),

		EmergencySummarizations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_emergency_summarizations_total",
				Help: "Emergency LLM summarization fallbacks during context compaction",
			},
			[]string{"faculty"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animus_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_llm_requests_total",
				Help: "Total number of LLM requests by model and status",
			},
			[]string{"model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_llm_tokens_total",
				Help: "Total number of tokens used by model and direction",
			},
			[]string{"model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animus_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		SandboxRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_sandbox_runs_total",
				Help: "Total execute_code sandbox runs by outcome",
			},
			[]string{"status"},
		),

		LedgerAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_ledger_appends_total",
				Help: "Total ledger entries appended, by faculty and entry type",
			},
			[]string{"faculty", "entry_type"},
		),

		AwarenessAssemblyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "animus_awareness_assembly_failures_total",
				Help: "Non-fatal awareness digest assembly failures",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animus_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),
	}
}

// WorkItemSubmitted records a submit() call outcome.
//
// Example:
//
//	metrics.WorkItemSubmitted("social", "created")
//	metrics.WorkItemSubmitted("social", "merged")
func (m *Metrics) WorkItemSubmitted(faculty, outcome string) {
	m.WorkItemsSubmitted.WithLabelValues(faculty, outcome).Inc()
}

// WorkItemClaimed records a successful claim() call.
func (m *Metrics) WorkItemClaimed(faculty string) {
	m.WorkItemsClaimed.WithLabelValues(faculty).Inc()
}

// WorkItemTerminal records a work item reaching a terminal state.
//
// Example:
//
//	metrics.WorkItemTerminal("social", "completed")
//	metrics.WorkItemTerminal("social", "dead")
func (m *Metrics) WorkItemTerminal(faculty, state string) {
	m.WorkItemsTerminal.WithLabelValues(faculty, state).Inc()
}

// SetUnroutableWork records how many queued items currently name an
// unconfigured faculty.
func (m *Metrics) SetUnroutableWork(faculty string, n int) {
	m.UnroutableWork.WithLabelValues(faculty).Set(float64(n))
}

// FocusStarted increments the active-foci gauge for a faculty.
func (m *Metrics) FocusStarted(faculty string) {
	m.ActiveFoci.WithLabelValues(faculty).Inc()
}

// FocusEnded decrements the active-foci gauge and records the focus's total
// duration and dispatch outcome.
//
// Example:
//
//	start := time.Now()
//	// ... run focus ...
//	metrics.FocusEnded("social", "completed", start)
func (m *Metrics) FocusEnded(faculty, outcome string, start time.Time) {
	m.ActiveFoci.WithLabelValues(faculty).Dec()
	m.FocusDuration.WithLabelValues(faculty, outcome).Observe(time.Since(start).Seconds())
}

// RecordDispatchLatency records the time between a queue wake signal and the
// control plane launching a focus in response to it.
func (m *Metrics) RecordDispatchLatency(faculty string, d time.Duration) {
	m.DispatchLatency.WithLabelValues(faculty).Observe(d.Seconds())
}

// RecordEngageIterations records how many engage-loop iterations one focus
// completed before returning a result.
func (m *Metrics) RecordEngageIterations(faculty string, iterations int) {
	m.EngageIterations.WithLabelValues(faculty).Observe(float64(iterations))
}

// RecordEmergencySummarization records a compaction fallback to an emergency
// LLM summarization call.
func (m *Metrics) RecordEmergencySummarization(faculty string) {
	m.EmergencySummarizations.WithLabelValues(faculty).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("claude-sonnet-4-20250514", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("ledger_append", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordSandboxRun records an execute_code sandbox run outcome.
func (m *Metrics) RecordSandboxRun(status string) {
	m.SandboxRuns.WithLabelValues(status).Inc()
}

// RecordLedgerAppend records one ledger entry append.
func (m *Metrics) RecordLedgerAppend(faculty, entryType string) {
	m.LedgerAppends.WithLabelValues(faculty, entryType).Inc()
}

// RecordAwarenessAssemblyFailure records a non-fatal digest assembly error.
func (m *Metrics) RecordAwarenessAssemblyFailure() {
	m.AwarenessAssemblyFailures.Inc()
}

// RecordError increments the error counter for a given component and
// animuserr.Kind.
//
// Example:
//
//	metrics.RecordError("engage", "rate_limited")
//	metrics.RecordError("controlplane", "not_found")
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// SetQueueDepth sets the current visible queue depth for a faculty.
func (m *Metrics) SetQueueDepth(faculty string, depth int) {
	m.QueueDepth.WithLabelValues(faculty).Set(float64(depth))
}
