// Package observability provides metrics, structured logging, and
// distributed tracing for an animus instance.
//
// # Metrics
//
// Metrics are Prometheus collectors registered via promauto and track:
//   - Work item flow through the durable queue (submit, claim, terminal state)
//   - Control-plane dispatch latency and active-focus concurrency per faculty
//   - Engage-loop iteration counts and emergency-summarization fallbacks
//   - LLM API request latency and token usage
//   - Tool execution performance
//   - Error rates by component and animuserr.Kind
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.WorkItemSubmitted("social", "created")
//	metrics.WorkItemClaimed("social")
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("claude-sonnet-4-20250514", "success",
//	    time.Since(start).Seconds(), inputTokens, outputTokens)
//
// The serve command exposes everything on /metrics.
//
// # Logging
//
// Logging is plain log/slog. NewLogger builds the process-level handler
// (JSON in production, text for development) from LOG_LEVEL; components
// scope it with With("component", ...) and the focus runner adds focus
// correlation fields via WithFocus:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  os.Getenv("LOG_LEVEL"),
//	    Format: "json",
//	})
//	focusLog := observability.WithFocus(logger, focusID, item.ID, item.Faculty)
//	focusLog.Info("claimed work item", "attempts", item.Attempts)
//
// # Tracing
//
// Tracing is OpenTelemetry with an OTLP gRPC exporter, enabled only when
// OTEL_ENDPOINT is set; otherwise spans are no-ops and cost nothing.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "animus",
//	    ServiceVersion: version,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.StartPhase(ctx, "engage", focusID, item.ID, item.Faculty)
//	defer span.End()
//
// Span helpers: StartPhase, StartLLMRequest, StartToolExecution,
// StartStoreOp. The engine itself calls only StartPhase, from the focus
// runner. RecordError marks a span failed and is a no-op on nil errors.
//
// # Dashboard queries
//
//	# Work item throughput
//	rate(animus_work_items_submitted_total[5m])
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(animus_llm_request_duration_seconds_bucket[5m]))
//
//	# Active foci
//	animus_active_foci
//
// Recommended alerts: a growing animus_unroutable_work gauge (work queued
// for a faculty nothing serves), animus_errors_total above threshold, and
// animus_active_foci pinned at the configured concurrency cap.
package observability
