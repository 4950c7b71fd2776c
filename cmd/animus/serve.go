package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/animus-run/animus/internal/awareness"
	"github.com/animus-run/animus/internal/config"
	"github.com/animus-run/animus/internal/controlplane"
	"github.com/animus-run/animus/internal/engage"
	"github.com/animus-run/animus/internal/enginetools"
	"github.com/animus-run/animus/internal/focus"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/sandbox"
	"github.com/animus-run/animus/internal/skillsys"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/internal/toolregistry"
	"github.com/animus-run/animus/pkg/model"
)

func buildServeCmd() *cobra.Command {
	var (
		httpAddr      string
		debug         bool
		facultiesDir  string
		maxConcurrent int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane, claiming and dispatching work items for every configured faculty",
		Long: `serve loads the faculties directory, wires each faculty's engage loop
and tool set, and runs the capacity-gated dispatcher until SIGINT/SIGTERM.
It also starts an HTTP server exposing /metrics, /healthz, and /status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), httpAddr, debug, facultiesDir, maxConcurrent)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8090", "Address for the metrics/healthz/status HTTP server")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&facultiesDir, "faculties", "", "Faculties directory (overrides config's faculties_dir)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Global cap on concurrent foci (overrides config)")
	return cmd
}

func runServe(ctx context.Context, httpAddr string, debug bool, facultiesDir string, maxConcurrent int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if facultiesDir != "" {
		cfg.FacultiesDir = facultiesDir
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrentFoci = maxConcurrent
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	a.logger.Info("starting animus", "version", version, "commit", commit, "database", cfg.DatabaseURL != "")

	faculties, warnings, err := config.LoadFaculties(cfg.FacultiesDir)
	if err != nil {
		return fmt.Errorf("loading faculties from %s: %w", cfg.FacultiesDir, err)
	}
	for _, w := range warnings {
		a.logger.Warn("faculty config warning", "warning", w)
	}
	if len(faculties) == 0 {
		return fmt.Errorf("no faculties configured in %s", cfg.FacultiesDir)
	}

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "animus",
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			a.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	llm, err := a.newLLMClient(metrics)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}

	catalog := skillsys.NewCatalog([]string{cfg.FacultiesDir + "/skills"})
	if err := catalog.Discover(ctx); err != nil {
		a.logger.Warn("skill discovery failed", "error", err)
	}
	if err := catalog.StartWatching(ctx); err != nil {
		a.logger.Warn("skill hot-reload disabled", "error", err)
	}
	defer catalog.Close()

	awarenessBuilder := awareness.New(a.store, a.ledger)

	// One ActiveSet shared across every faculty's tools and the focus
	// runner: it keys activation state by work item id internally, so
	// concurrent foci (even of different faculties) never see each other's
	// activated skills.
	activeSkills := skillsys.NewActiveSet()

	engageRunners := make(map[string]focus.EngageRunner, len(faculties))
	for name, fc := range faculties {
		if fc.Engage.Mode == model.EngageExternal {
			continue
		}

		tools := toolregistry.New().WithMetrics(metrics)

		hooks, err := engage.ScriptHooks(fc.Engage.Hooks, name)
		if err != nil {
			return fmt.Errorf("faculty %q: %w", name, err)
		}

		// The loop is built before the engine tools because execute_code's
		// sandbox bridge routes SDK tool calls back through it; the registry
		// is consulted live, so registering tools afterwards is safe.
		loop := engage.New(llm, tools, a.ledger, hooks, engage.FromFacultyConfig(fc.Engage, contextWindowFor(fc.Engage.Model)))
		loop.WithSkillFragments(activeSkills.Fragments)
		loop.WithMetrics(metrics, name)

		deps := enginetools.Deps{
			Store:         a.store,
			Ledger:        a.ledger,
			Catalog:       catalog,
			Active:        activeSkills,
			SkillDir:      cfg.FacultiesDir + "/skills",
			Metrics:       metrics,
			SkillRecorder: a.skillrec,
		}
		if fc.Engage.CodeExecution {
			deps.Sandbox = sandbox.New(sandbox.Config{
				DefaultTimeout: fc.Engage.CodeExecutionTimeout,
				DefaultMemory:  fc.Engage.CodeExecutionMemoryMB,
				DefaultCPU:     int(fc.Engage.CodeExecutionCPUs * 1000),
			})
			deps.Invoker = loop
		}
		for _, t := range enginetools.Build(deps) {
			tools.Register(t)
		}
		engageRunners[name] = &focus.LoopEngageRunner{Loop: loop, SystemPrompt: fc.Engage.Prompt}
		a.logger.Info("faculty engage loop wired", "faculty", name, "model", fc.Engage.Model, "tools", len(tools.Names()))
	}

	runner := focus.New(a.store, a.ledger, awarenessBuilder, func(faculty string) (focus.EngageRunner, bool) {
		r, ok := engageRunners[faculty]
		return r, ok
	}, cfg.ScratchRoot)
	matcher := skillsys.NewMatcher(catalog, activeSkills)
	matcher.Recorder = a.skillrec
	runner.Skills = matcher
	runner.Tracer = tracer
	runner.Metrics = metrics

	cpCfg := controlplane.DefaultConfig()
	cpCfg.GlobalCap = cfg.MaxConcurrentFoci
	if cfg.VisibilityTimeoutSeconds > 0 {
		cpCfg.VisibilityTimeout = time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second
	}

	dispatcher := controlplane.New(a.store, a.queue, faculties, func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) controlplane.FocusOutcome {
		outcome := runner.RunFocus(ctx, item, faculty)
		return controlplane.FocusOutcome{Completed: outcome.Completed, Err: outcome.Err}
	}, cpCfg, metrics, a.logger)

	startedAt := time.Now()
	httpServer := newStatusServer(httpAddr, dispatcher, a.store, startedAt)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status http server error", "error", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(runCtx)
	}()

	a.logger.Info("animus running", "faculties", len(faculties), "http_addr", httpAddr)

	select {
	case <-runCtx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.logger.Error("dispatcher exited with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cpCfg.ShutdownGrace+5*time.Second)
	defer cancel()
	dispatcher.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

// contextWindowFor returns the context window in tokens for a faculty's
// configured model, used alongside CompactThreshold to decide when the
// engage loop compacts. Every current Claude model shares the same window;
// this stays a function rather than a constant so a future model with a
// different window only needs a case added here.
func contextWindowFor(modelName string) int {
	return 200_000
}

func newStatusServer(addr string, d *controlplane.Dispatcher, st store.Store, startedAt time.Time) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := d.Status(r.Context(), st, startedAt)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
