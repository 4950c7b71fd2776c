package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/config"
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/llmclient"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/internal/ratelimit"
	"github.com/animus-run/animus/internal/skillsys"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// app bundles the durable-layer collaborators every subcommand needs.
// An empty cfg.DatabaseURL selects the in-memory backends, which is the
// right default for local runs, demos, and tests; production deployments
// set DATABASE_URL.
type app struct {
	cfg      config.Config
	db       *sql.DB
	store    store.Store
	ledger   ledger.Store
	queue    queuestore.Adapter
	skillrec skillsys.Recorder
	logger   *slog.Logger
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return buildApp(cfg)
}

func buildApp(cfg config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL == "" {
		queue := queuestore.NewMemoryAdapter()
		a.queue = queue
		a.store = store.NewMemoryStore(queue)
		a.ledger = ledger.NewMemoryStore()
		a.skillrec = skillsys.NewMemoryRecorder()
		return a, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	migrator, err := store.NewMigrator(db)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	applied, err := migrator.Up(context.Background())
	if err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	for _, id := range applied {
		logger.Info("applied migration", "id", id)
	}

	a.queue = queuestore.NewPostgresAdapter(db, cfg.DatabaseURL)
	pg := store.NewPostgresStore(db, a.queue)
	pg.SetDSN(cfg.DatabaseURL)
	a.store = pg
	a.ledger = ledger.NewPostgresStore(db)
	a.skillrec = skillsys.NewPostgresRecorder(db)
	return a, nil
}

func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// newLLMClient builds the Anthropic client shared by every faculty's
// engage loop. Faculties differ only in which model they request per
// completion; the client itself is one shared rate-limited connection.
func (a *app) newLLMClient(metrics *observability.Metrics) (llmclient.Client, error) {
	if a.cfg.AnthropicAPIKey == "" {
		return nil, animuserr.Validation("ANTHROPIC_API_KEY is required to run the engage loop")
	}
	client, err := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:    a.cfg.AnthropicAPIKey,
		RateLimit: ratelimit.DefaultConfig(),
	})
	if err != nil {
		return nil, err
	}
	return client.WithMetrics(metrics), nil
}

// validateFaculty rejects work destined for a faculty with no matching
// configuration before it ever reaches the queue.
func validateFaculty(faculties map[string]model.FacultyConfig, name string) error {
	if _, ok := faculties[name]; !ok {
		return animuserr.Validation("unknown faculty %q", name)
	}
	return nil
}
