// Package main provides the CLI entry point for an animus instance: a
// substrate that runs long-lived autonomous agents ("animi"), organized
// into faculties, as durable work items move through Orient, Engage,
// Consolidate, and Recover.
//
// # Basic Usage
//
// Start the control plane:
//
//	animus serve --faculties ./faculties
//
// Submit a work item:
//
//	animus work submit social handle_mention --trigger '{"post_id":"123"}'
//
// Inspect a work item's ledger:
//
//	animus ledger show <work_item_id> --formatted
//
// Check system status:
//
//	animus status
//
// # Environment Variables
//
//   - DATABASE_URL: Postgres connection string (omit to use the in-memory store)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - LOG_LEVEL: debug|info|warn|error
//   - OTEL_ENDPOINT: OpenTelemetry collector address
//   - ANIMUS_FACULTIES_DIR: directory of faculty TOML files
//   - ANIMUS_SCRATCH_ROOT: root directory for per-focus scratch space
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-run/animus/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{
		Level: os.Getenv("LOG_LEVEL"),
	}))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "animus",
		Short: "animus - a substrate for long-running autonomous agents",
		Long: `animus runs autonomous agents ("animi"), organized into faculties, against
a durable work queue: each work item moves through Orient, Engage,
Consolidate, and on failure Recover, with an append-only ledger recording
what each focus found, decided, and did.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkCmd(),
		buildLedgerCmd(),
		buildFacultyCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}
