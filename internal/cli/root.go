// Package cli implements the pkmctl command line.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pkm-search/internal/app"
	"pkm-search/internal/config"
	"pkm-search/internal/indexer"
	"pkm-search/internal/rag"
)

// Indexer is what the index commands need. *indexer.Synchronizer implements it.
type Indexer interface {
	ReconcileLibrary(ctx context.Context) (indexer.Summary, error)
	Reindex(ctx context.Context) (indexer.Summary, error)
	Reset(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*indexer.IndexStats, error)
}

// Services used by the commands. They are built on first use unless already set.
var (
	engine      rag.Engine
	indexSvc    Indexer
	watchFn     func(ctx context.Context) error
	closeFn     func() error
	openService = openApp
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "pkmctl",
	Short: "Index and query a personal document library",
	Long: `pkmctl keeps a local vector index of your notes and documents in sync
and answers search and question queries against it.

Configuration is read from the environment (and a .env file), the same
variables as the API server: DOCS_ROOTS, DATA_DIR, OLLAMA_BASE_URL, ...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if engine != nil && indexSvc != nil {
			return nil
		}
		return openService(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if closeFn == nil {
			return nil
		}
		err := closeFn()
		closeFn = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openApp loads configuration and builds the application. Logs go to stderr so stdout stays
// free for command output and the MCP protocol.
func openApp(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	engine = a.Engine
	indexSvc = a.Sync
	watchFn = func(ctx context.Context) error {
		if _, err := a.Reconcile(ctx); err != nil {
			slog.WarnContext(ctx, "initial reconcile failed", "error", err)
		}
		return a.Watcher().Run(ctx)
	}
	closeFn = a.Close
	return nil
}

var errNoWatcher = errors.New("file watching is not available")
