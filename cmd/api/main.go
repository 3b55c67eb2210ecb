package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pkm-search/internal/app"
	"pkm-search/internal/config"
	"pkm-search/internal/http"
	"pkm-search/internal/service"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API indexes a personal document library and answers semantic search and question
// queries over it.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: PKM Search API
//   description: |
//     Retrieval API over a local library of notes and documents. Files under the configured
//     roots are chunked, embedded and kept in sync with a vector index; queries return the
//     closest chunks or a generated answer grounded in them.
//   version: 1.0.0
// schemes:
//   - http
// consumes:
//   - application/json
// produces:
//   - application/json

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		_ = a.Close()
	}()

	router := http.NewRouter(&http.Deps{
		Engine:  a.Engine,
		Indexer: a.Sync,
		Index:   a.Index,
		DB:      a.DB,
		Metrics: a.Metrics,
	})

	// Bring the index up to date in the background once the router is ready
	go func() {
		slog.Info("Starting background reconcile", "roots", cfg.DocsRoots)
		summary, err := a.Reconcile(ctx)
		switch {
		case errors.Is(err, service.ErrReconcileInProgress):
			slog.Info("Background reconcile skipped, another run is active")
		case err != nil:
			slog.Error("Background reconcile failed", "error", err)
		default:
			slog.Info("Background reconcile completed",
				"files_seen", summary.FilesSeen,
				"changed", summary.DocsChanged,
				"deleted", summary.DocsDeleted,
				"elapsed_s", summary.Elapsed,
			)
		}
	}()

	if cfg.WatchEnabled {
		go func() {
			if err := a.Watcher().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Library watcher stopped", "error", err)
			}
		}()
		slog.Info("Watching document roots", "debounce", cfg.WatchDebounce)
	}

	srv := &nethttp.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", srv.Addr)
		slog.Debug("Model configuration", "base_url", cfg.OllamaBaseURL, "embed_model", cfg.EmbedModel, "gen_model", cfg.GenModel)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed to start: %v", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
