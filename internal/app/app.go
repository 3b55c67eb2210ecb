// Package app wires configuration, storage, the vector index and the services built on them.
// The API server and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pkm-search/internal/config"
	"pkm-search/internal/contextutil"
	"pkm-search/internal/extract"
	"pkm-search/internal/indexer"
	"pkm-search/internal/library"
	"pkm-search/internal/llm"
	"pkm-search/internal/metrics"
	"pkm-search/internal/rag"
	"pkm-search/internal/service"
	"pkm-search/internal/storage"
	"pkm-search/internal/vectorstore"
)

// App holds the long-lived components of one process.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Index   vectorstore.Index
	Library *library.Manager
	Sync    *indexer.Synchronizer
	Engine  rag.Engine
	Metrics *metrics.Registry
}

// New builds every component from cfg. Nothing here talks to the model server; the embedding
// model is provisioned lazily on first use.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := contextutil.LoggerFromContext(ctx)
	a := &App{Config: cfg, Metrics: metrics.NewRegistry()}

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db
	if err := storage.Migrate(db); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.InfoContext(ctx, "database initialized", "path", cfg.DBPath, "driver", storage.DriverName)

	if a.Index, err = openIndex(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}

	ids, err := vectorstore.OpenIDAllocator(cfg.IDCounterPath())
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	docMap, err := indexer.LoadDocMap(cfg.DocMapPath())
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	tok, err := indexer.NewTiktokenTokenizer(cfg.TokenizerEncoding)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	chunker, err := indexer.NewTokenChunker(tok, indexer.ChunkOptions{
		TargetTokens:   cfg.ChunkTargetTokens,
		OverlapTokens:  cfg.ChunkOverlapTokens,
		MinChunkTokens: cfg.ChunkMinTokens,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.Library, err = library.NewManager(cfg.DocsRoots); err != nil {
		_ = a.Close()
		return nil, err
	}

	embedder := llm.NewProvisioningEmbedder(
		llm.NewEmbeddingsClient(cfg.OllamaBaseURL, cfg.EmbedModel, cfg.EmbedTimeout, cfg.EmbedRPS),
		llm.NewProvisioner(cfg.OllamaBaseURL, cfg.EmbedModel),
	)
	generator := llm.NewClient(cfg.OllamaBaseURL, cfg.GenModel, cfg.GenTimeout)

	chunks := storage.NewChunkRepo(db)
	a.Sync, err = indexer.NewSynchronizer(indexer.Deps{
		Documents: storage.NewDocumentRepo(db),
		Chunks:    chunks,
		Index:     a.Index,
		IDs:       ids,
		DocMap:    docMap,
		Chunker:   chunker,
		Embedder:  embedder,
		Extractor: extract.New(),
		Scanner:   a.Library,
		Metrics:   a.Metrics,
	}, indexer.Options{
		EmbedBatchSize: cfg.EmbedBatchSize,
		Workers:        cfg.ReconcileWorkers,
		EmbedModel:     cfg.EmbedModel,
		Encoding:       cfg.TokenizerEncoding,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	caches, err := rag.NewCaches(cfg.EmbedCacheSize, cfg.SearchCacheSize, cfg.QACacheSize)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Engine, err = rag.NewEngine(rag.Deps{
		Embedder:  embedder,
		Generator: generator,
		Index:     a.Index,
		Chunks:    chunks,
		Caches:    caches,
		Metrics:   a.Metrics,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.InfoContext(ctx, "application initialized",
		"backend", cfg.VectorBackend,
		"roots", a.Library.Roots(),
		"embed_model", cfg.EmbedModel,
		"gen_model", cfg.GenModel,
	)
	return a, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (vectorstore.Index, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		idx, err := vectorstore.NewQdrantIndex(ctx, cfg.QdrantURL, cfg.QdrantCollection, cfg.QdrantVectorSize)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)
		return idx, nil
	default:
		idx, err := vectorstore.CreateOrLoad(cfg.IndexPath(), 0)
		if err != nil {
			return nil, err
		}
		n, _ := idx.Count(ctx)
		slog.InfoContext(ctx, "vector index loaded", "path", cfg.IndexPath(), "vectors", n, "dim", idx.Dim())
		return idx, nil
	}
}

// Reconcile runs an incremental reconcile of the library and drops cached query results
// unless the run was refused because another one is active.
func (a *App) Reconcile(ctx context.Context) (indexer.Summary, error) {
	summary, err := a.Sync.ReconcileLibrary(ctx)
	if !errors.Is(err, service.ErrReconcileInProgress) {
		a.Engine.InvalidateCaches()
	}
	return summary, err
}

// Watcher returns a library watcher that reconciles after file changes settle.
func (a *App) Watcher() *library.Watcher {
	return library.NewWatcher(a.Library, a.Config.WatchDebounce, func(ctx context.Context) error {
		_, err := a.Reconcile(ctx)
		if errors.Is(err, service.ErrReconcileInProgress) {
			return nil
		}
		return err
	})
}

// Close releases the database and any index connection.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.Index.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
