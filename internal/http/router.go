package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pkm-search/internal/handlers"
	"pkm-search/internal/metrics"
	"pkm-search/internal/rag"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine  rag.Engine
	Indexer handlers.Indexer
	Index   handlers.IndexCounter
	DB      handlers.Pinger // optional
	Metrics *metrics.Registry
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	indexHandler := handlers.NewIndexHandler(deps.Indexer, deps.Engine)

	r.Route("/index", func(r chi.Router) {
		r.Post("/incremental", indexHandler.Incremental)
		r.Post("/reindex", indexHandler.Reindex)
		r.Post("/reset", indexHandler.Reset)
		r.Get("/stats", indexHandler.Stats)
	})

	r.Method(http.MethodGet, "/search", handlers.NewSearchHandler(deps.Engine))
	r.Method(http.MethodGet, "/qa", handlers.NewQAHandler(deps.Engine))
	r.Method(http.MethodGet, "/context", handlers.NewContextHandler(deps.Engine))
	r.Method(http.MethodGet, "/metrics", handlers.NewMetricsHandler(deps.Metrics))
	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(deps.Index, deps.DB))

	return r
}
