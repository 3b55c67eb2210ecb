package handlers

import (
	"context"
	"errors"
	"net/http"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/indexer"
	"pkm-search/internal/service"
)

// Indexer runs reconcile operations. *indexer.Synchronizer implements it.
type Indexer interface {
	ReconcileLibrary(ctx context.Context) (indexer.Summary, error)
	Reindex(ctx context.Context) (indexer.Summary, error)
	Reset(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*indexer.IndexStats, error)
}

// CacheInvalidator drops cached query results after the index changes.
type CacheInvalidator interface {
	InvalidateCaches()
}

// IndexHandler handles HTTP requests that change or inspect the index.
type IndexHandler struct {
	indexer Indexer
	caches  CacheInvalidator
}

// NewIndexHandler creates a new IndexHandler. caches may be nil.
func NewIndexHandler(idx Indexer, caches CacheInvalidator) *IndexHandler {
	return &IndexHandler{indexer: idx, caches: caches}
}

// IndexRunResponse is returned by the incremental and reindex endpoints.
//
// swagger:model IndexRunResponse
type IndexRunResponse struct {
	OK bool `json:"ok"`
	indexer.Summary
}

// ResetResponse is returned by the reset endpoint.
//
// swagger:model ResetResponse
type ResetResponse struct {
	OK      bool     `json:"ok"`
	Removed []string `json:"removed"`
}

// Incremental handles POST /index/incremental. The run is synchronous; a concurrent run
// yields 409.
func (h *IndexHandler) Incremental(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "incremental reconcile triggered via API")

	summary, err := h.indexer.ReconcileLibrary(ctx)
	h.afterRun(err)
	if err != nil {
		handleServiceError(ctx, w, err, "Reconcile failed")
		return
	}
	writeJSON(ctx, w, IndexRunResponse{OK: true, Summary: summary})
}

// Reindex handles POST /index/reindex: reset followed by a full reconcile.
func (h *IndexHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "full reindex triggered via API")

	summary, err := h.indexer.Reindex(ctx)
	h.afterRun(err)
	if err != nil {
		handleServiceError(ctx, w, err, "Reindex failed")
		return
	}
	writeJSON(ctx, w, IndexRunResponse{OK: true, Summary: summary})
}

// Reset handles POST /index/reset.
func (h *IndexHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "index reset triggered via API")

	removed, err := h.indexer.Reset(ctx)
	h.afterRun(err)
	if err != nil {
		handleServiceError(ctx, w, err, "Reset failed")
		return
	}
	writeJSON(ctx, w, ResetResponse{OK: true, Removed: removed})
}

// Stats handles GET /index/stats.
func (h *IndexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.indexer.Stats(ctx)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to collect index stats")
		return
	}
	writeJSON(ctx, w, stats)
}

// afterRun drops cached results unless the run was turned away before touching anything.
func (h *IndexHandler) afterRun(err error) {
	if h.caches == nil || errors.Is(err, service.ErrReconcileInProgress) {
		return
	}
	h.caches.InvalidateCaches()
}
