package handlers

import (
	"net/http"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/rag"
)

// SearchHandler handles HTTP requests for semantic search.
type SearchHandler struct {
	engine rag.Engine
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(engine rag.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// ServeHTTP handles HTTP requests for semantic search.
//
// swagger:route GET /search search
//
// # Search indexed documents
//
// Returns the k best matching chunks for q. Optional filters: file_type (exact,
// case-insensitive), tag (substring, case-insensitive) and modified_after (ISO date).
//
// responses:
//
//	'200':
//	  schema:
//	    "$ref": "#/definitions/SearchResponse"
//	'400':
//	  description: Missing query or invalid k
//	'502':
//	  description: Embedding service unavailable
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	k, err := intParam(q, "k", rag.DefaultK)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to search")
		return
	}

	resp, err := h.engine.Search(ctx, rag.SearchRequest{
		Query:   q.Get("q"),
		K:       k,
		Filters: filtersFromQuery(q),
	})
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to search")
		return
	}
	writeJSON(ctx, w, resp)
}
