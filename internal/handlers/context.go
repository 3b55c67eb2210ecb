package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/rag"
	"pkm-search/internal/service"
)

const (
	defaultRadius = 1
	maxRadius     = 3
)

// ContextHandler returns the chunks surrounding a search hit.
type ContextHandler struct {
	engine rag.Engine
}

// NewContextHandler creates a new ContextHandler.
func NewContextHandler(engine rag.Engine) *ContextHandler {
	return &ContextHandler{engine: engine}
}

// ServeHTTP handles GET /context?id=&radius=.
func (h *ContextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	id, err := strconv.ParseInt(strings.TrimSpace(q.Get("id")), 10, 64)
	if err != nil || id < 0 {
		handleServiceError(ctx, w, &service.ValidationError{Field: "id", Message: "must be a non-negative integer"}, "")
		return
	}
	radius, err := intParam(q, "radius", defaultRadius)
	if err != nil {
		handleServiceError(ctx, w, err, "")
		return
	}
	if radius < 0 || radius > maxRadius {
		handleServiceError(ctx, w, &service.ValidationError{Field: "radius", Message: "must be between 0 and 3"}, "")
		return
	}

	resp, err := h.engine.Context(ctx, id, radius)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to load context")
		return
	}
	writeJSON(ctx, w, resp)
}
