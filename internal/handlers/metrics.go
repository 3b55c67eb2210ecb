package handlers

import (
	"net/http"

	"pkm-search/internal/metrics"
)

// MetricsHandler renders the registry in plain text.
type MetricsHandler struct {
	registry *metrics.Registry
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(registry *metrics.Registry) *MetricsHandler {
	return &MetricsHandler{registry: registry}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.registry.Render()))
}
