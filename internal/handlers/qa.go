package handlers

import (
	"net/http"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/rag"
)

// QAHandler handles HTTP requests for grounded question answering.
type QAHandler struct {
	engine rag.Engine
}

// NewQAHandler creates a new QAHandler.
func NewQAHandler(engine rag.Engine) *QAHandler {
	return &QAHandler{engine: engine}
}

// ServeHTTP handles HTTP requests for question answering.
//
// swagger:route GET /qa askQuestion
//
// # Ask a question over indexed documents
//
// Retrieves the k best chunks for q, builds a prompt of at most max_ctx_chars of context
// and returns the generated answer with its sources. Accepts the same filters as /search.
//
// responses:
//
//	'200':
//	  schema:
//	    "$ref": "#/definitions/AnswerResponse"
//	'400':
//	  description: Missing question or invalid parameter
//	'502':
//	  description: Embedding or generation service unavailable
func (h *QAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		handleServiceError(ctx, w, err, "Failed to answer question")
		return
	}
	maxCtx, err := intParam(q, "max_ctx_chars", rag.DefaultMaxContextChars)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to answer question")
		return
	}

	resp, err := h.engine.Answer(ctx, rag.AnswerRequest{
		Query:           q.Get("q"),
		K:               k,
		Filters:         filtersFromQuery(q),
		MaxContextChars: maxCtx,
	})
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to answer question")
		return
	}
	writeJSON(ctx, w, resp)
}
