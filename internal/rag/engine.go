package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks pkm-search/internal/rag Engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/llm"
	"pkm-search/internal/metrics"
	"pkm-search/internal/service"
	"pkm-search/internal/storage"
	"pkm-search/internal/vectorstore"
)

// Metric names emitted by the engine.
const (
	MetricSearchRequests = "search_requests_total"
	MetricSearchHits     = "search_cache_hits_total"
	MetricSearchLatency  = "search_latency_ms"
	MetricQARequests     = "qa_requests_total"
	MetricQAHits         = "qa_cache_hits_total"
	MetricQAFailures     = "qa_failures_total"
	MetricQALatency      = "qa_latency_ms"
	MetricEmbedHits      = "embed_cache_hits_total"
)

// Engine answers search, question and context queries over the indexed documents.
type Engine interface {
	// Search returns the best matching chunks for a query.
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	// Answer generates an answer grounded in the best matching chunks.
	Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error)
	// Context returns the chunks around the chunk with the given vector id.
	Context(ctx context.Context, vectorID int64, radius int) (ContextResponse, error)
	// InvalidateCaches drops cached search and answer results.
	InvalidateCaches()
}

// Deps are the collaborators of the engine. Caches and Metrics are optional.
type Deps struct {
	Embedder  llm.Embedder
	Generator llm.Generator
	Index     vectorstore.Index
	Chunks    storage.ChunkStore
	Caches    *Caches
	Metrics   *metrics.Registry
}

// ragEngine implements the Engine interface.
type ragEngine struct {
	embedder  llm.Embedder
	generator llm.Generator
	index     vectorstore.Index
	chunks    storage.ChunkStore
	caches    *Caches
	metrics   *metrics.Registry

	// generation moves on every InvalidateCaches; results computed under an older
	// generation are not cached.
	generation atomic.Uint64
}

// NewEngine creates a new retrieval engine.
func NewEngine(deps Deps) (Engine, error) {
	if deps.Embedder == nil || deps.Index == nil || deps.Chunks == nil {
		return nil, fmt.Errorf("embedder, index and chunk store are required")
	}
	caches := deps.Caches
	if caches == nil {
		var err error
		if caches, err = NewCaches(0, 0, 0); err != nil {
			return nil, err
		}
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	reg.Declare(MetricSearchLatency)
	reg.Declare(MetricQALatency)

	return &ragEngine{
		embedder:  deps.Embedder,
		generator: deps.Generator,
		index:     deps.Index,
		chunks:    deps.Chunks,
		caches:    caches,
		metrics:   reg,
	}, nil
}

// Search implements Engine. Results are cached per (query, k, filters).
func (e *ragEngine) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	start := time.Now()
	e.metrics.Incr(MetricSearchRequests)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchResponse{}, &service.ValidationError{Field: "q", Message: "query is required"}
	}
	k := clampK(req.K)

	key := searchKey(query, k, req.Filters)
	if cached, ok := e.caches.Search.Get(key); ok {
		e.metrics.Incr(MetricSearchHits)
		e.metrics.Since(MetricSearchLatency, start)
		return cached, nil
	}

	gen := e.generation.Load()
	resp, err := e.search(ctx, query, k, req.Filters)
	if err != nil {
		return SearchResponse{}, err
	}
	if e.generation.Load() == gen {
		e.caches.Search.Set(key, resp)
	}
	e.metrics.Since(MetricSearchLatency, start)
	return resp, nil
}

// search runs a query without consulting the result cache.
func (e *ragEngine) search(ctx context.Context, query string, k int, filters Filters) (SearchResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return SearchResponse{}, err
	}

	hits, err := e.index.Search(ctx, vec, k*overFetch)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("failed to search index: %w", err)
	}
	resp := SearchResponse{Query: query, Results: []Source{}}
	if len(hits) == 0 {
		return resp, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := e.chunks.ListByVectorIDs(ctx, ids)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	byID := make(map[int64]storage.ChunkHit, len(rows))
	for _, r := range rows {
		byID[r.VectorID] = r
	}

	match := filters.compile(ctx)
	type docPos struct {
		path string
		pos  int
	}
	seen := make(map[docPos]struct{}, len(hits))
	for _, h := range hits {
		row, ok := byID[h.ID]
		if !ok {
			logger.DebugContext(ctx, "skipping vector without chunk row", "id", h.ID)
			continue
		}
		if !match.match(row) {
			continue
		}
		// Hits arrive best first, so the first copy of a chunk keeps the best score.
		key := docPos{row.Path, row.Position}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		resp.Results = append(resp.Results, sourceFromHit(row, h.Score, previewChars))
	}

	slices.SortStableFunc(resp.Results, func(a, b Source) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(resp.Results) > k {
		resp.Results = resp.Results[:k]
	}

	logger.InfoContext(ctx, "search completed", "k", k, "hits", len(hits), "results", len(resp.Results))
	return resp, nil
}

// embedQuery returns the normalized query vector, cached by query text.
func (e *ragEngine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := embeddingKey(query)
	if vec, ok := e.caches.Embeddings.Get(key); ok {
		e.metrics.Incr(MetricEmbedHits)
		return vec, nil
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors: %w", len(vecs), service.ErrFetchFailed)
	}
	vec := vectorstore.Normalize(vecs[0])
	e.caches.Embeddings.Set(key, vec)
	return vec, nil
}

// Answer implements Engine. Only successful answers are cached; a successful answer also
// refreshes the search cache for the same query.
func (e *ragEngine) Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	e.metrics.Incr(MetricQARequests)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return AnswerResponse{}, &service.ValidationError{Field: "q", Message: "question is required"}
	}
	if e.generator == nil {
		return AnswerResponse{}, fmt.Errorf("no generator configured: %w", service.ErrGenerationFailed)
	}
	k := clampK(req.K)
	maxCtx := req.MaxContextChars
	if maxCtx <= 0 {
		maxCtx = DefaultMaxContextChars
	}

	key := answerKey(query, k, maxCtx, req.Filters)
	if cached, ok := e.caches.QA.Get(key); ok {
		e.metrics.Incr(MetricQAHits)
		e.metrics.Since(MetricQALatency, start)
		return cached, nil
	}

	gen := e.generation.Load()
	found, err := e.search(ctx, query, k, req.Filters)
	if err != nil {
		e.metrics.Incr(MetricQAFailures)
		return AnswerResponse{}, err
	}

	prompt := BuildQAPrompt(query, found.Results, maxCtx, k)
	logger.DebugContext(ctx, "sending prompt to generator", "sources", len(found.Results), "prompt_length", len(prompt))

	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		e.metrics.Incr(MetricQAFailures)
		logger.ErrorContext(ctx, "generation failed", "error", err)
		if !errors.Is(err, service.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", service.ErrGenerationFailed, err)
		}
		return AnswerResponse{}, err
	}

	resp := AnswerResponse{
		Question: query,
		Answer:   answer,
		Sources:  make([]Source, len(found.Results)),
	}
	for i, s := range found.Results {
		s.Preview = truncateRunes(s.Preview, qaPreviewChars)
		resp.Sources[i] = s
	}

	if e.generation.Load() == gen {
		e.caches.QA.Set(key, resp)
		e.caches.Search.Set(searchKey(query, k, req.Filters), found)
	}
	e.metrics.Since(MetricQALatency, start)

	logger.InfoContext(ctx, "answer generated", "sources", len(resp.Sources), "answer_length", len(answer))
	return resp, nil
}

// Context implements Engine.
func (e *ragEngine) Context(ctx context.Context, vectorID int64, radius int) (ContextResponse, error) {
	radius = clampRadius(radius)

	center, err := e.chunks.GetByVectorID(ctx, vectorID)
	if errors.Is(err, storage.ErrNotFound) {
		return ContextResponse{}, fmt.Errorf("chunk with vector id %d: %w", vectorID, service.ErrNotFound)
	}
	if err != nil {
		return ContextResponse{}, fmt.Errorf("failed to fetch chunk %d: %w", vectorID, err)
	}

	window, err := e.chunks.ListWindow(ctx, center.DocumentID, center.Position-radius, center.Position+radius)
	if err != nil {
		return ContextResponse{}, fmt.Errorf("failed to fetch context window: %w", err)
	}

	resp := ContextResponse{
		OK:       true,
		Center:   vectorID,
		DocPath:  center.Path,
		Position: center.Position,
		Context:  make([]ContextItem, 0, len(window)),
	}
	for _, c := range window {
		resp.Context = append(resp.Context, ContextItem{
			ID:       c.VectorID,
			Position: c.Position,
			Text:     strings.TrimSpace(c.Text),
		})
	}
	return resp, nil
}

// InvalidateCaches implements Engine. Query embeddings stay valid across index changes.
func (e *ragEngine) InvalidateCaches() {
	e.generation.Add(1)
	e.caches.Search.Purge()
	e.caches.QA.Purge()
}

func sourceFromHit(h storage.ChunkHit, score float32, previewLen int) Source {
	return Source{
		ID:       h.VectorID,
		Score:    score,
		DocPath:  h.Path,
		Position: h.Position,
		Preview:  preview(h.Text, previewLen),
		Tags:     h.Tags,
		Type:     h.Type,
		Modified: h.Modified,
	}
}
