package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/extract"
	"pkm-search/internal/llm"
	"pkm-search/internal/metrics"
	"pkm-search/internal/service"
	"pkm-search/internal/storage"
	"pkm-search/internal/vectorstore"
)

// Metric names emitted by the synchronizer.
const (
	MetricRuns        = "index_runs_total"
	MetricDocsChanged = "index_docs_changed_total"
	MetricDocsFailed  = "index_docs_failed_total"
	MetricChunksAdded = "index_chunks_added_total"
	MetricIDsRemoved  = "index_ids_removed_total"
	MetricLatency     = "index_latency_ms"
)

const (
	DefaultEmbedBatchSize = 64
	DefaultWorkers        = 4
)

// DocumentExtractor turns a file into text. *extract.Extractor implements it.
type DocumentExtractor interface {
	Extract(ctx context.Context, path string) (*extract.Document, error)
}

// PathScanner lists the files of the watched library. *library.Manager implements it.
type PathScanner interface {
	ScanAll(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Synchronizer. Scanner and Metrics are optional.
type Deps struct {
	Documents storage.DocumentStore
	Chunks    storage.ChunkStore
	Index     vectorstore.Index
	IDs       *vectorstore.IDAllocator
	DocMap    *DocMap
	Chunker   *TokenChunker
	Embedder  llm.Embedder
	Extractor DocumentExtractor
	Scanner   PathScanner
	Metrics   *metrics.Registry
}

// Options tune a reconcile run.
type Options struct {
	EmbedBatchSize int
	Workers        int
	// EmbedModel and Encoding only feed IndexStats.IndexVersion.
	EmbedModel string
	Encoding   string
}

// Summary reports what one reconcile run did.
type Summary struct {
	FilesSeen    int     `json:"files_seen"`
	DocsDeleted  int     `json:"docs_deleted"`
	IDsRemoved   int     `json:"ids_removed"`
	DocsChanged  int     `json:"new_or_changed_docs"`
	ChunksAdded  int     `json:"chunks_added"`
	DocsFailed   int     `json:"docs_failed"`
	DocsDeferred int     `json:"docs_deferred"`
	IndexDim     int     `json:"index_dim"`
	Elapsed      float64 `json:"elapsed_s"`

	tokenCounts []int
}

// Synchronizer keeps the vector index and the metadata store in step with the watched
// document set.
type Synchronizer struct {
	docs      storage.DocumentStore
	chunks    storage.ChunkStore
	index     vectorstore.Index
	ids       *vectorstore.IDAllocator
	docMap    *DocMap
	chunker   *TokenChunker
	embedder  llm.Embedder
	extractor DocumentExtractor
	scanner   PathScanner
	metrics   *metrics.Registry
	opts      Options
	lock      IndexLock
	now       func() time.Time

	mu         sync.Mutex
	last       *Summary
	lastTokens ChunkTokenStats
}

// NewSynchronizer validates deps and creates a synchronizer.
func NewSynchronizer(deps Deps, opts Options) (*Synchronizer, error) {
	switch {
	case deps.Documents == nil, deps.Chunks == nil:
		return nil, fmt.Errorf("metadata stores are required")
	case deps.Index == nil:
		return nil, fmt.Errorf("vector index is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id allocator is required")
	case deps.DocMap == nil:
		return nil, fmt.Errorf("document map is required")
	case deps.Chunker == nil:
		return nil, fmt.Errorf("chunker is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	return &Synchronizer{
		docs:      deps.Documents,
		chunks:    deps.Chunks,
		index:     deps.Index,
		ids:       deps.IDs,
		docMap:    deps.DocMap,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		scanner:   deps.Scanner,
		metrics:   reg,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// prepared is the extraction result of one watched path.
type prepared struct {
	doc *extract.Document
	err error
}

// ReconcileLibrary scans the configured roots and reconciles against them.
func (s *Synchronizer) ReconcileLibrary(ctx context.Context) (Summary, error) {
	if s.scanner == nil {
		return Summary{}, fmt.Errorf("no library scanner configured")
	}
	paths, err := s.scanner.ScanAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to scan library: %w", err)
	}
	return s.Reconcile(ctx, paths)
}

// Reconcile brings the index in line with watched. Deleted paths lose their vectors and rows,
// new or changed documents are re-chunked and re-embedded, unchanged ones are skipped. A single
// document failing does not stop the run; a dimension mismatch does.
func (s *Synchronizer) Reconcile(ctx context.Context, watched []string) (Summary, error) {
	if !s.lock.TryAcquire() {
		return Summary{}, service.ErrReconcileInProgress
	}
	defer s.lock.Release()

	logger := contextutil.LoggerFromContext(ctx).With("run_id", uuid.NewString())
	ctx = contextutil.WithLogger(ctx, logger)
	start := time.Now()

	watched = slices.Clone(watched)
	slices.Sort(watched)
	watched = slices.Compact(watched)

	summary := Summary{FilesSeen: len(watched)}
	logger.InfoContext(ctx, "reconcile started", "files", len(watched), "tracked", s.docMap.Len())
	s.metrics.Incr(MetricRuns)

	s.sweepOrphans(ctx, &summary)
	s.removeDeleted(ctx, watched, &summary)

	results, err := s.prepareAll(ctx, watched)
	if err != nil {
		return summary, err
	}

	runErr := s.indexChanged(ctx, watched, results, &summary)

	if err := s.index.Persist(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to persist index: %w", err)
	}
	if err := s.docMap.Save(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to persist document map: %w", err)
	}

	summary.IndexDim = s.index.Dim()
	summary.Elapsed = math.Round(time.Since(start).Seconds()*1000) / 1000
	s.metrics.Since(MetricLatency, start)
	s.metrics.Add(MetricDocsChanged, int64(summary.DocsChanged))
	s.metrics.Add(MetricDocsFailed, int64(summary.DocsFailed))
	s.metrics.Add(MetricChunksAdded, int64(summary.ChunksAdded))
	s.metrics.Add(MetricIDsRemoved, int64(summary.IDsRemoved))

	s.mu.Lock()
	last := summary
	s.last = &last
	if summary.ChunksAdded > 0 {
		s.lastTokens = computeTokenStats(summary.tokenCounts)
	}
	s.mu.Unlock()

	logger.InfoContext(ctx, "reconcile completed",
		"files", summary.FilesSeen,
		"deleted", summary.DocsDeleted,
		"changed", summary.DocsChanged,
		"chunks_added", summary.ChunksAdded,
		"ids_removed", summary.IDsRemoved,
		"failed", summary.DocsFailed,
		"deferred", summary.DocsDeferred,
		"elapsed_s", summary.Elapsed,
	)
	return summary, runErr
}

// sweepOrphans removes vectors that no document map entry references. They are left behind
// when removing superseded vectors failed or the document map could not be saved after the
// index was. An empty map is left alone: its documents recover their ids from the chunk rows.
func (s *Synchronizer) sweepOrphans(ctx context.Context, summary *Summary) {
	logger := contextutil.LoggerFromContext(ctx)
	if s.docMap.Len() == 0 {
		return
	}

	stored, err := s.index.ListIDs(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to list index ids, skipping orphan sweep", "error", err)
		return
	}
	live := s.docMap.LiveIDs()
	var orphans []int64
	for _, id := range stored {
		if _, ok := live[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return
	}

	removed, err := s.index.Remove(ctx, orphans)
	if err != nil {
		logger.WarnContext(ctx, "failed to remove orphaned vectors", "count", len(orphans), "error", err)
		return
	}
	summary.IDsRemoved += removed
	logger.InfoContext(ctx, "removed orphaned vectors", "count", removed)
}

// removeDeleted drops every tracked path missing from watched (which is sorted).
func (s *Synchronizer) removeDeleted(ctx context.Context, watched []string, summary *Summary) {
	logger := contextutil.LoggerFromContext(ctx)

	for _, path := range s.docMap.Paths() {
		if _, found := slices.BinarySearch(watched, path); found {
			continue
		}
		entry, _ := s.docMap.Get(path)

		removed, err := s.index.Remove(ctx, entry.IDs)
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove vectors of deleted document", "path", path, "error", err)
			summary.DocsFailed++
			continue
		}
		summary.IDsRemoved += removed

		if _, err := s.docs.DeleteByPath(ctx, path); err != nil {
			// Vectors are gone; forget the hash so a reappearing file is indexed again.
			logger.ErrorContext(ctx, "failed to delete document rows", "path", path, "error", err)
			s.docMap.Set(path, DocEntry{IDs: []int64{}})
			summary.DocsFailed++
			continue
		}

		s.docMap.Delete(path)
		summary.DocsDeleted++
		logger.DebugContext(ctx, "removed deleted document", "path", path, "ids_removed", removed)
	}
}

// prepareAll extracts and hashes every watched path on a bounded worker pool. Only
// cancellation fails the whole step.
func (s *Synchronizer) prepareAll(ctx context.Context, watched []string) ([]prepared, error) {
	logger := contextutil.LoggerFromContext(ctx)
	results := make([]prepared, len(watched))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, path := range watched {
		g.Go(func() error {
			doc, err := s.extractor.Extract(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.WarnContext(gctx, "extraction failed, using raw text", "path", path, "error", err)
				doc, err = extract.Raw(path)
			}
			results[i] = prepared{doc: doc, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// indexChanged re-indexes, one at a time, every prepared document whose hash moved.
func (s *Synchronizer) indexChanged(ctx context.Context, watched []string, results []prepared, summary *Summary) error {
	logger := contextutil.LoggerFromContext(ctx)

	for i, path := range watched {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := results[i]
		if res.err != nil {
			logger.ErrorContext(ctx, "failed to read document", "path", path, "error", res.err)
			summary.DocsFailed++
			continue
		}

		entry, tracked := s.docMap.Get(path)
		if tracked && entry.Hash == res.doc.Hash {
			continue
		}
		if !s.docMap.ShouldAttempt(path, res.doc.Hash, s.now()) {
			summary.DocsDeferred++
			continue
		}

		added, removed, err := s.indexDocument(ctx, res.doc, entry, tracked, summary)
		if err != nil {
			if errors.Is(err, service.ErrDimensionMismatch) || ctx.Err() != nil {
				return err
			}
			f := s.docMap.RecordFailure(path, res.doc.Hash, err, s.now())
			logger.ErrorContext(ctx, "failed to index document", "path", path, "attempts", f.Attempts, "next_attempt", f.NextAttempt, "error", err)
			summary.DocsFailed++
			continue
		}

		summary.DocsChanged++
		summary.ChunksAdded += added
		summary.IDsRemoved += removed
	}
	return nil
}

// indexDocument replaces the vectors and chunk rows of one document. On success the document
// map entry points at the new ids; on failure the previous state is left as it was.
func (s *Synchronizer) indexDocument(ctx context.Context, doc *extract.Document, entry DocEntry, tracked bool, summary *Summary) (int, int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	oldIDs := entry.IDs
	if !tracked {
		stale, err := s.storedVectorIDs(ctx, doc.Path)
		if err != nil {
			return 0, 0, err
		}
		oldIDs = stale
	}

	record := &storage.DocumentRecord{
		Path:     doc.Path,
		Hash:     doc.Hash,
		Type:     doc.Type,
		Size:     doc.Size,
		Tags:     strings.Join(doc.Tags, ","),
		Modified: doc.Modified,
	}

	texts := s.chunker.Chunk(doc.Text)
	if len(texts) == 0 {
		removed, err := s.index.Remove(ctx, oldIDs)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to remove old vectors: %w", err)
		}
		if err := s.docs.Upsert(ctx, record); err != nil {
			return 0, removed, err
		}
		if err := s.chunks.ReplaceForDocument(ctx, record.ID, nil); err != nil {
			return 0, removed, err
		}
		s.docMap.Set(doc.Path, DocEntry{Hash: doc.Hash, IDs: []int64{}})
		logger.InfoContext(ctx, "document has no chunks", "path", doc.Path)
		return 0, removed, nil
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return 0, 0, err
	}
	if dim := s.index.Dim(); dim != 0 && len(vectors[0]) != dim {
		return 0, 0, fmt.Errorf("embedding width %d, index width %d: %w", len(vectors[0]), dim, service.ErrDimensionMismatch)
	}

	first, err := s.ids.Next(len(vectors))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to allocate vector ids: %w", err)
	}
	ids := make([]int64, len(vectors))
	rows := make([]storage.ChunkRecord, len(texts))
	for i := range ids {
		ids[i] = first + int64(i)
		rows[i] = storage.ChunkRecord{Position: i, Text: texts[i], VectorID: &ids[i]}
	}

	if err := s.index.Add(ctx, vectors, ids); err != nil {
		return 0, 0, fmt.Errorf("failed to add vectors: %w", err)
	}
	if err := s.docs.Upsert(ctx, record); err != nil {
		s.rollback(ctx, ids)
		return 0, 0, err
	}
	for i := range rows {
		rows[i].DocumentID = record.ID
	}
	if err := s.chunks.ReplaceForDocument(ctx, record.ID, rows); err != nil {
		s.rollback(ctx, ids)
		return 0, 0, err
	}

	removed, err := s.index.Remove(ctx, oldIDs)
	if err != nil {
		// The next run's sweep drops them once no entry references them.
		logger.WarnContext(ctx, "failed to remove superseded vectors", "path", doc.Path, "count", len(oldIDs), "error", err)
	}
	s.docMap.Set(doc.Path, DocEntry{Hash: doc.Hash, IDs: ids})
	for _, text := range texts {
		summary.tokenCounts = append(summary.tokenCounts, s.chunker.CountTokens(text))
	}

	logger.InfoContext(ctx, "indexed document", "path", doc.Path, "chunks", len(ids), "ids_removed", removed, "fallback", doc.Fallback)
	return len(ids), removed, nil
}

// storedVectorIDs returns the vector ids the metadata store still holds for an untracked
// path, e.g. after the document map was lost.
func (s *Synchronizer) storedVectorIDs(ctx context.Context, path string) ([]int64, error) {
	existing, err := s.docs.GetByPath(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.chunks.ListByDocument(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, r := range rows {
		if r.VectorID != nil {
			ids = append(ids, *r.VectorID)
		}
	}
	return ids, nil
}

// embedAll embeds texts in batches and returns unit-length vectors of one width.
func (s *Synchronizer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.opts.EmbedBatchSize {
		end := min(start+s.opts.EmbedBatchSize, len(texts))
		batch, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", end-start, len(batch))
		}
		out = append(out, vectorstore.NormalizeAll(batch)...)
	}
	for i, v := range out {
		if len(v) == 0 || len(v) != len(out[0]) {
			return nil, fmt.Errorf("embedding %d has width %d, expected %d", i, len(v), len(out[0]))
		}
	}
	return out, nil
}

func (s *Synchronizer) rollback(ctx context.Context, ids []int64) {
	if _, err := s.index.Remove(ctx, ids); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to roll back vectors", "count", len(ids), "error", err)
	}
}

// Reindex rebuilds everything from an empty state.
func (s *Synchronizer) Reindex(ctx context.Context) (Summary, error) {
	if _, err := s.Reset(ctx); err != nil {
		return Summary{}, err
	}
	return s.ReconcileLibrary(ctx)
}

// Reset clears the vector index, the document map and all metadata rows. The id counter is
// kept so ids issued before the reset are never reused. It returns what was cleared.
func (s *Synchronizer) Reset(ctx context.Context) ([]string, error) {
	if !s.lock.TryAcquire() {
		return nil, service.ErrReconcileInProgress
	}
	defer s.lock.Release()

	var removed []string
	if err := s.index.Reset(ctx); err != nil {
		return removed, fmt.Errorf("failed to reset index: %w", err)
	}
	removed = append(removed, "index")
	if err := s.docMap.Clear(); err != nil {
		return removed, fmt.Errorf("failed to clear document map: %w", err)
	}
	removed = append(removed, "doc_map")
	if err := s.docs.DeleteAll(ctx); err != nil {
		return removed, fmt.Errorf("failed to clear metadata: %w", err)
	}
	removed = append(removed, "metadata")

	s.mu.Lock()
	s.last = nil
	s.lastTokens = ChunkTokenStats{}
	s.mu.Unlock()

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "index reset", "removed", removed)
	return removed, nil
}

// Busy reports whether a reconcile or reset is running.
func (s *Synchronizer) Busy() bool {
	return s.lock.Held()
}

// LastSummary returns the summary of the latest finished run, if any.
func (s *Synchronizer) LastSummary() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}
