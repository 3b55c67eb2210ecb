package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// ChunkerVersion identifies the chunking rules. Bump it when they change so IndexVersion moves.
const ChunkerVersion = "v2.0"

// IndexStats describes the current state of the index and its bookkeeping.
type IndexStats struct {
	// Documents is the number of document rows in the metadata store.
	Documents int `json:"documents"`
	// Chunks is the number of chunk rows in the metadata store.
	Chunks int `json:"chunks"`
	// Vectors is the number of vectors held by the index.
	Vectors int `json:"vectors"`
	// TrackedDocuments and TrackedVectors come from the document map.
	TrackedDocuments int `json:"tracked_documents"`
	TrackedVectors   int `json:"tracked_vectors"`
	// Consistent is true when the index holds exactly the vectors the document map references.
	Consistent bool `json:"consistent"`
	// PendingFailures lists documents waiting out a retry backoff.
	PendingFailures map[string]Failure `json:"pending_failures,omitempty"`
	IndexDim        int                `json:"index_dim"`
	NextVectorID    int64              `json:"next_vector_id"`
	Busy            bool               `json:"busy"`
	// ChunkTokenStats covers the chunks embedded by the latest run that added any.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	Options         ChunkOptions    `json:"chunk_options"`
	ChunkerVersion  string          `json:"chunker_version"`
	// IndexVersion is a hash of chunker version, tokenizer, embedding model and chunk sizes.
	IndexVersion string   `json:"index_version"`
	LastRun      *Summary `json:"last_run,omitempty"`
}

// ChunkTokenStats contains statistics about token counts in chunks.
type ChunkTokenStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// Stats gathers counts from the metadata store, the index and the document map.
func (s *Synchronizer) Stats(ctx context.Context) (*IndexStats, error) {
	docs, err := s.docs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	chunks, err := s.chunks.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	vectors, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}

	now := s.now()
	pending := make(map[string]Failure)
	for path, f := range s.docMap.Failures() {
		if now.Before(f.NextAttempt) {
			pending[path] = f
		}
	}

	stats := &IndexStats{
		Documents:        docs,
		Chunks:           chunks,
		Vectors:          vectors,
		TrackedDocuments: s.docMap.Len(),
		TrackedVectors:   s.docMap.VectorCount(),
		PendingFailures:  pending,
		IndexDim:         s.index.Dim(),
		NextVectorID:     s.ids.Peek(),
		Busy:             s.Busy(),
		Options:          s.chunker.Options(),
		ChunkerVersion:   ChunkerVersion,
		IndexVersion:     indexVersion(s.opts.Encoding, s.opts.EmbedModel, s.chunker.Options()),
	}
	stats.Consistent = stats.Vectors == stats.TrackedVectors

	s.mu.Lock()
	stats.ChunkTokenStats = s.lastTokens
	if s.last != nil {
		last := *s.last
		stats.LastRun = &last
	}
	s.mu.Unlock()

	return stats, nil
}

// indexVersion returns 16 hex chars identifying an index build.
func indexVersion(encoding, model string, opts ChunkOptions) string {
	input := fmt.Sprintf("%s|%s|%s|target=%d|overlap=%d|min=%d",
		ChunkerVersion, encoding, model, opts.TargetTokens, opts.OverlapTokens, opts.MinChunkTokens)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// computeTokenStats computes min, max, mean, and p95 from token counts.
func computeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	sorted := make([]int, len(tokenCounts))
	copy(sorted, tokenCounts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range sorted {
		sum += count
	}
	mean := float64(sum) / float64(len(sorted))

	// Nearest rank, the same rule the metrics registry uses.
	rank := int(math.Ceil(0.95 * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100,
		P95:  sorted[rank-1],
	}
}
