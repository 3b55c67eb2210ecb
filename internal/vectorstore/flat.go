package vectorstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/service"
)

// FlatIndex is an exact inner-product index held in memory and persisted to a single file.
// Vectors are stored in insertion order, which is also the tie-break order for equal scores.
type FlatIndex struct {
	mu   sync.RWMutex
	path string
	dim  int
	ids  []int64
	vecs []float32 // len(ids) * dim, row-major
	slot map[int64]int
}

// NewFlatIndex creates an empty index. A dim of 0 fixes the width on the first Add.
func NewFlatIndex(path string, dim int) *FlatIndex {
	return &FlatIndex{
		path: path,
		dim:  dim,
		slot: make(map[int64]int),
	}
}

// Dim returns the vector width.
func (f *FlatIndex) Dim() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Count returns the number of stored vectors.
func (f *FlatIndex) Count(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids), nil
}

// Add stores vectors under ids.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("add: %d vectors but %d ids", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("add: vector %d has width %d, index width %d: %w", i, len(v), dim, service.ErrDimensionMismatch)
		}
		if _, ok := f.slot[ids[i]]; ok {
			return fmt.Errorf("add: vector id %d already present", ids[i])
		}
		if _, ok := seen[ids[i]]; ok {
			return fmt.Errorf("add: vector id %d repeated in batch", ids[i])
		}
		seen[ids[i]] = struct{}{}
	}

	f.dim = dim
	for i, v := range vectors {
		f.slot[ids[i]] = len(f.ids)
		f.ids = append(f.ids, ids[i])
		f.vecs = append(f.vecs, v...)
	}
	return nil
}

// Remove deletes ids, compacting storage while keeping insertion order.
func (f *FlatIndex) Remove(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if s, ok := f.slot[id]; ok {
			drop[s] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	keptIDs := make([]int64, 0, len(f.ids)-len(drop))
	keptVecs := make([]float32, 0, (len(f.ids)-len(drop))*f.dim)
	slot := make(map[int64]int, len(f.ids)-len(drop))
	for s, id := range f.ids {
		if _, ok := drop[s]; ok {
			continue
		}
		slot[id] = len(keptIDs)
		keptIDs = append(keptIDs, id)
		keptVecs = append(keptVecs, f.vecs[s*f.dim:(s+1)*f.dim]...)
	}
	f.ids, f.vecs, f.slot = keptIDs, keptVecs, slot

	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "removed vectors", "count", len(drop), "remaining", len(f.ids))
	return len(drop), nil
}

// Search scores every stored vector against query.
func (f *FlatIndex) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be greater than 0")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.ids) == 0 {
		return []Hit{}, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("search: query width %d, index width %d: %w", len(query), f.dim, service.ErrDimensionMismatch)
	}

	hits := make([]Hit, len(f.ids))
	for s, id := range f.ids {
		row := f.vecs[s*f.dim : (s+1)*f.dim]
		var dot float32
		for j, q := range query {
			dot += q * row[j]
		}
		hits[s] = Hit{ID: id, Score: dot}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ListIDs implements Index.
func (f *FlatIndex) ListIDs(ctx context.Context) ([]int64, error) {
	return f.IDs(), nil
}

// IDs returns the stored ids in insertion order.
func (f *FlatIndex) IDs() []int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.ids)
}
