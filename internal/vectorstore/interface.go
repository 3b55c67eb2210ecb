package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_index.go -package=mocks pkm-search/internal/vectorstore Index

import "context"

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID    int64
	Score float32
}

// Index is a nearest-neighbor structure keyed by externally assigned vector ids.
// Vectors are expected to be L2-normalized, so inner product equals cosine similarity.
type Index interface {
	// Dim returns the vector width, or 0 when no width has been fixed yet.
	Dim() int

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Add stores vectors under ids. len(ids) must equal len(vectors) and ids must be unused.
	// A width different from Dim returns service.ErrDimensionMismatch.
	Add(ctx context.Context, vectors [][]float32, ids []int64) error

	// Remove deletes ids and returns how many were present. Unknown ids are ignored.
	Remove(ctx context.Context, ids []int64) (int, error)

	// ListIDs returns every stored id.
	ListIDs(ctx context.Context) ([]int64, error)

	// Search returns up to topK hits ordered by score descending, ties in insertion order.
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)

	// Persist makes the current state durable.
	Persist(ctx context.Context) error

	// Reset drops every vector and any persisted state.
	Reset(ctx context.Context) error
}
