package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/service"
)

// QdrantIndex implements Index on a Qdrant collection with numeric point ids.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// grpcAddress derives the gRPC host and port from the Qdrant HTTP URL.
// The gRPC port is the HTTP port + 1 (6333 -> 6334).
func grpcAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// NewQdrantIndex connects to Qdrant at urlStr (e.g. "http://localhost:6333") and makes sure
// collection exists with width dim and cosine distance.
func NewQdrantIndex(ctx context.Context, urlStr, collection string, dim int) (*QdrantIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("qdrant index requires a positive width, got %d", dim)
	}
	host, port, err := grpcAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	q := &QdrantIndex{client: client, collection: collection, dim: dim}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Dim returns the collection width.
func (q *QdrantIndex) Dim() int {
	return q.dim
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Add upserts vectors as points keyed by their numeric ids.
func (q *QdrantIndex) Add(ctx context.Context, vectors [][]float32, ids []int64) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(vectors) != len(ids) {
		return fmt.Errorf("add: %d vectors but %d ids", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for i, vec := range vectors {
		if len(vec) != q.dim {
			return fmt.Errorf("add: vector %d has width %d, collection width %d: %w", i, len(vec), q.dim, service.ErrDimensionMismatch)
		}
		if ids[i] < 0 {
			return fmt.Errorf("add: negative vector id %d", ids[i])
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(ids[i])),
			Vectors: qdrant.NewVectors(vec...),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", q.collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", q.collection, "count", len(points))
	return nil
}

// Remove deletes ids. Existing points are fetched first so the count reflects real removals.
func (q *QdrantIndex) Remove(ctx context.Context, ids []int64) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(ids) == 0 {
		return 0, nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			pointIDs = append(pointIDs, qdrant.NewIDNum(uint64(id)))
		}
	}

	existing, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to look up points: %w", err)
	}
	if len(existing) == 0 {
		return 0, nil
	}

	wait := true
	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete points", "collection", q.collection, "count", len(pointIDs), "error", err)
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}

	logger.DebugContext(ctx, "deleted points", "collection", q.collection, "count", len(existing))
	return len(existing), nil
}

// scrollPageSize bounds one Scroll call of ListIDs.
const scrollPageSize = 1000

// ListIDs pages through the collection in id order.
func (q *QdrantIndex) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	limit := uint32(scrollPageSize)
	var offset *qdrant.PointId
	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}
		for _, p := range points {
			if p.Id != nil {
				ids = append(ids, int64(p.Id.GetNum()))
			}
		}
		if len(points) < scrollPageSize {
			return ids, nil
		}
		offset = qdrant.NewIDNum(points[len(points)-1].GetId().GetNum() + 1)
	}
}

// Search queries the collection. Qdrant orders equal scores by point id, which for
// monotonically allocated ids matches insertion order.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be greater than 0")
	}
	if len(query) != q.dim {
		return nil, fmt.Errorf("search: query width %d, collection width %d: %w", len(query), q.dim, service.ErrDimensionMismatch)
	}

	limit := uint64(topK)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to search points", "collection", q.collection, "k", topK, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, p := range scored {
		if p.Id == nil {
			continue
		}
		hits = append(hits, Hit{ID: int64(p.Id.GetNum()), Score: p.Score})
	}
	return hits, nil
}

// Persist is a no-op: Qdrant persists writes itself.
func (q *QdrantIndex) Persist(ctx context.Context) error {
	return nil
}

// Reset drops and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}
	return q.ensureCollection(ctx)
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// ensureCollection creates the collection or validates the width of an existing one.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", q.collection, "vector_size", q.dim)
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dim),
				Distance: qdrant.Distance_Dot,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		return nil
	}

	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}

	var actual uint64
	if cfg := info.GetConfig(); cfg != nil && cfg.GetParams() != nil {
		if vc := cfg.GetParams().GetVectorsConfig(); vc != nil && vc.GetParams() != nil {
			actual = vc.GetParams().GetSize()
		}
	}
	if actual == 0 {
		return fmt.Errorf("could not determine collection vector size")
	}
	if int(actual) != q.dim {
		return fmt.Errorf("collection %s has width %d, expected %d: %w", q.collection, actual, q.dim, service.ErrDimensionMismatch)
	}

	logger.InfoContext(ctx, "collection validated", "collection", q.collection, "vector_size", q.dim)
	return nil
}
