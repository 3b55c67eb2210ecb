package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pkm-search/internal/extract"
	"pkm-search/internal/service"
	"pkm-search/internal/storage"
	storage_mocks "pkm-search/internal/storage/mocks"
	"pkm-search/internal/vectorstore"
)

// fakeEmbedder derives a vector from the sha256 of each text.
type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls int
	texts []string
	fail  func(text string) bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.fail != nil && f.fail(text) {
			return nil, fmt.Errorf("%w: embedding server down", service.ErrFetchFailed)
		}
		f.texts = append(f.texts, text)
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(sum[j]) + 1
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticScanner []string

func (s staticScanner) ScanAll(ctx context.Context) ([]string, error) {
	return s, nil
}

type syncEnv struct {
	dir    string
	sync   *Synchronizer
	docs   *storage.DocumentRepo
	chunks *storage.ChunkRepo
	index  *vectorstore.FlatIndex
	ids    *vectorstore.IDAllocator
	docMap *DocMap
	emb    *fakeEmbedder
}

type envOption func(*Deps)

func newSyncEnv(t *testing.T, opts ...envOption) *syncEnv {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	db, err := storage.New(filepath.Join(dataDir, "pkm.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, storage.Migrate(db))

	index, err := vectorstore.CreateOrLoad(filepath.Join(dataDir, "index.pkmv"), 0)
	require.NoError(t, err)
	ids, err := vectorstore.OpenIDAllocator(filepath.Join(dataDir, "id_counter.json"))
	require.NoError(t, err)
	docMap, err := LoadDocMap(filepath.Join(dataDir, "doc_index.json"))
	require.NoError(t, err)
	chunker, err := NewTokenChunker(RuneTokenizer{}, ChunkOptions{TargetTokens: 40, OverlapTokens: 5, MinChunkTokens: 5})
	require.NoError(t, err)

	env := &syncEnv{
		dir:    dir,
		docs:   storage.NewDocumentRepo(db),
		chunks: storage.NewChunkRepo(db),
		index:  index,
		ids:    ids,
		docMap: docMap,
		emb:    &fakeEmbedder{dim: 4},
	}
	deps := Deps{
		Documents: env.docs,
		Chunks:    env.chunks,
		Index:     env.index,
		IDs:       env.ids,
		DocMap:    env.docMap,
		Chunker:   chunker,
		Embedder:  env.emb,
		Extractor: extract.New(),
	}
	for _, o := range opts {
		o(&deps)
	}

	s, err := NewSynchronizer(deps, Options{EmbedBatchSize: 2, Workers: 2})
	require.NoError(t, err)
	env.sync = s
	return env
}

func (e *syncEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const threeParagraphs = "The first paragraph talks about gardening and soil.\n\n" +
	"The second paragraph covers watering schedules in summer.\n\n" +
	"The third paragraph lists tools for pruning fruit trees."

func TestNewSynchronizer_RequiresDeps(t *testing.T) {
	_, err := NewSynchronizer(Deps{}, Options{})
	assert.Error(t, err)
}

func TestSynchronizer_ReconcileIsIdempotent(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	a := env.write(t, "a.txt", threeParagraphs)
	b := env.write(t, "b.md", "# Notes\n\nShort note about bread baking.")

	first, err := env.sync.Reconcile(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, first.FilesSeen)
	assert.Equal(t, 2, first.DocsChanged)
	assert.Positive(t, first.ChunksAdded)
	assert.Equal(t, 4, first.IndexDim)

	calls := env.emb.Calls()
	second, err := env.sync.Reconcile(ctx, []string{b, a, a})
	require.NoError(t, err)
	assert.Equal(t, 2, second.FilesSeen)
	assert.Zero(t, second.DocsChanged)
	assert.Zero(t, second.ChunksAdded)
	assert.Zero(t, second.IDsRemoved)
	assert.Equal(t, calls, env.emb.Calls(), "unchanged documents must not be re-embedded")

	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksAdded, count)
	assert.Equal(t, count, env.docMap.VectorCount())
}

func TestSynchronizer_DeletedPathRemovesVectors(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	a := env.write(t, "a.txt", "Alpha document.")
	b := env.write(t, "b.txt", threeParagraphs)

	_, err := env.sync.Reconcile(ctx, []string{a, b})
	require.NoError(t, err)
	bEntry, ok := env.docMap.Get(b)
	require.True(t, ok)
	require.NotEmpty(t, bEntry.IDs)

	summary, err := env.sync.Reconcile(ctx, []string{a})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsDeleted)
	assert.Equal(t, len(bEntry.IDs), summary.IDsRemoved)

	_, tracked := env.docMap.Get(b)
	assert.False(t, tracked)
	_, err = env.docs.GetByPath(ctx, b)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	aEntry, _ := env.docMap.Get(a)
	assert.Equal(t, aEntry.IDs, env.index.IDs())

	hits, err := env.chunks.ListByVectorIDs(ctx, bEntry.IDs)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSynchronizer_ChangedDocumentGetsFreshIDs(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	path := env.write(t, "notes.txt", threeParagraphs)

	seen := make(map[int64]bool)
	contents := []string{
		threeParagraphs,
		threeParagraphs + "\n\nA fourth paragraph about compost heaps.",
		"Completely rewritten.\n\nNothing about gardens any more.",
	}
	for cycle, content := range contents {
		env.write(t, "notes.txt", content)
		summary, err := env.sync.Reconcile(ctx, []string{path})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.DocsChanged, "cycle %d", cycle)

		entry, ok := env.docMap.Get(path)
		require.True(t, ok)
		for _, id := range entry.IDs {
			assert.False(t, seen[id], "vector id %d issued twice", id)
			seen[id] = true
		}
		assert.Equal(t, entry.IDs, env.index.IDs(), "index holds exactly the live ids")

		doc, err := env.docs.GetByPath(ctx, path)
		require.NoError(t, err)
		rows, err := env.chunks.ListByDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, rows, len(entry.IDs))
		for i, r := range rows {
			assert.Equal(t, i, r.Position)
			require.NotNil(t, r.VectorID)
			assert.Equal(t, entry.IDs[i], *r.VectorID)
		}
	}
}

func TestSynchronizer_EmptyDocumentHasNoChunks(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	path := env.write(t, "empty.txt", "   \n\n  ")

	summary, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsChanged)
	assert.Zero(t, summary.ChunksAdded)

	entry, ok := env.docMap.Get(path)
	require.True(t, ok)
	assert.Empty(t, entry.IDs)
	_, err = env.docs.GetByPath(ctx, path)
	assert.NoError(t, err)
	assert.Zero(t, env.emb.Calls())
}

func TestSynchronizer_FailureBacksOff(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	env.emb.fail = func(text string) bool { return strings.Contains(text, "poison") }

	good := env.write(t, "good.txt", "A healthy document.")
	bad := env.write(t, "bad.txt", "This one contains poison.")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.sync.now = func() time.Time { return now }

	summary, err := env.sync.Reconcile(ctx, []string{good, bad})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsChanged)
	assert.Equal(t, 1, summary.DocsFailed)
	_, tracked := env.docMap.Get(bad)
	assert.False(t, tracked, "a failed document keeps its previous entry")

	calls := env.emb.Calls()
	summary, err = env.sync.Reconcile(ctx, []string{good, bad})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsDeferred)
	assert.Equal(t, calls, env.emb.Calls())

	stats, err := env.sync.Stats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats.PendingFailures, bad)

	now = now.Add(6 * time.Minute)
	summary, err = env.sync.Reconcile(ctx, []string{good, bad})
	require.NoError(t, err)
	assert.Zero(t, summary.DocsDeferred)
	assert.Equal(t, 1, summary.DocsFailed)
	assert.Equal(t, 2, env.docMap.Failures()[bad].Attempts)

	env.emb.fail = nil
	env.write(t, "bad.txt", "This one is fixed now.")
	summary, err = env.sync.Reconcile(ctx, []string{good, bad})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsChanged)
	assert.Empty(t, env.docMap.Failures())
}

func TestSynchronizer_RollsBackVectorsWhenRowsFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	chunks := storage_mocks.NewMockChunkStore(ctrl)
	chunks.EXPECT().
		ReplaceForDocument(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("disk full"))

	env := newSyncEnv(t, func(d *Deps) { d.Chunks = chunks })
	ctx := context.Background()
	path := env.write(t, "a.txt", threeParagraphs)

	summary, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsFailed)

	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "vectors added before the failed write must be removed")
	_, tracked := env.docMap.Get(path)
	assert.False(t, tracked)
}

func TestSynchronizer_DimensionMismatchAborts(t *testing.T) {
	env := newSyncEnv(t, func(d *Deps) {
		d.Index = vectorstore.NewFlatIndex(filepath.Join(t.TempDir(), "index.pkmv"), 8)
	})
	path := env.write(t, "a.txt", "Some text.")

	_, err := env.sync.Reconcile(context.Background(), []string{path})
	assert.ErrorIs(t, err, service.ErrDimensionMismatch)
}

func TestSynchronizer_ReconcileInProgress(t *testing.T) {
	env := newSyncEnv(t)
	require.True(t, env.sync.lock.TryAcquire())
	defer env.sync.lock.Release()

	_, err := env.sync.Reconcile(context.Background(), nil)
	assert.ErrorIs(t, err, service.ErrReconcileInProgress)
	_, err = env.sync.Reset(context.Background())
	assert.ErrorIs(t, err, service.ErrReconcileInProgress)
	assert.True(t, env.sync.Busy())
}

func TestSynchronizer_ResetKeepsIDCounter(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	path := env.write(t, "a.txt", threeParagraphs)

	_, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	before, _ := env.docMap.Get(path)
	next := env.ids.Peek()

	removed, err := env.sync.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "doc_map", "metadata"}, removed)
	assert.Zero(t, env.docMap.Len())
	n, err := env.docs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, next, env.ids.Peek())

	_, err = env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	after, _ := env.docMap.Get(path)
	require.NotEmpty(t, after.IDs)
	assert.GreaterOrEqual(t, after.IDs[0], next)
	for _, id := range after.IDs {
		assert.False(t, slices.Contains(before.IDs, id))
	}
}

func TestSynchronizer_RecoversLostDocMap(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	path := env.write(t, "a.txt", threeParagraphs)

	_, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	old, _ := env.docMap.Get(path)

	// Simulate a lost document map: rows and vectors survive.
	env.docMap.Delete(path)

	summary, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, len(old.IDs), summary.IDsRemoved)
	entry, _ := env.docMap.Get(path)
	assert.Equal(t, entry.IDs, env.index.IDs())
}

func TestSynchronizer_ReindexAndStats(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	a := env.write(t, "a.txt", threeParagraphs)
	b := env.write(t, "b.txt", "Bread, butter and jam.")
	env.sync.scanner = staticScanner{a, b}

	summary, err := env.sync.ReconcileLibrary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.DocsChanged)

	summary, err = env.sync.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.DocsChanged)

	stats, err := env.sync.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, summary.ChunksAdded, stats.Chunks)
	assert.Equal(t, summary.ChunksAdded, stats.Vectors)
	assert.True(t, stats.Consistent)
	assert.Equal(t, 4, stats.IndexDim)
	assert.Positive(t, stats.ChunkTokenStats.Max)
	assert.Len(t, stats.IndexVersion, 16)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, summary.ChunksAdded, stats.LastRun.ChunksAdded)
}

func TestSynchronizer_ReconcileLibraryWithoutScanner(t *testing.T) {
	env := newSyncEnv(t)
	_, err := env.sync.ReconcileLibrary(context.Background())
	assert.Error(t, err)
}

func TestSynchronizer_FailedRowDeleteForgetsHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	docs := storage_mocks.NewMockDocumentStore(ctrl)
	docs.EXPECT().
		DeleteByPath(gomock.Any(), "/notes/gone.txt").
		Return(false, errors.New("database is locked"))

	env := newSyncEnv(t, func(d *Deps) { d.Documents = docs })
	env.docMap.Set("/notes/gone.txt", DocEntry{Hash: "abc", IDs: []int64{}})

	summary, err := env.sync.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsFailed)
	assert.Zero(t, summary.DocsDeleted)

	entry, tracked := env.docMap.Get("/notes/gone.txt")
	require.True(t, tracked)
	assert.Empty(t, entry.Hash, "a reappearing file must be indexed again")
}

// flakyRemoveIndex fails the next failRemoves calls to Remove.
type flakyRemoveIndex struct {
	*vectorstore.FlatIndex
	failRemoves int
}

func (f *flakyRemoveIndex) Remove(ctx context.Context, ids []int64) (int, error) {
	if f.failRemoves > 0 {
		f.failRemoves--
		return 0, errors.New("connection reset")
	}
	return f.FlatIndex.Remove(ctx, ids)
}

func TestSynchronizer_SweepsVectorsLeftByFailedRemove(t *testing.T) {
	var flaky *flakyRemoveIndex
	env := newSyncEnv(t, func(d *Deps) {
		flaky = &flakyRemoveIndex{FlatIndex: d.Index.(*vectorstore.FlatIndex)}
		d.Index = flaky
	})
	ctx := context.Background()
	path := env.write(t, "notes.txt", threeParagraphs)

	_, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	old, _ := env.docMap.Get(path)
	require.NotEmpty(t, old.IDs)

	flaky.failRemoves = 1
	env.write(t, "notes.txt", "Rewritten.\n\nThe notes are about bees now.")
	summary, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsChanged)
	current, _ := env.docMap.Get(path)

	summary, err = env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, len(old.IDs), summary.IDsRemoved)
	assert.Equal(t, current.IDs, env.index.IDs())

	_, err = env.sync.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, env.index.IDs(), "no vectors may outlive their document")
}

func TestSynchronizer_SweepsVectorsOfUnsavedDocMap(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()
	path := env.write(t, "notes.txt", threeParagraphs)
	mapPath := filepath.Join(env.dir, "data", "doc_index.json")

	_, err := env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	saved, err := os.ReadFile(mapPath)
	require.NoError(t, err)

	env.write(t, "notes.txt", "Rewritten.\n\nThe notes are about bees now.")
	_, err = env.sync.Reconcile(ctx, []string{path})
	require.NoError(t, err)

	// The index was persisted but the map write was lost.
	require.NoError(t, os.WriteFile(mapPath, saved, 0o644))
	stale, err := LoadDocMap(mapPath)
	require.NoError(t, err)
	chunker, err := NewTokenChunker(RuneTokenizer{}, ChunkOptions{TargetTokens: 40, OverlapTokens: 5, MinChunkTokens: 5})
	require.NoError(t, err)
	restarted, err := NewSynchronizer(Deps{
		Documents: env.docs,
		Chunks:    env.chunks,
		Index:     env.index,
		IDs:       env.ids,
		DocMap:    stale,
		Chunker:   chunker,
		Embedder:  env.emb,
		Extractor: extract.New(),
	}, Options{EmbedBatchSize: 2})
	require.NoError(t, err)

	summary, err := restarted.Reconcile(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocsChanged)
	entry, _ := stale.Get(path)
	assert.Equal(t, entry.IDs, env.index.IDs())
}
