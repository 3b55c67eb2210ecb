package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pkm-search/internal/indexer"
	"pkm-search/internal/rag"
	"pkm-search/internal/rag/mocks"
	"pkm-search/internal/service"
)

type fakeIndexer struct {
	calls   []string
	summary indexer.Summary
	err     error
}

func (f *fakeIndexer) ReconcileLibrary(ctx context.Context) (indexer.Summary, error) {
	f.calls = append(f.calls, "incremental")
	return f.summary, f.err
}

func (f *fakeIndexer) Reindex(ctx context.Context) (indexer.Summary, error) {
	f.calls = append(f.calls, "reindex")
	return f.summary, f.err
}

func (f *fakeIndexer) Reset(ctx context.Context) ([]string, error) {
	f.calls = append(f.calls, "reset")
	return []string{"index", "doc_map", "metadata"}, f.err
}

func (f *fakeIndexer) Stats(ctx context.Context) (*indexer.IndexStats, error) {
	f.calls = append(f.calls, "stats")
	return &indexer.IndexStats{Documents: 2, Vectors: 5, TrackedVectors: 5, Consistent: true, ChunkerVersion: indexer.ChunkerVersion}, f.err
}

// setupTestServices installs fakes and resets flag state; the returned func restores globals.
func setupTestServices(t *testing.T) (*mocks.MockEngine, *fakeIndexer, *bytes.Buffer) {
	t.Helper()
	ctrl := gomock.NewController(t)
	eng := mocks.NewMockEngine(ctrl)
	idx := &fakeIndexer{summary: indexer.Summary{FilesSeen: 3, DocsChanged: 1, ChunksAdded: 4}}

	oldEngine, oldIndex, oldWatch, oldClose := engine, indexSvc, watchFn, closeFn
	engine, indexSvc, watchFn, closeFn = eng, idx, nil, nil
	jsonOutput, indexFull = false, false
	searchK, askMaxContext, contextRadius = rag.DefaultK, rag.DefaultMaxContextChars, 1
	filterType, filterTag, filterAfter = "", "", ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	t.Cleanup(func() {
		engine, indexSvc, watchFn, closeFn = oldEngine, oldIndex, oldWatch, oldClose
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	return eng, idx, buf
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestIndexCmd(t *testing.T) {
	_, idx, buf := setupTestServices(t)

	require.NoError(t, execute("index"))
	assert.Equal(t, []string{"incremental"}, idx.calls)
	assert.Contains(t, buf.String(), "Files seen:    3")
	assert.Contains(t, buf.String(), "4 chunks added")
}

func TestIndexCmd_Full(t *testing.T) {
	_, idx, buf := setupTestServices(t)

	require.NoError(t, execute("index", "--full", "--json"))
	assert.Equal(t, []string{"reindex"}, idx.calls)

	var got indexer.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 1, got.DocsChanged)
}

func TestIndexCmd_Busy(t *testing.T) {
	_, idx, _ := setupTestServices(t)
	idx.err = service.ErrReconcileInProgress

	err := execute("index")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrReconcileInProgress)
}

func TestIndexCmd_RejectsArgs(t *testing.T) {
	setupTestServices(t)

	err := execute("index", "extra")
	assert.Error(t, err)
}

func TestResetAndStatsCmd(t *testing.T) {
	_, idx, buf := setupTestServices(t)

	require.NoError(t, execute("reset"))
	assert.Contains(t, buf.String(), "doc_map")

	buf.Reset()
	require.NoError(t, execute("stats"))
	assert.Contains(t, buf.String(), "consistent true")
	assert.Equal(t, []string{"reset", "stats"}, idx.calls)
}

func TestSearchCmd(t *testing.T) {
	eng, _, buf := setupTestServices(t)
	eng.EXPECT().Search(gomock.Any(), rag.SearchRequest{
		Query:   "raft leader",
		K:       3,
		Filters: rag.Filters{FileType: "md", Tag: "ops"},
	}).Return(rag.SearchResponse{Results: []rag.Source{
		{ID: 9, DocPath: "notes/raft.md", Position: 2, Score: 0.91, Preview: "Raft elects\na leader"},
	}}, nil)

	require.NoError(t, execute("search", "raft leader", "-k", "3", "--type", "md", "--tag", "ops"))
	assert.Contains(t, buf.String(), "notes/raft.md #2")
	assert.Contains(t, buf.String(), "id=9")
	assert.Contains(t, buf.String(), "Raft elects a leader")
}

func TestSearchCmd_NoResults(t *testing.T) {
	eng, _, buf := setupTestServices(t)
	eng.EXPECT().Search(gomock.Any(), gomock.Any()).Return(rag.SearchResponse{}, nil)

	require.NoError(t, execute("search", "nothing"))
	assert.Contains(t, buf.String(), "No results found.")
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	setupTestServices(t)

	err := execute("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestAskCmd(t *testing.T) {
	eng, _, buf := setupTestServices(t)
	eng.EXPECT().Answer(gomock.Any(), rag.AnswerRequest{
		Query:           "what is raft?",
		K:               rag.DefaultK,
		MaxContextChars: 800,
	}).Return(rag.AnswerResponse{
		Answer:  "A consensus protocol.",
		Sources: []rag.Source{{ID: 1, DocPath: "raft.md"}},
	}, nil)

	require.NoError(t, execute("ask", "what is raft?", "--max-ctx-chars", "800"))
	assert.Contains(t, buf.String(), "A consensus protocol.")
	assert.Contains(t, buf.String(), "Sources:")
}

func TestAskCmd_GenerationFailure(t *testing.T) {
	eng, _, _ := setupTestServices(t)
	eng.EXPECT().Answer(gomock.Any(), gomock.Any()).Return(rag.AnswerResponse{}, service.ErrGenerationFailed)

	err := execute("ask", "why?")
	assert.ErrorIs(t, err, service.ErrGenerationFailed)
}

func TestContextCmd(t *testing.T) {
	eng, _, buf := setupTestServices(t)
	eng.EXPECT().Context(gomock.Any(), int64(5), 2).Return(rag.ContextResponse{
		OK:      true,
		Center:  5,
		DocPath: "a.md",
		Context: []rag.ContextItem{{ID: 4, Position: 0, Text: "before"}, {ID: 5, Position: 1, Text: "center"}},
	}, nil)

	require.NoError(t, execute("context", "5", "--radius", "2"))
	assert.Contains(t, buf.String(), "> [5] #1")
	assert.Contains(t, buf.String(), "  [4] #0")
}

func TestContextCmd_InvalidInput(t *testing.T) {
	setupTestServices(t)

	assert.Error(t, execute("context", "abc"))
	assert.Error(t, execute("context", "3", "--radius", "4"))
}

func TestWatchCmd(t *testing.T) {
	setupTestServices(t)
	assert.ErrorIs(t, execute("watch"), errNoWatcher)

	called := false
	watchFn = func(ctx context.Context) error {
		called = true
		return nil
	}
	require.NoError(t, execute("watch"))
	assert.True(t, called)
}

func TestOpenServiceOnlyWhenUnset(t *testing.T) {
	setupTestServices(t)
	engine = nil

	oldOpen := openService
	defer func() { openService = oldOpen }()
	openService = func(ctx context.Context) error { return errors.New("no config") }

	err := execute("stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config")
}
