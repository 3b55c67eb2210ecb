package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedDocument(t *testing.T, docs *DocumentRepo, path, typ, tags string) *DocumentRecord {
	t.Helper()
	doc := &DocumentRecord{Path: path, Hash: "h", Type: typ, Tags: tags, Modified: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if err := docs.Upsert(context.Background(), doc); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return doc
}

func TestChunkRepo_ReplaceForDocument(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	doc := seedDocument(t, docs, "/a.md", "md", "")

	tests := []struct {
		name      string
		chunks    []ChunkRecord
		wantTexts []string
	}{
		{
			name:      "initial insert",
			chunks:    []ChunkRecord{{Text: "a0", VectorID: ptr(0)}, {Text: "a1", VectorID: ptr(1)}, {Text: "a2", VectorID: ptr(2)}},
			wantTexts: []string{"a0", "a1", "a2"},
		},
		{
			name:      "shrinking replacement leaves no gaps",
			chunks:    []ChunkRecord{{Text: "b0", VectorID: ptr(3)}, {Text: "b1", VectorID: ptr(4)}},
			wantTexts: []string{"b0", "b1"},
		},
		{
			name:      "empty replacement",
			chunks:    nil,
			wantTexts: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.ReplaceForDocument(ctx, doc.ID, tt.chunks); err != nil {
				t.Fatalf("ReplaceForDocument() error = %v", err)
			}
			got, err := repo.ListByDocument(ctx, doc.ID)
			if err != nil {
				t.Fatalf("ListByDocument() error = %v", err)
			}
			if len(got) != len(tt.wantTexts) {
				t.Fatalf("ListByDocument() len = %d, want %d", len(got), len(tt.wantTexts))
			}
			for i, c := range got {
				if c.Position != i {
					t.Errorf("chunk %d position = %d", i, c.Position)
				}
				if c.Text != tt.wantTexts[i] {
					t.Errorf("chunk %d text = %q, want %q", i, c.Text, tt.wantTexts[i])
				}
			}
		})
	}
}

func TestChunkRepo_ReplaceForDocument_RollsBackOnDuplicateVectorID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	a := seedDocument(t, docs, "/a.md", "md", "")
	b := seedDocument(t, docs, "/b.md", "md", "")

	if err := repo.ReplaceForDocument(ctx, a.ID, []ChunkRecord{{Text: "a0", VectorID: ptr(7)}}); err != nil {
		t.Fatalf("ReplaceForDocument(a) error = %v", err)
	}
	if err := repo.ReplaceForDocument(ctx, b.ID, []ChunkRecord{{Text: "b0", VectorID: ptr(8)}}); err != nil {
		t.Fatalf("ReplaceForDocument(b) error = %v", err)
	}

	// Vector 7 already belongs to a live chunk of a.
	err := repo.ReplaceForDocument(ctx, b.ID, []ChunkRecord{{Text: "b0'", VectorID: ptr(9)}, {Text: "b1'", VectorID: ptr(7)}})
	if err == nil {
		t.Fatal("ReplaceForDocument() expected unique violation")
	}

	got, _ := repo.ListByDocument(ctx, b.ID)
	if len(got) != 1 || got[0].Text != "b0" {
		t.Errorf("b chunks after failed replace = %+v, want original row", got)
	}
}

func TestChunkRepo_ListByVectorIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	a := seedDocument(t, docs, "/a.md", "md", "alpha")
	b := seedDocument(t, docs, "/b.py", "py", "beta")

	_ = repo.ReplaceForDocument(ctx, a.ID, []ChunkRecord{{Text: "a0", VectorID: ptr(10)}, {Text: "a1", VectorID: ptr(11)}})
	_ = repo.ReplaceForDocument(ctx, b.ID, []ChunkRecord{{Text: "b0", VectorID: ptr(20)}})

	hits, err := repo.ListByVectorIDs(ctx, []int64{11, 20, 999})
	if err != nil {
		t.Fatalf("ListByVectorIDs() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("ListByVectorIDs() len = %d, want 2", len(hits))
	}
	// Ordered by position.
	if hits[0].VectorID != 20 || hits[0].Path != "/b.py" || hits[0].Type != "py" || hits[0].Tags != "beta" {
		t.Errorf("hits[0] = %+v", hits[0])
	}
	if hits[1].VectorID != 11 || hits[1].Position != 1 {
		t.Errorf("hits[1] = %+v", hits[1])
	}

	empty, err := repo.ListByVectorIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("ListByVectorIDs(nil) = %v, %v", empty, err)
	}
}

func TestChunkRepo_GetByVectorIDAndWindow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	a := seedDocument(t, docs, "/a.md", "md", "")

	var chunks []ChunkRecord
	for i := 0; i < 6; i++ {
		chunks = append(chunks, ChunkRecord{Text: string(rune('a' + i)), VectorID: ptr(int64(100 + i))})
	}
	if err := repo.ReplaceForDocument(ctx, a.ID, chunks); err != nil {
		t.Fatalf("ReplaceForDocument() error = %v", err)
	}

	hit, err := repo.GetByVectorID(ctx, 103)
	if err != nil {
		t.Fatalf("GetByVectorID() error = %v", err)
	}
	if hit.Position != 3 || hit.Text != "d" {
		t.Errorf("GetByVectorID() = %+v", hit)
	}

	if _, err := repo.GetByVectorID(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByVectorID(unknown) error = %v, want ErrNotFound", err)
	}

	window, err := repo.ListWindow(ctx, a.ID, 2, 4)
	if err != nil {
		t.Fatalf("ListWindow() error = %v", err)
	}
	if len(window) != 3 || window[0].Position != 2 || window[2].Position != 4 {
		t.Errorf("ListWindow() = %+v", window)
	}
}
