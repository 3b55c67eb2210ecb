package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks pkm-search/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// ReplaceForDocument deletes every chunk of the document and inserts chunks in one
	// transaction. Positions are assigned from slice order starting at 0.
	ReplaceForDocument(ctx context.Context, documentID int64, chunks []ChunkRecord) error
	// ListByDocument returns the chunks of a document ordered by position.
	ListByDocument(ctx context.Context, documentID int64) ([]ChunkRecord, error)
	// ListByVectorIDs returns chunk+document rows for the given vector ids, ordered by position.
	// Unknown ids are skipped.
	ListByVectorIDs(ctx context.Context, vectorIDs []int64) ([]ChunkHit, error)
	// GetByVectorID gets a single joined row. Returns ErrNotFound if not found.
	GetByVectorID(ctx context.Context, vectorID int64) (*ChunkHit, error)
	// ListWindow returns chunks of a document with position in [from, to], ordered by position.
	ListWindow(ctx context.Context, documentID int64, from, to int) ([]ChunkHit, error)
	// Count returns the number of chunk rows.
	Count(ctx context.Context) (int, error)
}

// ChunkRepo provides methods for chunk operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const hitColumns = `c.vector_id, c.document_id, c.position, c.text, d.path, d.type, d.tags, d.modified`

// ReplaceForDocument replaces the chunks of a document wholesale.
func (r *ChunkRepo) ReplaceForDocument(ctx context.Context, documentID int64, chunks []ChunkRecord) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO chunks (document_id, position, text, vector_id) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for i := range chunks {
			var vectorID sql.NullInt64
			if chunks[i].VectorID != nil {
				vectorID = sql.NullInt64{Int64: *chunks[i].VectorID, Valid: true}
			}
			res, err := stmt.ExecContext(ctx, documentID, i, chunks[i].Text, vectorID)
			if err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				chunks[i].ID = id
			}
			chunks[i].DocumentID = documentID
			chunks[i].Position = i
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

// ListByDocument returns the chunks of a document ordered by position.
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID int64) ([]ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, position, text, vector_id FROM chunks WHERE document_id = ? ORDER BY position",
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		var vectorID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Text, &vectorID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if vectorID.Valid {
			v := vectorID.Int64
			c.VectorID = &v
		}
		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return chunks, nil
}

// ListByVectorIDs returns joined rows for the given vector ids.
func (r *ChunkRepo) ListByVectorIDs(ctx context.Context, vectorIDs []int64) ([]ChunkHit, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vectorIDs)), ",")
	args := make([]any, len(vectorIDs))
	for i, id := range vectorIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hitColumns+`
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.vector_id IN (`+placeholders+`)
		 ORDER BY c.position, d.path`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks by vector ids: %w", err)
	}
	return scanHits(rows)
}

// GetByVectorID gets a single joined row.
func (r *ChunkRepo) GetByVectorID(ctx context.Context, vectorID int64) (*ChunkHit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hitColumns+`
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.vector_id = ?`,
		vectorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	hits, err := scanHits(rows)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNotFound
	}
	return &hits[0], nil
}

// ListWindow returns chunks of a document within a position range.
func (r *ChunkRepo) ListWindow(ctx context.Context, documentID int64, from, to int) ([]ChunkHit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hitColumns+`
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.document_id = ? AND c.position BETWEEN ? AND ? AND c.vector_id IS NOT NULL
		 ORDER BY c.position`,
		documentID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk window: %w", err)
	}
	return scanHits(rows)
}

// Count returns the number of chunk rows.
func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func scanHits(rows *sql.Rows) ([]ChunkHit, error) {
	defer func() {
		_ = rows.Close()
	}()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var modified string
		if err := rows.Scan(&h.VectorID, &h.DocumentID, &h.Position, &h.Text, &h.Path, &h.Type, &h.Tags, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		t, err := parseTime(modified)
		if err != nil {
			return nil, fmt.Errorf("failed to parse modified timestamp: %w", err)
		}
		h.Modified = t
		hits = append(hits, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return hits, nil
}
