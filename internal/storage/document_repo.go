package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks pkm-search/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DocumentStore defines the interface for document storage operations.
type DocumentStore interface {
	// GetByPath gets a document by path. Returns nil and ErrNotFound if not found.
	GetByPath(ctx context.Context, path string) (*DocumentRecord, error)
	// Upsert inserts a new document or updates the existing row with the same path.
	// doc.ID is set to the row id.
	Upsert(ctx context.Context, doc *DocumentRecord) error
	// DeleteByPath deletes a document and, through the foreign key, its chunks.
	// It reports whether a row existed.
	DeleteByPath(ctx context.Context, path string) (bool, error)
	// Count returns the number of tracked documents.
	Count(ctx context.Context) (int, error)
	// DeleteAll removes every document and chunk.
	DeleteAll(ctx context.Context) error
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// GetByPath gets a document by path.
func (r *DocumentRepo) GetByPath(ctx context.Context, path string) (*DocumentRecord, error) {
	var doc DocumentRecord
	var modified string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, path, hash, type, size, tags, modified FROM documents WHERE path = ?",
		path,
	).Scan(&doc.ID, &doc.Path, &doc.Hash, &doc.Type, &doc.Size, &doc.Tags, &modified)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	doc.Modified, err = parseTime(modified)
	if err != nil {
		return nil, fmt.Errorf("failed to parse modified timestamp: %w", err)
	}

	return &doc, nil
}

// Upsert inserts a new document or updates hash, type, size, tags and modified time
// while preserving the row id.
func (r *DocumentRepo) Upsert(ctx context.Context, doc *DocumentRecord) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO documents (path, hash, type, size, tags, modified, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
		 hash = excluded.hash, type = excluded.type, size = excluded.size,
		 tags = excluded.tags, modified = excluded.modified, indexed_at = excluded.indexed_at
		 RETURNING id`,
		doc.Path, doc.Hash, doc.Type, doc.Size, doc.Tags, formatTime(doc.Modified), formatTime(time.Now()),
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// DeleteByPath deletes a document by path.
func (r *DocumentRepo) DeleteByPath(ctx context.Context, path string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of tracked documents.
func (r *DocumentRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// DeleteAll removes every document and chunk.
func (r *DocumentRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}
