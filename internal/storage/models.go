package storage

import "time"

// DocumentRecord represents a tracked document in the database.
type DocumentRecord struct {
	ID       int64
	Path     string // Absolute path, unique
	Hash     string // SHA256 hex of the extracted text (raw bytes when extraction failed)
	Type     string // Lower-case extension without the dot
	Size     int64
	Tags     string // Comma separated, free-form
	Modified time.Time
}

// ChunkRecord represents a chunk row owned by a document.
type ChunkRecord struct {
	ID         int64
	DocumentID int64
	Position   int
	Text       string
	VectorID   *int64 // nil until embedded
}

// ChunkHit is a chunk joined with its owning document, as returned to retrieval.
type ChunkHit struct {
	VectorID   int64
	DocumentID int64
	Position   int
	Text       string
	Path       string
	Type       string
	Tags       string
	Modified   time.Time
}

// timeLayout is how timestamps are stored in TEXT columns.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	// Rows written by CURRENT_TIMESTAMP defaults use the SQLite layout.
	return time.Parse("2006-01-02 15:04:05", s)
}
