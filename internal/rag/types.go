package rag

import "time"

const (
	DefaultK               = 5
	MaxK                   = 20
	DefaultMaxContextChars = 2400

	// overFetch is how many index hits are requested per wanted result, leaving room for
	// filters and duplicates.
	overFetch = 3

	previewChars   = 500
	qaPreviewChars = 240
)

// Filters narrow search results by document metadata. Empty fields do not filter.
type Filters struct {
	// FileType matches the document type (extension without the dot), case-insensitively.
	FileType string `json:"file_type,omitempty"`
	// Tag is a case-insensitive substring of the document's tags.
	Tag string `json:"tag,omitempty"`
	// ModifiedAfter keeps documents modified at or after this date. Accepted layouts are
	// RFC 3339, "2006-01-02T15:04:05" and "2006-01-02"; anything else is ignored.
	ModifiedAfter string `json:"modified_after,omitempty"`
}

// SearchRequest is a semantic search over the indexed chunks.
type SearchRequest struct {
	Query   string  `json:"query"`
	K       int     `json:"k,omitempty"`
	Filters Filters `json:"filters"`
}

// Source is one retrieved chunk.
type Source struct {
	// ID is the chunk's vector id; pass it to Context to read the surrounding chunks.
	ID       int64     `json:"id"`
	Score    float32   `json:"score"`
	DocPath  string    `json:"doc_path"`
	Position int       `json:"position"`
	Preview  string    `json:"preview"`
	Tags     string    `json:"tags"`
	Type     string    `json:"type"`
	Modified time.Time `json:"modified"`
}

// SearchResponse holds up to K sources ordered by descending score.
type SearchResponse struct {
	Query   string   `json:"query"`
	Results []Source `json:"results"`
}

// AnswerRequest asks a question grounded in the indexed documents.
type AnswerRequest struct {
	Query   string  `json:"query"`
	K       int     `json:"k,omitempty"`
	Filters Filters `json:"filters"`
	// MaxContextChars bounds the context sent to the generator. Defaults to 2400.
	MaxContextChars int `json:"max_ctx_chars,omitempty"`
}

// AnswerResponse is a generated answer with the sources it was grounded in.
type AnswerResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
}

// ContextItem is one chunk of a context window.
type ContextItem struct {
	ID       int64  `json:"id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// ContextResponse is the window of chunks around a center chunk.
type ContextResponse struct {
	OK       bool          `json:"ok"`
	Center   int64         `json:"center"`
	DocPath  string        `json:"doc_path"`
	Position int           `json:"position"`
	Context  []ContextItem `json:"context"`
}

// clampK applies the default and the bounds to a requested result count.
func clampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return min(k, MaxK)
}

// clampRadius applies the bounds to a context window radius.
func clampRadius(r int) int {
	return max(0, min(r, 3))
}
