package rag

import (
	"context"
	"strings"
	"time"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/storage"
)

var modifiedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// compiledFilters is Filters with the date parsed once per request.
type compiledFilters struct {
	fileType string
	tag      string
	after    time.Time
	hasAfter bool
}

func (f Filters) compile(ctx context.Context) compiledFilters {
	c := compiledFilters{
		fileType: strings.ToLower(strings.TrimSpace(f.FileType)),
		tag:      strings.ToLower(strings.TrimSpace(f.Tag)),
	}
	if raw := strings.TrimSpace(f.ModifiedAfter); raw != "" {
		after, ok := parseModified(raw)
		if ok {
			c.after, c.hasAfter = after, true
		} else {
			contextutil.LoggerFromContext(ctx).WarnContext(ctx, "ignoring unparsable modified_after filter", "value", raw)
		}
	}
	return c
}

// parseModified reads the accepted date layouts. Times without a zone are UTC.
func parseModified(s string) (time.Time, bool) {
	for _, layout := range modifiedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (c compiledFilters) match(h storage.ChunkHit) bool {
	if c.fileType != "" && strings.ToLower(h.Type) != c.fileType {
		return false
	}
	if c.tag != "" && !strings.Contains(strings.ToLower(h.Tags), c.tag) {
		return false
	}
	if c.hasAfter && h.Modified.Before(c.after) {
		return false
	}
	return true
}
