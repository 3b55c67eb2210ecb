package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"pkm-search/internal/rag"
	"pkm-search/internal/service"
)

// intParam reads an optional integer query parameter.
func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &service.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

// filtersFromQuery reads the optional result filters shared by /search and /qa.
func filtersFromQuery(q url.Values) rag.Filters {
	return rag.Filters{
		FileType:      strings.TrimSpace(q.Get("file_type")),
		Tag:           strings.TrimSpace(q.Get("tag")),
		ModifiedAfter: strings.TrimSpace(q.Get("modified_after")),
	}
}
