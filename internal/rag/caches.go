package rag

import (
	"fmt"

	"pkm-search/internal/cache"
)

const (
	DefaultEmbedCacheSize  = 256
	DefaultSearchCacheSize = 128
	DefaultQACacheSize     = 128
)

// Caches are the bounded caches of the retrieval engine, built once at startup.
type Caches struct {
	Embeddings *cache.LRU[cache.Key, []float32]
	Search     *cache.LRU[cache.Key, SearchResponse]
	QA         *cache.LRU[cache.Key, AnswerResponse]
}

// NewCaches creates the three caches. Non-positive sizes fall back to the defaults.
func NewCaches(embedSize, searchSize, qaSize int) (*Caches, error) {
	if embedSize <= 0 {
		embedSize = DefaultEmbedCacheSize
	}
	if searchSize <= 0 {
		searchSize = DefaultSearchCacheSize
	}
	if qaSize <= 0 {
		qaSize = DefaultQACacheSize
	}

	embeddings, err := cache.New[cache.Key, []float32]("embeddings", embedSize)
	if err != nil {
		return nil, err
	}
	search, err := cache.New[cache.Key, SearchResponse]("search", searchSize)
	if err != nil {
		return nil, err
	}
	qa, err := cache.New[cache.Key, AnswerResponse]("qa", qaSize)
	if err != nil {
		return nil, err
	}
	return &Caches{Embeddings: embeddings, Search: search, QA: qa}, nil
}

func searchKey(query string, k int, f Filters) cache.Key {
	return cache.Fingerprint("search", query, fmt.Sprint(k), f.FileType, f.Tag, f.ModifiedAfter)
}

func answerKey(query string, k, maxCtx int, f Filters) cache.Key {
	return cache.Fingerprint("qa", query, fmt.Sprint(k), fmt.Sprint(maxCtx), f.FileType, f.Tag, f.ModifiedAfter)
}

func embeddingKey(query string) cache.Key {
	return cache.Fingerprint("embed", query)
}
