package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

const (
	retryBaseDelay = 5 * time.Minute
	retryMaxDelay  = 24 * time.Hour
)

// DocEntry is the last successfully indexed state of one document.
type DocEntry struct {
	Hash string  `json:"doc_hash"`
	IDs  []int64 `json:"chunk_ids"`
}

// Failure tracks a document whose last indexing attempt failed.
type Failure struct {
	Hash        string    `json:"doc_hash"`
	Attempts    int       `json:"attempts"`
	NextAttempt time.Time `json:"next_attempt"`
	LastError   string    `json:"last_error"`
}

type docMapFile struct {
	Documents map[string]DocEntry `json:"documents"`
	Failures  map[string]Failure  `json:"failures,omitempty"`
}

// DocMap is the durable path -> {hash, vector ids} cross reference.
type DocMap struct {
	mu       sync.RWMutex
	path     string
	docs     map[string]DocEntry
	failures map[string]Failure
}

// LoadDocMap reads the map at path. A missing file is an empty map.
func LoadDocMap(path string) (*DocMap, error) {
	m := &DocMap{
		path:     path,
		docs:     make(map[string]DocEntry),
		failures: make(map[string]Failure),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document map: %w", err)
	}

	var f docMapFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode document map %s: %w", path, err)
	}
	if f.Documents != nil {
		m.docs = f.Documents
	}
	if f.Failures != nil {
		m.failures = f.Failures
	}
	return m, nil
}

// Save writes the map atomically.
func (m *DocMap) Save() error {
	m.mu.RLock()
	data, err := json.Marshal(docMapFile{Documents: m.docs, Failures: m.failures})
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode document map: %w", err)
	}
	if err := renameio.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document map: %w", err)
	}
	return nil
}

// Clear drops every entry and failure and removes the file.
func (m *DocMap) Clear() error {
	m.mu.Lock()
	m.docs = make(map[string]DocEntry)
	m.failures = make(map[string]Failure)
	m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove document map: %w", err)
	}
	return nil
}

// Get returns the entry for path.
func (m *DocMap) Get(path string) (DocEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[path]
	return e, ok
}

// Set records a successfully indexed document and forgets any failure for it.
func (m *DocMap) Set(path string, e DocEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = DocEntry{Hash: e.Hash, IDs: slices.Clone(e.IDs)}
	delete(m.failures, path)
}

// Delete forgets path entirely.
func (m *DocMap) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	delete(m.failures, path)
}

// Paths returns the tracked paths, sorted.
func (m *DocMap) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.docs))
	for p := range m.docs {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Len returns the number of tracked documents.
func (m *DocMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// VectorCount returns the number of vector ids referenced by all entries.
func (m *DocMap) VectorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.docs {
		n += len(e.IDs)
	}
	return n
}

// LiveIDs returns the set of vector ids referenced by any entry.
func (m *DocMap) LiveIDs() map[int64]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]struct{}, len(m.docs))
	for _, e := range m.docs {
		for _, id := range e.IDs {
			out[id] = struct{}{}
		}
	}
	return out
}

// RecordFailure notes a failed attempt for path at content hash. Attempts on the same hash back
// off exponentially; a new hash starts over.
func (m *DocMap) RecordFailure(path, hash string, cause error, now time.Time) Failure {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.failures[path]
	if f.Hash != hash {
		f = Failure{Hash: hash}
	}
	f.Attempts++
	f.NextAttempt = now.Add(backoff(f.Attempts))
	if cause != nil {
		f.LastError = cause.Error()
	}
	m.failures[path] = f
	return f
}

// ShouldAttempt reports whether path at hash may be indexed now. Only a failure recorded for the
// same hash and still inside its backoff window defers it.
func (m *DocMap) ShouldAttempt(path, hash string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.failures[path]
	if !ok || f.Hash != hash {
		return true
	}
	return !now.Before(f.NextAttempt)
}

// Failures returns a copy of the pending failure records.
func (m *DocMap) Failures() map[string]Failure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Failure, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

func backoff(attempts int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}
