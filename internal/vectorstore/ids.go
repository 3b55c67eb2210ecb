package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// IDAllocator hands out vector ids from a persisted monotonic counter.
// An id is issued once; ids of removed vectors are never handed out again.
type IDAllocator struct {
	mu   sync.Mutex
	path string
	next int64
}

type counterFile struct {
	Next int64 `json:"next"`
}

// OpenIDAllocator loads the counter at path. A missing file starts the counter at 0.
func OpenIDAllocator(path string) (*IDAllocator, error) {
	a := &IDAllocator{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read id counter: %w", err)
	}

	var cf counterFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to decode id counter %s: %w", path, err)
	}
	if cf.Next < 0 {
		return nil, fmt.Errorf("id counter %s is negative: %d", path, cf.Next)
	}
	a.next = cf.Next
	return a, nil
}

// Next reserves n consecutive ids and returns the first. The advanced counter is
// written before returning, so a crash can only skip ids, never repeat them.
func (a *IDAllocator) Next(n int) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("cannot reserve %d ids", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.next
	if n == 0 {
		return start, nil
	}

	data, err := json.Marshal(counterFile{Next: start + int64(n)})
	if err != nil {
		return 0, fmt.Errorf("failed to encode id counter: %w", err)
	}
	if err := renameio.WriteFile(a.path, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to persist id counter: %w", err)
	}

	a.next = start + int64(n)
	return start, nil
}

// Peek returns the next id that would be issued.
func (a *IDAllocator) Peek() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
