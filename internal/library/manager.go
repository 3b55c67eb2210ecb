// Package library tracks the document roots that make up the searchable collection.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the configured document roots and resolves paths against them.
type Manager struct {
	roots []string
}

// NewManager resolves roots to absolute paths, creating missing directories.
func NewManager(roots []string) (*Manager, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one document root is required")
	}

	m := &Manager{}
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create root %s: %w", abs, err)
		}
		seen[abs] = struct{}{}
		m.roots = append(m.roots, abs)
	}
	return m, nil
}

// Roots returns the absolute document roots.
func (m *Manager) Roots() []string {
	return append([]string(nil), m.roots...)
}

// Contains reports whether path lies inside one of the roots.
func (m *Manager) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range m.roots {
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// isHidden reports whether any element of path starts with a dot.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}
