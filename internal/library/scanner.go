package library

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/extract"
)

// ScanAll walks every root and returns the absolute paths of supported, non-hidden files,
// sorted. Unreadable entries are logged and skipped.
func (m *Manager) ScanAll(ctx context.Context) ([]string, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var files []string

	for _, root := range m.roots {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return fmt.Errorf("failed to access root %s: %w", root, err)
				}
				logger.WarnContext(ctx, "skipping unreadable path", "path", path, "error", err)
				return nil
			}

			if d.IsDir() {
				if path != root && isHidden(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if isHidden(d.Name()) || !d.Type().IsRegular() || !extract.Supported(path) {
				return nil
			}

			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan root %s: %w", root, err)
		}
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}
