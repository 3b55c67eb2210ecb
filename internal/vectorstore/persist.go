package vectorstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/google/renameio/v2"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/service"
)

const (
	fileMagic   = "PKMV"
	fileVersion = uint32(1)
	// headerSize is magic + version + dim + count.
	headerSize = int64(len(fileMagic)) + 4 + 4 + 8
)

// CreateOrLoad loads the index persisted at path, or creates an empty one of width dim when
// the file does not exist. A stored width that differs from a non-zero dim is an error.
func CreateOrLoad(path string, dim int) (*FlatIndex, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewFlatIndex(path, dim), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat index: %w", err)
	}

	idx, err := decode(bufio.NewReader(file), path, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", path, err)
	}
	if dim != 0 && idx.dim != 0 && idx.dim != dim {
		return nil, fmt.Errorf("index %s has width %d, requested %d: %w", path, idx.dim, dim, service.ErrDimensionMismatch)
	}
	if idx.dim == 0 {
		idx.dim = dim
	}
	return idx, nil
}

// Persist writes the index atomically: a temp file in the same directory is renamed over path.
func (f *FlatIndex) Persist(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pf, err := renameio.NewPendingFile(f.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer func() {
		_ = pf.Cleanup()
	}()

	w := bufio.NewWriter(pf)
	if err := f.encode(w); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "index persisted", "path", f.path, "vectors", len(f.ids), "dim", f.dim)
	return nil
}

// Reset drops all vectors and the persisted file. The width is released as well.
func (f *FlatIndex) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dim = 0
	f.ids = nil
	f.vecs = nil
	f.slot = make(map[int64]int)

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	return nil
}

// Path returns the file backing the index.
func (f *FlatIndex) Path() string {
	return f.path
}

// encode writes: magic, version, dim, count, then (id, dim float32) per record.
func (f *FlatIndex) encode(w io.Writer) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return err
	}
	header := []any{fileVersion, uint32(f.dim), uint64(len(f.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	buf := make([]byte, 8+4*f.dim)
	for s, id := range f.ids {
		binary.LittleEndian.PutUint64(buf[:8], uint64(id))
		for j, x := range f.vecs[s*f.dim : (s+1)*f.dim] {
			binary.LittleEndian.PutUint32(buf[8+4*j:], math.Float32bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// decode reads an index of size bytes. The header's record count is checked against size
// before anything is allocated.
func decode(r io.Reader, path string, size int64) (*FlatIndex, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("not an index file (magic %q)", magic)
	}

	var version, dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dim: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if count > 0 && dim == 0 {
		return nil, fmt.Errorf("index has %d records but no width", count)
	}
	recordSize := 8 + 4*uint64(dim)
	if payload := size - headerSize; payload < 0 || count > uint64(payload)/recordSize || uint64(payload) != count*recordSize {
		return nil, fmt.Errorf("header claims %d records of width %d, file holds %d bytes", count, dim, size)
	}

	idx := NewFlatIndex(path, int(dim))
	idx.ids = make([]int64, 0, count)
	idx.vecs = make([]float32, 0, count*uint64(dim))

	buf := make([]byte, 8+4*int(dim))
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read record %d: %w", i, err)
		}
		id := int64(binary.LittleEndian.Uint64(buf[:8]))
		if _, dup := idx.slot[id]; dup {
			return nil, fmt.Errorf("duplicate vector id %d", id)
		}
		idx.slot[id] = len(idx.ids)
		idx.ids = append(idx.ids, id)
		for j := 0; j < int(dim); j++ {
			idx.vecs = append(idx.vecs, math.Float32frombits(binary.LittleEndian.Uint32(buf[8+4*j:])))
		}
	}
	return idx, nil
}
