// Package extract turns files of the document library into plain text plus metadata.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/encoding/charmap"
)

// MaxFileSize is the largest file the extractor will read.
const MaxFileSize = 20 << 20

// Kind groups file types that share an extraction strategy.
type Kind int

const (
	KindUnsupported Kind = iota
	KindMarkdown
	KindCode
	KindPlain
)

var kinds = map[string]Kind{
	"md": KindMarkdown, "markdown": KindMarkdown,

	"py": KindCode, "js": KindCode, "ts": KindCode, "tsx": KindCode, "java": KindCode,
	"go": KindCode, "rs": KindCode, "cpp": KindCode, "c": KindCode, "h": KindCode,
	"cs": KindCode, "rb": KindCode, "php": KindCode, "scala": KindCode, "kt": KindCode,
	"sql": KindCode,

	"txt": KindPlain, "text": KindPlain, "rst": KindPlain, "org": KindPlain, "csv": KindPlain,
}

// ErrUnsupported is returned for file types the extractor does not handle.
var ErrUnsupported = errors.New("unsupported file type")

// ErrTooLarge is returned for files above MaxFileSize.
var ErrTooLarge = errors.New("file too large")

var (
	hyphenBreakRe = regexp.MustCompile(`(\w)-\n(\w)`)
	multiSpaceRe  = regexp.MustCompile(`[ \t]+`)
	manyNewlineRe = regexp.MustCompile(`\n{3,}`)
	urlRe         = regexp.MustCompile(`https?://\S+`)
)

// Document is the extracted form of one file.
type Document struct {
	Path     string
	Text     string
	Hash     string // sha256 of Text, or of the raw bytes when Fallback is set
	Type     string // lower-case extension without the dot
	Tags     []string
	Size     int64
	Modified time.Time
	Fallback bool
}

// Extractor reads library files. It is safe for concurrent use.
type Extractor struct {
	md goldmark.Markdown
}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		),
	}
}

// TypeOf returns the declared type of path: its lower-case extension without the dot.
func TypeOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// KindOf classifies path by extension.
func KindOf(path string) Kind {
	return kinds[TypeOf(path)]
}

// Supported reports whether path has an extension the extractor handles.
func Supported(path string) bool {
	return KindOf(path) != KindUnsupported
}

// Extract reads path and returns its plain text. Markdown markup is stripped and front
// matter tags are collected; code and plain text are decoded and normalized.
func (e *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind := KindOf(path)
	if kind == KindUnsupported {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}

	raw, info, err := readFile(path)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Path:     path,
		Type:     TypeOf(path),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}

	switch kind {
	case KindMarkdown:
		text, tags, err := e.markdownText(decode(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to extract markdown %s: %w", path, err)
		}
		doc.Text = Normalize(urlRe.ReplaceAllString(text, ""))
		doc.Tags = tags
	default:
		doc.Text = Normalize(decode(raw))
	}

	doc.Hash = HashText(doc.Text)
	return doc, nil
}

// Raw is the best-effort fallback when Extract fails: the file is decoded as text without
// interpretation and hashed on its raw bytes.
func Raw(path string) (*Document, error) {
	raw, info, err := readFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return &Document{
		Path:     path,
		Text:     Normalize(decode(raw)),
		Hash:     hex.EncodeToString(sum[:]),
		Type:     TypeOf(path),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
		Fallback: true,
	}, nil
}

// HashText returns the hex sha256 of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Normalize unifies line endings, rejoins hyphenated line breaks, squeezes horizontal
// whitespace and caps blank runs at one empty line.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = hyphenBreakRe.ReplaceAllString(s, "$1$2")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = manyNewlineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func readFile(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, nil, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrTooLarge)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, info, nil
}

// decode returns raw as UTF-8. Bytes that are not valid UTF-8 are read as Windows-1252,
// the usual encoding of legacy notes.
func decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "")
	}
	return string(out)
}
