package indexer

import (
	"slices"
	"strings"
	"testing"
)

func newRuneChunker(t *testing.T, target, overlap, minTokens int) *TokenChunker {
	t.Helper()
	c, err := NewTokenChunker(RuneTokenizer{}, ChunkOptions{
		TargetTokens:   target,
		OverlapTokens:  overlap,
		MinChunkTokens: minTokens,
	})
	if err != nil {
		t.Fatalf("NewTokenChunker() error = %v", err)
	}
	return c
}

func TestNewTokenChunker_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts ChunkOptions
	}{
		{"zero target", ChunkOptions{TargetTokens: 0}},
		{"overlap equals target", ChunkOptions{TargetTokens: 10, OverlapTokens: 10}},
		{"negative overlap", ChunkOptions{TargetTokens: 10, OverlapTokens: -1}},
		{"negative min", ChunkOptions{TargetTokens: 10, MinChunkTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenChunker(RuneTokenizer{}, tt.opts); err == nil {
				t.Error("NewTokenChunker() expected error")
			}
		})
	}
	if _, err := NewTokenChunker(nil, DefaultChunkOptions()); err == nil {
		t.Error("NewTokenChunker(nil) expected error")
	}
}

func TestTokenChunker_EmptyInput(t *testing.T) {
	c := newRuneChunker(t, 100, 10, 5)
	for _, in := range []string{"", "   ", "\n\n\t\r\n"} {
		if got := c.Chunk(in); len(got) != 0 {
			t.Errorf("Chunk(%q) = %v, want empty", in, got)
		}
	}
}

func TestTokenChunker_OversizedBlockOverlap(t *testing.T) {
	c := newRuneChunker(t, 100, 10, 5)
	chunks := c.ChunkTokens(strings.Repeat("A", 2000))

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if !slices.Equal(chunks[i][:10], prev[len(prev)-10:]) {
			t.Errorf("chunk %d does not start with the last 10 tokens of chunk %d", i, i-1)
		}
	}
	if len(chunks[0]) != 100 {
		t.Errorf("first chunk has %d tokens, want 100", len(chunks[0]))
	}
}

func TestTokenChunker_OversizedBlockTiktoken(t *testing.T) {
	tok, err := NewTiktokenTokenizer(DefaultEncoding)
	if err != nil {
		t.Fatalf("NewTiktokenTokenizer() error = %v", err)
	}
	c, err := NewTokenChunker(tok, ChunkOptions{TargetTokens: 100, OverlapTokens: 10, MinChunkTokens: 5})
	if err != nil {
		t.Fatalf("NewTokenChunker() error = %v", err)
	}

	text := strings.Repeat("A", 2000)
	if n := len(tok.Encode(text)); n <= 200 {
		t.Skipf("encoding produced %d tokens, not an oversized block", n)
	}

	chunks := c.ChunkTokens(text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if !slices.Equal(chunks[i][:10], prev[len(prev)-10:]) {
			t.Errorf("chunk %d does not share 10 tokens with chunk %d", i, i-1)
		}
	}
}

func TestTokenChunker_PacksParagraphsWithOverlap(t *testing.T) {
	c := newRuneChunker(t, 30, 5, 1)
	para := func(ch string) string { return strings.Repeat(ch, 12) }
	text := strings.Join([]string{para("a"), para("b"), para("c"), para("d")}, "\n\n")

	got := c.Chunk(text)
	want := []string{
		"aaaaaaaaaaaa\n\nbbbbbbbbbbbb",
		"bbbbb\n\ncccccccccccc",
		"ccccc\n\ndddddddddddd",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Chunk() = %q, want %q", got, want)
	}
}

func TestTokenChunker_MergesSmallTrailingChunk(t *testing.T) {
	c := newRuneChunker(t, 20, 0, 10)
	text := strings.Repeat("x", 18) + "\n\n" + "yy"

	got := c.Chunk(text)
	if len(got) != 1 {
		t.Fatalf("Chunk() returned %d chunks, want 1: %q", len(got), got)
	}
	if got[0] != strings.Repeat("x", 18)+"yy" {
		t.Errorf("merged chunk = %q", got[0])
	}
}

func TestTokenChunker_KeepsSmallFirstChunk(t *testing.T) {
	c := newRuneChunker(t, 100, 10, 40)
	got := c.Chunk("tiny")
	if !slices.Equal(got, []string{"tiny"}) {
		t.Errorf("Chunk() = %q, want [tiny]", got)
	}
}

func TestTokenChunker_CodeFenceIsAtomic(t *testing.T) {
	c := newRuneChunker(t, 60, 0, 1)
	fence := "```go\nfunc main() {\n\n\tprintln(1)\n}\n```"
	text := "intro paragraph\n\n" + fence + "\n\noutro"

	blocks := splitBlocks(normalizeText(text))
	if len(blocks) != 3 {
		t.Fatalf("splitBlocks() = %q, want 3 blocks", blocks)
	}
	if !strings.HasPrefix(blocks[1], "```go") || !strings.HasSuffix(blocks[1], "```") {
		t.Errorf("fenced block split apart: %q", blocks[1])
	}

	for _, chunk := range c.Chunk(text) {
		if strings.Contains(chunk, "```go") && !strings.Contains(chunk, "println(1)\n}\n```") {
			t.Errorf("fence broken across chunks: %q", chunk)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a\r\nb\rc", "a\nb\nc"},
		{"a  \t b", "a b"},
		{"a\n\n\n\n\nb", "a\n\nb"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenChunker_RoundTrip(t *testing.T) {
	tok, err := NewTiktokenTokenizer(DefaultEncoding)
	if err != nil {
		t.Fatalf("NewTiktokenTokenizer() error = %v", err)
	}
	c, err := NewTokenChunker(tok, ChunkOptions{TargetTokens: 40, OverlapTokens: 8, MinChunkTokens: 4})
	if err != nil {
		t.Fatalf("NewTokenChunker() error = %v", err)
	}

	text := strings.Repeat("Personal notes about retrieval, vector ids and café menus. ", 20) +
		"\n\n```python\nprint('hi')\n```\n\nA closing paragraph."
	for i, chunk := range c.Chunk(text) {
		if got := tok.Decode(tok.Encode(chunk)); got != chunk {
			t.Errorf("chunk %d does not round trip: %q != %q", i, got, chunk)
		}
	}
}

func TestTokenChunker_Deterministic(t *testing.T) {
	c := newRuneChunker(t, 50, 5, 5)
	text := strings.Repeat("alpha beta gamma\n\n", 30)
	if !slices.Equal(c.Chunk(text), c.Chunk(text)) {
		t.Error("Chunk() is not deterministic")
	}
}
