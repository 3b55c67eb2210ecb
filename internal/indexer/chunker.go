package indexer

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultTargetTokens   = 350
	DefaultOverlapTokens  = 50
	DefaultMinChunkTokens = 40

	blockSeparator = "\n\n"
)

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t]+`)
	extraNewlinesRe   = regexp.MustCompile(`\n{3,}`)
	blankLineRe       = regexp.MustCompile(`\n{2,}`)
	codeFenceRe       = regexp.MustCompile("(?ms)^```.*?^```")
)

// ChunkOptions bounds chunk sizes in tokens.
type ChunkOptions struct {
	TargetTokens   int
	OverlapTokens  int
	MinChunkTokens int
}

// DefaultChunkOptions returns the sizes used when nothing is configured.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		TargetTokens:   DefaultTargetTokens,
		OverlapTokens:  DefaultOverlapTokens,
		MinChunkTokens: DefaultMinChunkTokens,
	}
}

// Validate checks that the options describe a usable chunker.
func (o ChunkOptions) Validate() error {
	if o.TargetTokens <= 0 {
		return fmt.Errorf("target tokens must be positive, got %d", o.TargetTokens)
	}
	if o.OverlapTokens < 0 || o.OverlapTokens >= o.TargetTokens {
		return fmt.Errorf("overlap tokens must be in [0, %d), got %d", o.TargetTokens, o.OverlapTokens)
	}
	if o.MinChunkTokens < 0 {
		return fmt.Errorf("min chunk tokens must not be negative, got %d", o.MinChunkTokens)
	}
	return nil
}

// TokenChunker packs paragraphs and fenced code blocks into overlapping, token-bounded chunks.
type TokenChunker struct {
	tok  Tokenizer
	opts ChunkOptions
	sep  []int
}

// NewTokenChunker creates a chunker over tok.
func NewTokenChunker(tok Tokenizer, opts ChunkOptions) (*TokenChunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &TokenChunker{tok: tok, opts: opts, sep: tok.Encode(blockSeparator)}, nil
}

// CountTokens returns the token length of text.
func (c *TokenChunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// Options returns the chunk sizes in use.
func (c *TokenChunker) Options() ChunkOptions {
	return c.opts
}

// Chunk splits text into trimmed, non-empty chunks. Whitespace-only input yields nil.
func (c *TokenChunker) Chunk(text string) []string {
	var out []string
	for _, toks := range c.ChunkTokens(text) {
		s := strings.TrimSpace(c.tok.Decode(toks))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ChunkTokens returns the token slices of every chunk before decoding.
func (c *TokenChunker) ChunkTokens(text string) [][]int {
	text = normalizeText(text)
	if text == "" {
		return nil
	}

	target := c.opts.TargetTokens
	overlap := c.opts.OverlapTokens

	var chunks [][]int
	var cur []int

	flush := func() {
		if len(cur) == 0 {
			return
		}
		// an undersized chunk folds into its predecessor; the first one stands alone
		if len(cur) < c.opts.MinChunkTokens && len(chunks) > 0 {
			last := len(chunks) - 1
			chunks[last] = append(chunks[last], cur...)
		} else {
			chunks = append(chunks, cur)
		}
		cur = nil
	}

	for _, block := range splitBlocks(text) {
		btoks := c.tok.Encode(block)

		if len(btoks) > 2*target {
			flush()
			chunks = append(chunks, c.hardSplit(btoks)...)
			continue
		}

		if len(cur)+c.joinCost(cur)+len(btoks) <= target {
			cur = c.join(cur, btoks)
			continue
		}

		flush()
		if overlap > 0 && len(chunks) > 0 {
			prev := chunks[len(chunks)-1]
			cur = append([]int(nil), prev[max(0, len(prev)-overlap):]...)
		}
		if len(btoks) > target && len(cur) == 0 {
			chunks = append(chunks, c.hardSplit(btoks)...)
			continue
		}
		cur = c.join(cur, btoks)
	}
	flush()

	return chunks
}

// hardSplit cuts a token stream into target-sized pieces; each piece after the first is
// prefixed with the overlap tokens that precede it in the stream.
func (c *TokenChunker) hardSplit(toks []int) [][]int {
	target := c.opts.TargetTokens
	overlap := c.opts.OverlapTokens

	var out [][]int
	for start := 0; start < len(toks); start += target {
		end := min(start+target, len(toks))
		from := start
		if start > 0 {
			from = max(0, start-overlap)
		}
		out = append(out, append([]int(nil), toks[from:end]...))
	}
	return out
}

func (c *TokenChunker) joinCost(cur []int) int {
	if len(cur) == 0 {
		return 0
	}
	return len(c.sep)
}

func (c *TokenChunker) join(cur, block []int) []int {
	out := make([]int, 0, len(cur)+len(c.sep)+len(block))
	out = append(out, cur...)
	if len(cur) > 0 {
		out = append(out, c.sep...)
	}
	return append(out, block...)
}

// normalizeText unifies line endings, squeezes horizontal whitespace and caps blank runs at one
// empty line.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpaceRe.ReplaceAllString(text, " ")
	text = extraNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// splitBlocks keeps fenced code blocks whole and splits the rest on blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	addParagraphs := func(s string) {
		for _, p := range blankLineRe.Split(s, -1) {
			if strings.TrimSpace(p) != "" {
				blocks = append(blocks, p)
			}
		}
	}

	pos := 0
	for _, loc := range codeFenceRe.FindAllStringIndex(text, -1) {
		addParagraphs(text[pos:loc[0]])
		blocks = append(blocks, strings.TrimSpace(text[loc[0]:loc[1]]))
		pos = loc[1]
	}
	addParagraphs(text[pos:])
	return blocks
}
