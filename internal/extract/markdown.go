package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

type frontMatter struct {
	Tags     any `yaml:"tags"`
	Keywords any `yaml:"keywords"`
}

// splitFrontMatter separates a leading "---" YAML block from the markdown body.
func splitFrontMatter(src string) (meta, body string, ok bool) {
	if !strings.HasPrefix(src, "---\n") && !strings.HasPrefix(src, "---\r\n") {
		return "", src, false
	}
	rest := src[strings.Index(src, "\n")+1:]
	for offset := 0; offset < len(rest); {
		end := strings.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		if end >= 0 {
			line = rest[offset : offset+end]
		}
		if strings.TrimRight(line, "\r") == "---" {
			if end < 0 {
				return rest[:offset], "", true
			}
			return rest[:offset], rest[offset+end+1:], true
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return "", src, false
}

// parseTags accepts tags as a YAML list or a comma separated string.
func parseTags(meta string) ([]string, error) {
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}

	var tags []string
	seen := make(map[string]struct{})
	var add func(v any)
	add = func(v any) {
		switch t := v.(type) {
		case string:
			for _, part := range strings.Split(t, ",") {
				part = strings.TrimPrefix(strings.TrimSpace(part), "#")
				if part == "" {
					continue
				}
				if _, dup := seen[part]; !dup {
					seen[part] = struct{}{}
					tags = append(tags, part)
				}
			}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					add(s)
				} else if item != nil {
					add(fmt.Sprint(item))
				}
			}
		}
	}
	add(fm.Tags)
	add(fm.Keywords)
	return tags, nil
}

// markdownText renders the markdown source as plain text. Paragraphs and headings are
// separated by blank lines, fenced code keeps its fences, link targets are dropped.
func (e *Extractor) markdownText(src string) (string, []string, error) {
	var tags []string
	if meta, body, ok := splitFrontMatter(src); ok {
		parsed, err := parseTags(meta)
		if err != nil {
			return "", nil, err
		}
		tags = parsed
		src = body
	}

	content := []byte(src)
	doc := e.md.Parser().Parse(text.NewReader(content))

	var b strings.Builder
	ensure := func(sep string) {
		if b.Len() == 0 {
			return
		}
		cur := b.String()
		for _, suffix := range []string{sep, "\n\n"} {
			if strings.HasSuffix(cur, suffix) {
				return
			}
		}
		if sep == "\n\n" && strings.HasSuffix(cur, "\n") {
			b.WriteString("\n")
			return
		}
		b.WriteString(sep)
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.List, *ast.Blockquote, *ast.ThematicBreak:
			ensure("\n\n")

		case *ast.ListItem, *ast.TextBlock:
			ensure("\n")

		case *ast.Text:
			b.Write(node.Segment.Value(content))
			if node.HardLineBreak() || node.SoftLineBreak() {
				b.WriteString("\n")
			}

		case *ast.String:
			b.Write(node.Value)

		case *ast.FencedCodeBlock:
			ensure("\n\n")
			b.WriteString("```")
			b.Write(node.Language(content))
			b.WriteString("\n")
			writeLines(&b, node, content)
			b.WriteString("```\n\n")
			return ast.WalkSkipChildren, nil

		case *ast.CodeBlock:
			ensure("\n\n")
			writeLines(&b, node, content)
			b.WriteString("\n")
			return ast.WalkSkipChildren, nil

		case *ast.AutoLink, *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil

		case *east.TableRow, *east.TableHeader:
			ensure("\n")
			b.WriteString(tableRowText(n, content))
			b.WriteString("\n")
			return ast.WalkSkipChildren, nil

		case *east.Table:
			ensure("\n\n")
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to walk markdown: %w", err)
	}

	return b.String(), tags, nil
}

func writeLines(b *strings.Builder, n ast.Node, content []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(content))
	}
}

// tableRowText joins a row's cells with pipe separators.
func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		cells = append(cells, inlineText(c, content))
	}
	return strings.Join(cells, " | ")
}

// inlineText collects the literal text below n.
func inlineText(n ast.Node, content []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(content))
		case *ast.String:
			buf.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
