package rag

import (
	"fmt"
	"strings"
)

const qaPromptTemplate = `You are a precise assistant. Use ONLY the provided context to answer.
If the answer is not in the context, say "I don't know from the provided documents."

Question:
%s

Context:
%s

Instructions:
- Be concise (3-6 sentences).
- Cite sources inline like [1], [2].
- If multiple sources support a claim, cite all relevant ones.
- Do not invent facts outside the context.

Answer:`

// BuildQAPrompt numbers the sources [1]..[n] in order and embeds them in the grounding
// prompt. Each source contributes its preview, cut to the per-snippet budget.
func BuildQAPrompt(question string, sources []Source, maxContextChars, k int) string {
	entries := make([]string, 0, len(sources))
	for i, s := range sources {
		snippet := trimSnippet(s.Preview, maxContextChars, k)
		snippet = strings.TrimSpace(strings.ReplaceAll(snippet, "\n\n", "\n"))
		entries = append(entries, fmt.Sprintf("[%d] (%s#%d)\n%s", i+1, s.DocPath, s.Position, snippet))
	}
	return fmt.Sprintf(qaPromptTemplate, question, strings.Join(entries, "\n\n---\n\n"))
}

// trimSnippet cuts text to max(100, min(len, maxContextChars/k)) characters.
func trimSnippet(text string, maxContextChars, k int) string {
	r := []rune(strings.TrimSpace(text))
	limit := max(100, min(len(r), maxContextChars/max(1, k)))
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}

// preview collapses blank lines and keeps the first n characters.
func preview(text string, n int) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n\n", "\n")
	return truncateRunes(text, n)
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
