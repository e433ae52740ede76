package rag

import (
	"fmt"
	"strings"
)

const promptPreamble = `You are a research assistant answering questions about academic papers.
Answer strictly from the numbered source excerpts below. Cite every claim with a marker like (Source 2).
If the excerpts do not contain the answer, say so explicitly instead of guessing.`

// BuildEntries promotes ranked candidates into prompt entries,
// assigning contiguous 1-based source indices in rank order.
func BuildEntries(candidates []Candidate) []ContextEntry {
	out := make([]ContextEntry, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, ContextEntry{Candidate: c, SourceIndex: i + 1})
	}
	return out
}

// RenderContext formats entries as numbered blocks with a metadata
// header line, one blank line between blocks.
func RenderContext(entries []ContextEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := e.Chunk.Title
		if title == "" {
			title = e.Chunk.Filename
		}
		fmt.Fprintf(&b, "[Source %d] %s (%s, pages %s)\n", e.SourceIndex, title, e.Chunk.Section, e.Chunk.PageRange())
		b.WriteString(e.Chunk.Text)
	}
	return b.String()
}

func BuildPrompt(question string, entries []ContextEntry) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\nSources:\n")
	b.WriteString(RenderContext(entries))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer with citations:")
	return b.String()
}

// SourcesUsed lists the distinct source filenames in entry order.
func SourcesUsed(entries []ContextEntry) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if f := e.Chunk.Filename; f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// PaperIDsUsed lists the distinct paper ids in entry order.
func PaperIDsUsed(entries []ContextEntry) []int64 {
	seen := make(map[int64]bool, len(entries))
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		if id := e.Chunk.PaperID; !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
