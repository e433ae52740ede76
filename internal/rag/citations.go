package rag

import (
	"regexp"
	"strconv"
)

var sourceMarkerRe = regexp.MustCompile(`\(Source\s+(\d+)\)`)

// ExtractCitations scans the answer for (Source N) markers and maps
// valid ones back to context entries. Citations follow first
// appearance order in the text; repeated and out-of-range markers are
// dropped silently.
func ExtractCitations(answer string, entries []ContextEntry) []Citation {
	matches := sourceMarkerRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return []Citation{}
	}
	seen := make(map[int]bool, len(matches))
	out := make([]Citation, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(entries) || seen[n] {
			continue
		}
		seen[n] = true
		e := entries[n-1]
		title := e.Chunk.Title
		if title == "" {
			title = e.Chunk.Filename
		}
		out = append(out, Citation{
			PaperID:        e.Chunk.PaperID,
			PaperTitle:     title,
			Section:        e.Chunk.Section,
			Pages:          e.Chunk.PageRange(),
			RelevanceScore: e.Score,
			SourceIndex:    n,
		})
	}
	return out
}
