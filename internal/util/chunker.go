package util

import (
	"regexp"
	"strings"

	"paperquery/internal/models"
)

// Sentence is one sentence of extracted paper text, tagged with the page it
// came from and the section its heading context assigned.
type Sentence struct {
	Text    string
	Page    int
	Section models.Section
}

// ChunkPiece is one sentence-grouped chunk. Page ranges are non-decreasing
// across chunk index because sentences are consumed in page order.
type ChunkPiece struct {
	Text       string
	Section    models.Section
	PageStart  int
	PageEnd    int
	ChunkIndex int
}

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?])\s+`)

// SplitSentences walks per-page text, tracks section headings, and returns
// section-tagged sentences in page order.
func SplitSentences(pages []string) []Sentence {
	current := models.SectionUnknown
	out := make([]Sentence, 0, 256)
	for i, pageText := range pages {
		pageNo := i + 1
		for _, line := range strings.Split(pageText, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if sec, ok := DetectSectionHeading(line); ok {
				current = sec
				continue
			}
			for _, sent := range splitLineSentences(line) {
				sent = strings.TrimSpace(sent)
				if sent == "" {
					continue
				}
				out = append(out, Sentence{Text: sent, Page: pageNo, Section: current})
			}
		}
	}
	return out
}

func splitLineSentences(line string) []string {
	locs := sentenceSplitRe.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return []string{line}
	}
	out := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		// keep the terminating punctuation with the sentence
		out = append(out, line[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(line) {
		out = append(out, line[start:])
	}
	return out
}

// ChunkSentences groups sentences into chunks of at most maxChars, carrying
// overlapChars of trailing sentences into the next chunk. A section change
// always flushes so no chunk spans two sections.
func ChunkSentences(sentences []Sentence, maxChars, overlapChars int) []ChunkPiece {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = 0
	}

	chunks := make([]ChunkPiece, 0)
	buf := make([]Sentence, 0, 16)
	bufLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		parts := make([]string, 0, len(buf))
		for _, s := range buf {
			parts = append(parts, s.Text)
		}
		chunks = append(chunks, ChunkPiece{
			Text:       strings.TrimSpace(strings.Join(parts, " ")),
			Section:    buf[0].Section,
			PageStart:  buf[0].Page,
			PageEnd:    buf[len(buf)-1].Page,
			ChunkIndex: len(chunks),
		})
		if overlapChars > 0 {
			tail := make([]Sentence, 0, len(buf))
			tailLen := 0
			for i := len(buf) - 1; i >= 0; i-- {
				add := len(buf[i].Text) + 1
				if tailLen+add > overlapChars {
					break
				}
				tail = append([]Sentence{buf[i]}, tail...)
				tailLen += add
			}
			buf = tail
			bufLen = tailLen
		} else {
			buf = buf[:0]
			bufLen = 0
		}
	}

	var currentSection models.Section
	for _, s := range sentences {
		if currentSection == "" {
			currentSection = s.Section
		}
		if s.Section != currentSection {
			if len(buf) > 0 {
				flush()
				// overlap from another section would leak text across the
				// boundary, drop it
				buf = buf[:0]
				bufLen = 0
			}
			currentSection = s.Section
		}
		add := len(s.Text) + 1
		if bufLen+add > maxChars && len(buf) > 0 {
			flush()
		}
		buf = append(buf, s)
		bufLen += add
	}
	flush()

	return chunks
}
