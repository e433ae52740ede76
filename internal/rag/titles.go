package rag

import (
	"regexp"
	"sort"
	"strings"
)

var quotedPhraseRe = regexp.MustCompile(`"([^"]{4,})"|“([^”]{4,})”|'([^']{4,})'|‘([^’]{4,})’`)

// MatchQuotedTitles finds paper titles referenced in quotes inside the
// question and returns their ids, so a question like `what does "Attention
// Is All You Need" conclude?` is automatically scoped to that paper.
// Matching is case-insensitive containment in either direction.
func MatchQuotedTitles(question string, titles map[int64]string) []int64 {
	matches := quotedPhraseRe.FindAllStringSubmatch(question, -1)
	if len(matches) == 0 {
		return nil
	}
	phrases := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, group := range m[1:] {
			if group != "" {
				phrases = append(phrases, strings.ToLower(strings.TrimSpace(group)))
				break
			}
		}
	}

	out := make([]int64, 0, 2)
	for id, title := range titles {
		lower := strings.ToLower(title)
		for _, phrase := range phrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lower, phrase) || strings.Contains(phrase, lower) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MatchTitleKeywords returns ids of papers whose titles share at least
// one keyword with the question, so "applications of blockchain
// technology" picks up "Blockchain Applications in Healthcare" without
// the title being quoted. Stopwords and short tokens are ignored on
// both sides.
func MatchTitleKeywords(question string, titles map[int64]string) []int64 {
	qwords := make(map[string]struct{})
	for _, w := range questionKeywords(question) {
		qwords[w] = struct{}{}
	}
	if len(qwords) == 0 {
		return nil
	}

	out := make([]int64, 0, 2)
	for id, title := range titles {
		for _, w := range questionKeywords(title) {
			if _, ok := qwords[w]; ok {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GuessPaperIDs scopes a question to candidate papers. Quoted titles
// are the stronger signal and win outright; otherwise title keyword
// overlap decides.
func GuessPaperIDs(question string, titles map[int64]string) []int64 {
	if ids := MatchQuotedTitles(question, titles); len(ids) > 0 {
		return ids
	}
	return MatchTitleKeywords(question, titles)
}
