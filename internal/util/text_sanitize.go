package util

import "strings"

// SanitizeText strips bytes that Postgres text columns reject, notably the
// NUL bytes some PDF extractors emit, plus non-printing control characters.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	out := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			out = append(out, ch)
			continue
		}
		if ch < 0x20 {
			continue
		}
		out = append(out, ch)
	}
	return strings.TrimSpace(string(out))
}

// CollapseWhitespace folds runs of spaces and newlines into single spaces.
// Used when rendering chunk text into prompt context blocks.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
