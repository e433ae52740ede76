package util

import (
	"regexp"
	"strings"

	"paperquery/internal/models"
)

type sectionPattern struct {
	section models.Section
	re      *regexp.Regexp
}

// Heading patterns tolerate numbered sections ("3. Results"), punctuation and
// mixed case. Order matters: the first match wins.
var sectionPatterns = []sectionPattern{
	{models.SectionAbstract, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(abstract|summary)\b`)},
	{models.SectionIntroduction, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(introduction|background)\b`)},
	{models.SectionMethods, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?((research\s+)?method(ology|s)?|materials?\s*(and|&)\s*methods?)\b`)},
	{models.SectionResults, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(results?|findings|experiments?|evaluation)\b`)},
	{models.SectionDiscussion, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(discussion|analysis)\b`)},
	{models.SectionConclusion, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(conclusions?|concluding\s+remarks|future\s+(work|directions?))\b`)},
	{models.SectionReferences, regexp.MustCompile(`(?i)^\s*(\d+[.)]\s*)?(references|bibliography|citations?|works?\s+cited)\b`)},
}

// maxHeadingLen filters out body sentences that merely start with a section
// word; real headings are short lines.
const maxHeadingLen = 100

// DetectSectionHeading reports whether line is a section heading and which
// section it opens. Body text returns ("", false).
func DetectSectionHeading(line string) (models.Section, bool) {
	line = strings.TrimSpace(line)
	if line == "" || len(line) >= maxHeadingLen {
		return "", false
	}
	for _, p := range sectionPatterns {
		loc := p.re.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if loc[0] < 10 || line == strings.ToUpper(line) {
			return p.section, true
		}
	}
	return "", false
}

// IsSectionHeadingLine is a convenience wrapper for metadata heuristics that
// only care whether a line looks like a heading at all.
func IsSectionHeadingLine(line string) bool {
	_, ok := DetectSectionHeading(line)
	return ok
}
