package rag

import "strings"

// GuardMessage is returned verbatim when the input guard trips. The
// caller gets it as the answer with no citations and zero confidence.
const GuardMessage = "I answer questions about the uploaded research papers. " +
	"Try asking something specific, for example: \"What evaluation methodology does the paper use?\" " +
	"or \"How do the authors address scalability?\""

const minQuestionWords = 3

var greetingPhrases = []string{
	"hi", "hello", "hey", "yo", "sup", "howdy",
	"thanks", "thank you", "ok", "okay", "cool", "nice",
	"good morning", "good afternoon", "good evening",
	"how are you", "what's up", "whats up", "who are you",
	"test", "testing",
}

// IsConversational reports whether the question looks like small talk
// rather than a research question. Such input short-circuits the
// pipeline before any retrieval work.
func IsConversational(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	q = strings.TrimRight(q, ".!?")
	if q == "" {
		return true
	}
	for _, phrase := range greetingPhrases {
		if q == phrase || strings.HasPrefix(q, phrase+" there") {
			return true
		}
	}
	if len(strings.Fields(q)) < minQuestionWords {
		return true
	}
	return false
}
