// Package formatter assembles the static-context string and the structured
// history list handed to the LLM: message prioritisation, reply annotation,
// mention rewriting in both directions, and snippet generation.
package formatter

import "strings"

const (
	snippetPassThrough = 150
	snippetLongText    = 500
	snippetEdgeLength  = 75
	snippetMinLength   = 30
	snippetMaxLength   = 150
)

var (
	sentenceEnders = []rune{'.', '!', '?', '…'}
	phraseEnders   = []rune{',', ';', ':'}
)

// SmartSnippet reduces a quoted message to a readable excerpt. Short texts
// pass through; long ones keep a head and tail; everything in between gets a
// single proportional snippet. Cuts land on sentence, phrase or word
// boundaries when possible.
func SmartSnippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= snippetPassThrough {
		return string(runes)
	}
	if len(runes) > snippetLongText {
		head := truncateHead(runes, snippetEdgeLength)
		tail := truncateTail(runes, snippetEdgeLength)
		return head + " ... " + tail
	}
	limit := len(runes) * 30 / 100
	if limit < snippetMinLength {
		limit = snippetMinLength
	}
	if limit > snippetMaxLength {
		limit = snippetMaxLength
	}
	return truncateHead(runes, limit)
}

func isRuneIn(r rune, set []rune) bool {
	for _, candidate := range set {
		if r == candidate {
			return true
		}
	}
	return false
}

// truncateHead cuts the text down to at most limit runes, preferring a
// sentence end, then a phrase end, then a word boundary, then a hard cut.
func truncateHead(runes []rune, limit int) string {
	if len(runes) <= limit {
		return string(runes)
	}
	window := runes[:limit]

	// Boundaries in the second half of the window keep the snippet useful
	minCut := limit / 2
	for i := limit - 1; i >= minCut; i-- {
		if isRuneIn(window[i], sentenceEnders) {
			return strings.TrimSpace(string(window[:i+1]))
		}
	}
	for i := limit - 1; i >= minCut; i-- {
		if isRuneIn(window[i], phraseEnders) {
			return strings.TrimSpace(string(window[:i+1])) + "..."
		}
	}
	for i := limit - 1; i >= minCut; i-- {
		if window[i] == ' ' {
			return strings.TrimSpace(string(window[:i])) + "..."
		}
	}
	return strings.TrimSpace(string(window)) + "..."
}

// truncateTail keeps at most limit runes from the end, preferring to start
// after a boundary.
func truncateTail(runes []rune, limit int) string {
	if len(runes) <= limit {
		return string(runes)
	}
	window := runes[len(runes)-limit:]
	maxCut := limit / 2
	for i := 0; i < maxCut; i++ {
		if isRuneIn(window[i], sentenceEnders) || isRuneIn(window[i], phraseEnders) {
			return strings.TrimSpace(string(window[i+1:]))
		}
	}
	for i := 0; i < maxCut; i++ {
		if window[i] == ' ' {
			return strings.TrimSpace(string(window[i+1:]))
		}
	}
	return strings.TrimSpace(string(window))
}
