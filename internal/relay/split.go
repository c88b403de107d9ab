package relay

import (
	"strings"
	"unicode/utf8"

	"DiscordContextBot/internal/config"
)

// SplitMessage splits text into chunks of at most limit bytes, preferring
// paragraph breaks, then line breaks, then word boundaries. Single words
// larger than the limit are hard-cut at rune boundaries. Empty and
// whitespace-only chunks are never emitted.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = config.MaxDiscordMessageLength
	}
	return packUnits(strings.Split(text, "\n\n"), "\n\n", limit, splitParagraph)
}

func splitParagraph(paragraph string, limit int) []string {
	return packUnits(strings.Split(paragraph, "\n"), "\n", limit, splitLine)
}

func splitLine(line string, limit int) []string {
	return packUnits(strings.Split(line, " "), " ", limit, hardCut)
}

// packUnits greedily packs units into chunks joined by sep, handing any
// single unit over the limit to the finer splitter.
func packUnits(units []string, sep string, limit int, oversize func(string, int) []string) []string {
	var chunks []string
	var current strings.Builder
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			chunks = append(chunks, current.String())
		}
		current.Reset()
	}
	for _, unit := range units {
		if len(unit) > limit {
			flush()
			chunks = append(chunks, oversize(unit, limit)...)
			continue
		}
		if current.Len() == 0 {
			current.WriteString(unit)
			continue
		}
		if current.Len()+len(sep)+len(unit) <= limit {
			current.WriteString(sep)
			current.WriteString(unit)
			continue
		}
		flush()
		current.WriteString(unit)
	}
	flush()
	return chunks
}

// hardCut slices a single oversized word every limit bytes, keeping runes
// intact.
func hardCut(word string, limit int) []string {
	var chunks []string
	for len(word) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(word[cut]) {
			cut--
		}
		chunks = append(chunks, word[:cut])
		word = word[cut:]
	}
	if strings.TrimSpace(word) != "" {
		chunks = append(chunks, word)
	}
	return chunks
}

var (
	sentenceEnders = ".!?…"
	phraseEnders   = ",;:"
)

// TruncateAtBoundary cuts text to at most limit bytes at the last sentence,
// phrase or word boundary, hard-cutting when no boundary exists.
func TruncateAtBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	window := text[:limit]
	for _, enders := range []string{sentenceEnders, phraseEnders, " \n"} {
		if idx := strings.LastIndexAny(window, enders); idx > 0 {
			return strings.TrimSpace(window[:idx+1])
		}
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
