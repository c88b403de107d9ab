// Package relay converts a stream of provider chunks into a sequence of
// Discord messages that grow in place via edits.
package relay

import (
	"regexp"
	"strings"
)

// StripResult is the outcome of one strip pass over the combined
// thinking+answer text.
type StripResult struct {
	// Cleaned is the visible answer text with all thinking blocks removed.
	Cleaned string
	// Thinking is the concatenated contents of the thinking blocks.
	Thinking string
	// ThinkingOnly reports that the stream has produced no visible answer
	// text yet.
	ThinkingOnly bool
	// Summaries are the markdown-bold header lines found inside the
	// thinking blocks, in order of appearance.
	Summaries []string
}

type thinkTag struct {
	open  string
	close string
}

// Longer tags come first so "<thinking>" is not consumed as "<think>" + "ing>".
// The star variant toggles: a second "*thinking*" closes the block.
var thinkTags = []thinkTag{
	{"<thinking>", "</thinking>"},
	{"<thought>", "</thought>"},
	{"<think>", "</think>"},
	{"[thinking]", "[/thinking]"},
	{"*thinking*", "*thinking*"},
}

var boldHeaderPattern = regexp.MustCompile(`^\s*\*\*([^*]+)\*\*`)

// StripThinking removes thinking blocks from text with a single pass that
// tolerates unclosed tags from truncated streams: once a tag opens, everything
// up to its closer (or the end of input) is thinking content.
func StripThinking(text string) StripResult {
	var cleaned, thinking strings.Builder
	open := -1
	i := 0
	for i < len(text) {
		if open < 0 {
			matched := false
			for idx, tag := range thinkTags {
				if strings.HasPrefix(text[i:], tag.open) {
					open = idx
					i += len(tag.open)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			cleaned.WriteByte(text[i])
			i++
			continue
		}
		tag := thinkTags[open]
		if strings.HasPrefix(text[i:], tag.close) {
			i += len(tag.close)
			open = -1
			continue
		}
		thinking.WriteByte(text[i])
		i++
	}

	result := StripResult{
		Cleaned:  strings.TrimSpace(cleaned.String()),
		Thinking: strings.TrimSpace(thinking.String()),
	}
	result.ThinkingOnly = result.Cleaned == "" && result.Thinking != ""
	for _, line := range strings.Split(result.Thinking, "\n") {
		if m := boldHeaderPattern.FindStringSubmatch(line); m != nil {
			result.Summaries = append(result.Summaries, strings.TrimSpace(m[1]))
		}
	}
	return result
}

// LatestSummary returns the most recent summary line, or "".
func (r StripResult) LatestSummary() string {
	if len(r.Summaries) == 0 {
		return ""
	}
	return r.Summaries[len(r.Summaries)-1]
}
