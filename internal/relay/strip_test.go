package relay

import (
	"reflect"
	"testing"
)

func TestStripThinkingTagPairs(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		cleaned  string
		thinking string
	}{
		{"think tag", "<think>hmm</think>the answer", "the answer", "hmm"},
		{"thinking tag", "<thinking>deep</thinking>ok", "ok", "deep"},
		{"thought tag", "<thought>a</thought>b", "b", "a"},
		{"bracket variant", "[thinking]inner[/thinking]outer", "outer", "inner"},
		{"star toggle", "*thinking*inner*thinking*outer", "outer", "inner"},
		{"no tags", "plain text", "plain text", ""},
		{"interleaved", "start<think>one</think>middle<think>two</think>end", "startmiddleend", "onetwo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripThinking(tt.in)
			if got.Cleaned != tt.cleaned || got.Thinking != tt.thinking {
				t.Errorf("got (%q, %q), want (%q, %q)", got.Cleaned, got.Thinking, tt.cleaned, tt.thinking)
			}
		})
	}
}

func TestStripThinkingUnclosedTag(t *testing.T) {
	got := StripThinking("<thinking>still going")
	if got.Thinking != "still going" || got.Cleaned != "" {
		t.Errorf("got %+v", got)
	}
	if !got.ThinkingOnly {
		t.Error("unclosed tag with no answer should be thinking-only")
	}
}

func TestStripThinkingNotOnlyWithAnswer(t *testing.T) {
	got := StripThinking("<think>reasoning</think>The answer is 42.")
	if got.ThinkingOnly {
		t.Error("answer text present, should not be thinking-only")
	}
	if got.Cleaned != "The answer is 42." {
		t.Errorf("cleaned = %q", got.Cleaned)
	}
}

func TestStripThinkingSummaries(t *testing.T) {
	got := StripThinking("<thinking>**Exploring the problem**\nsome detail\n**Narrowing it down**\nmore detail")
	want := []string{"Exploring the problem", "Narrowing it down"}
	if !reflect.DeepEqual(got.Summaries, want) {
		t.Errorf("summaries = %v, want %v", got.Summaries, want)
	}
	if got.LatestSummary() != "Narrowing it down" {
		t.Errorf("latest = %q", got.LatestSummary())
	}
}

func TestStripThinkingNoSummaryOutsideBlocks(t *testing.T) {
	got := StripThinking("**Bold answer header**\nbody")
	if len(got.Summaries) != 0 {
		t.Errorf("bold text outside thinking blocks is not a summary: %v", got.Summaries)
	}
	if got.LatestSummary() != "" {
		t.Errorf("latest = %q", got.LatestSummary())
	}
}

func TestThinkPrefixDoesNotEatThinking(t *testing.T) {
	// "<thinking>" must not be parsed as "<think>" followed by "ing>"
	got := StripThinking("<thinking>abc</thinking>rest")
	if got.Cleaned != "rest" {
		t.Errorf("cleaned = %q", got.Cleaned)
	}
}
