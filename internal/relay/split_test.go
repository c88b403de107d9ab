package relay

import (
	"strings"
	"testing"
)

func TestSplitMessageHardCut(t *testing.T) {
	chunks := SplitMessage(strings.Repeat("x", 3000), 2000)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	if len(chunks[0]) != 2000 || len(chunks[1]) != 1000 {
		t.Errorf("lengths = %d, %d", len(chunks[0]), len(chunks[1]))
	}
}

func TestSplitMessageUnderLimit(t *testing.T) {
	chunks := SplitMessage("short message", 2000)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessagePreservesParagraphs(t *testing.T) {
	a := strings.Repeat("a", 1200)
	b := strings.Repeat("b", 1200)
	c := strings.Repeat("c", 500)
	chunks := SplitMessage(a+"\n\n"+b+"\n\n"+c, 2000)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d: %v", len(chunks), lengths(chunks))
	}
	if chunks[0] != a {
		t.Error("first paragraph should stand alone")
	}
	if chunks[1] != b+"\n\n"+c {
		t.Error("second and third paragraphs should pack together")
	}
}

func TestSplitMessageFallsBackToLinesAndWords(t *testing.T) {
	// one paragraph of two lines, first line too long on its own
	longLine := strings.Repeat("word ", 500) // 2500 bytes
	chunks := SplitMessage(strings.TrimSpace(longLine)+"\nshort line", 2000)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Errorf("chunk over limit: %d", len(chunk))
		}
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Errorf("chunk has ragged spaces: %q", chunk[:20])
		}
	}
}

func TestSplitMessageNeverEmitsEmptyChunks(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\n\n", "a\n\n\n\nb"} {
		for _, chunk := range SplitMessage(text, 10) {
			if strings.TrimSpace(chunk) == "" {
				t.Errorf("empty chunk from %q", text)
			}
		}
	}
}

func TestSplitMessageRuneSafeHardCut(t *testing.T) {
	text := strings.Repeat("é", 1500) // 3000 bytes of 2-byte runes
	for _, chunk := range SplitMessage(text, 2000) {
		if !strings.HasPrefix(chunk, "é") {
			t.Error("hard cut split a rune")
		}
		if len(chunk) > 2000 {
			t.Errorf("chunk over limit: %d", len(chunk))
		}
	}
}

func TestTruncateAtBoundary(t *testing.T) {
	if got := TruncateAtBoundary("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	text := "First sentence. Second sentence that runs well past the limit here"
	got := TruncateAtBoundary(text, 40)
	if got != "First sentence." {
		t.Errorf("got %q", got)
	}
	// no sentence ender inside the window: fall back to word boundary
	got = TruncateAtBoundary("word word word word word", 12)
	if len(got) > 12 || strings.TrimSpace(got) == "" {
		t.Errorf("got %q", got)
	}
	// nothing to cut at: hard cut
	got = TruncateAtBoundary(strings.Repeat("x", 50), 10)
	if len(got) != 10 {
		t.Errorf("got %d bytes", len(got))
	}
}

func lengths(chunks []string) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = len(c)
	}
	return out
}
