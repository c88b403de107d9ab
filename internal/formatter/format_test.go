package formatter

import (
	"fmt"
	"strings"
	"testing"

	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/messaging"
)

func msg(id, userID, content string, ts int64) messaging.ConversationMessage {
	return messaging.ConversationMessage{
		MessageID: id,
		UserID:    userID,
		Username:  "user" + userID,
		Content:   content,
		Timestamp: ts,
	}
}

func TestPrioritizeContextLowerBound(t *testing.T) {
	var history []messaging.ConversationMessage
	for i := 0; i < 40; i++ {
		author := "other"
		if i%4 == 0 {
			author = "alice"
		}
		history = append(history, msg(fmt.Sprintf("%d", i), author, "m", int64(i)))
	}

	got := PrioritizeContext(history, "alice", 12, 5)
	if len(got) > 12 {
		t.Fatalf("context size = %d, want <= 12", len(got))
	}
	aliceCount := 0
	for _, m := range got {
		if m.UserID == "alice" {
			aliceCount++
		}
	}
	// 40 messages, tail of 12 holds 3 alice messages; all are available and
	// under the 5-slot cap
	if aliceCount != 3 {
		t.Errorf("alice messages = %d, want 3", aliceCount)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatal("output not chronological")
		}
	}
}

func TestPrioritizeContextCapsUserMessages(t *testing.T) {
	var history []messaging.ConversationMessage
	for i := 0; i < 10; i++ {
		history = append(history, msg(fmt.Sprintf("a%d", i), "alice", "m", int64(i)))
	}
	for i := 0; i < 10; i++ {
		history = append(history, msg(fmt.Sprintf("o%d", i), "other", "m", int64(100+i)))
	}

	got := PrioritizeContext(history, "alice", 20, 4)
	aliceCount := 0
	for _, m := range got {
		if m.UserID == "alice" {
			aliceCount++
		}
	}
	if aliceCount != 4 {
		t.Errorf("alice messages = %d, want 4", aliceCount)
	}
}

func TestPrioritizeContextKeepsAllWhenUnderCap(t *testing.T) {
	history := []messaging.ConversationMessage{
		msg("1", "alice", "a", 1),
		msg("2", "bob", "b", 2),
	}
	got := PrioritizeContext(history, "alice", 50, 10)
	if len(got) != 2 {
		t.Errorf("got %d messages, want 2", len(got))
	}
}

func TestFormatContextReplyStitching(t *testing.T) {
	history := []messaging.ConversationMessage{
		msg("A", "u1", "first message", 0),
		{MessageID: "B", UserID: "bot", Username: "helper", Content: "bot reply one", Timestamp: 1, IsBotResponse: true, IsSelfBotResponse: true},
		{MessageID: "C", UserID: "bot", Username: "helper", Content: "bot reply two", Timestamp: 3, IsBotResponse: true, IsSelfBotResponse: true},
		{MessageID: "D", UserID: "u2", Username: "useru2", Content: "replying here", Timestamp: 10, ReferencedMessageID: "A"},
		msg("E", "u3", "trigger message", 11),
	}

	static, llmHistory := FormatContext(history, history, nil, map[string]*index.UserEntry{}, nil, Identity{ID: "bot", DisplayName: "helper"})
	if static == "" {
		t.Fatal("static context should not be empty")
	}
	if len(llmHistory) != 5 {
		t.Fatalf("history length = %d", len(llmHistory))
	}
	if !strings.Contains(llmHistory[3].PlainText(), "[Replying to #1]") {
		t.Errorf("D should annotate reply to local index 1: %q", llmHistory[3].PlainText())
	}
	if llmHistory[1].Role != "assistant" || llmHistory[0].Role != "user" {
		t.Errorf("roles = %s/%s", llmHistory[0].Role, llmHistory[1].Role)
	}
	if !strings.HasPrefix(llmHistory[0].PlainText(), "[1] [id:u1] useru1: ") {
		t.Errorf("prefix = %q", llmHistory[0].PlainText())
	}
}

func TestFormatContextReplyFallbackSnippet(t *testing.T) {
	full := []messaging.ConversationMessage{
		msg("old", "u1", "the original long-gone message", 0),
		{MessageID: "D", UserID: "u2", Username: "useru2", Content: "late reply", Timestamp: 10, ReferencedMessageID: "old"},
	}
	prioritised := full[1:]

	_, llmHistory := FormatContext(prioritised, full, nil, map[string]*index.UserEntry{}, nil, Identity{})
	text := llmHistory[0].PlainText()
	if !strings.Contains(text, "[Replying to @useru1:") {
		t.Errorf("expected quoted-snippet fallback: %q", text)
	}
}

func TestFormatContextMultimodal(t *testing.T) {
	history := []messaging.ConversationMessage{
		{
			MessageID: "1", UserID: "u1", Username: "alice", Content: "look", Timestamp: 0,
			MultimodalContent: []messaging.ContentPart{
				messaging.TextPart("look"),
				messaging.ImagePart("https://files.example.com/a.png"),
			},
		},
	}
	_, llmHistory := FormatContext(history, history, nil, map[string]*index.UserEntry{}, nil, Identity{})
	if len(llmHistory[0].Parts) != 2 {
		t.Fatalf("parts = %+v", llmHistory[0].Parts)
	}
	if !llmHistory[0].Parts[1].IsImage() {
		t.Error("second part should be the image")
	}
}

func TestFormatContextStaticBlocks(t *testing.T) {
	channel := &index.ChannelEntry{
		ChannelID: "c1", GuildID: "g1", ChannelName: "general", ChannelType: "text",
		Topic: "daily chat", GuildName: "Test Server",
	}
	users := map[string]*index.UserEntry{
		"u1": {UserID: "u1", Username: "alice", DisplayName: "Alice L"},
	}
	pins := []messaging.PinnedMessage{
		{UserID: "u1", Username: "alice", Content: "pinned wisdom", Timestamp: 5},
	}
	history := []messaging.ConversationMessage{msg("1", "u1", "hello", 0)}

	static, _ := FormatContext(history, history, channel, users, pins, Identity{ID: "bot", DisplayName: "helper"})
	for _, want := range []string{
		"=== Channel Info ===", "Server: Test Server", "Channel: #general (text)", "Topic: daily chat",
		"=== Known Users ===", "[id:u1] alice (display name: Alice L)", "(this is you)",
		"=== Pinned Messages ===", "pinned wisdom",
	} {
		if !strings.Contains(static, want) {
			t.Errorf("static context missing %q\n%s", want, static)
		}
	}
}

func TestSmartSnippet(t *testing.T) {
	short := "just a short message"
	if got := SmartSnippet(short); got != short {
		t.Errorf("short text should pass through, got %q", got)
	}

	mid := strings.Repeat("word ", 60) // 300 chars
	got := SmartSnippet(mid)
	if len(got) > 160 {
		t.Errorf("mid snippet too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("mid snippet should mark truncation: %q", got)
	}

	long := strings.Repeat("start words here. ", 20) + strings.Repeat("ending words now. ", 20)
	got = SmartSnippet(long)
	if !strings.Contains(got, " ... ") {
		t.Errorf("long snippet should have head and tail: %q", got)
	}
	if len(got) > 170 {
		t.Errorf("long snippet too long: %d chars", len(got))
	}
}

func TestSmartSnippetSentenceBoundary(t *testing.T) {
	text := strings.Repeat("x", 80) + ". " + strings.Repeat("y", 220)
	got := SmartSnippet(text)
	if !strings.HasSuffix(got, ".") {
		t.Errorf("expected cut at sentence boundary: %q", got)
	}
}
