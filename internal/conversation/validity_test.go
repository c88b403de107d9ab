package conversation

import (
	"testing"

	"DiscordContextBot/internal/messaging"
)

func textMessage(content string) *messaging.ConversationMessage {
	return &messaging.ConversationMessage{
		UserID:    "1",
		Username:  "alice",
		Content:   content,
		MessageID: "100",
	}
}

func TestCheckContextMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     *messaging.ConversationMessage
		wantOK  bool
	}{
		{"plain text", textMessage("hello there"), true},
		{"empty", textMessage(""), false},
		{"whitespace only", textMessage("   "), false},
		{"punctuation only", textMessage("?!?!"), false},
		{"command prefix bang", textMessage("!play despacito"), false},
		{"command prefix slash", textMessage("/roll 2d6"), false},
		{"command prefix dollar", textMessage("$balance"), false},
		{"command prefix backtick", textMessage("`code`"), false},
		{"tool prefix short", textMessage("m!help"), false},
		{"tool prefix owo", textMessage("owo!hunt"), false},
		{"tool prefix too long", textMessage("please! listen"), true},
		{"short word with bang", textMessage("wow! that works"), false},
		{"cyrillic text", textMessage("привет"), true},
		{"mention only", textMessage("<@123456789>"), true},
		{"emote only", textMessage("<:pepe:123456789>"), true},
		{"animated emote only", textMessage("<a:party:123456789>"), true},
		{"mention with command after", textMessage("<@123> !play"), false},
		{"mention with text", textMessage("<@123> how are you"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, trace := CheckContextMessage(tt.msg)
			if got != tt.wantOK {
				t.Errorf("verdict = %v, want %v (trace: %v)", got, tt.wantOK, trace)
			}
			if len(trace) == 0 {
				t.Error("expected a non-empty trace")
			}
		})
	}
}

func TestValidityGateAttachmentsOnly(t *testing.T) {
	msg := textMessage("")
	msg.AttachmentURLs = []string{"https://cdn.example.com/a.png"}
	if !IsValidContextMessage(msg) {
		t.Error("attachment-only message should pass the gate")
	}
}

func TestValidityGateIdempotent(t *testing.T) {
	msgs := []*messaging.ConversationMessage{
		textMessage("hello"),
		textMessage("!cmd"),
		textMessage("<@1>"),
		textMessage(""),
	}
	for _, msg := range msgs {
		first := IsValidContextMessage(msg)
		for i := 0; i < 3; i++ {
			if IsValidContextMessage(msg) != first {
				t.Fatalf("gate verdict changed across evaluations for %q", msg.Content)
			}
		}
	}
}
