package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/interfaces"
)

type fakeSurface struct {
	mu      sync.Mutex
	texts   map[string]string
	embeds  map[string]*discordgo.MessageEmbed
	deleted []string
	nextID  int
	failN   int
	failErr error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		texts:  make(map[string]string),
		embeds: make(map[string]*discordgo.MessageEmbed),
	}
}

func (f *fakeSurface) maybeFail() error {
	if f.failN > 0 {
		f.failN--
		return f.failErr
	}
	return nil
}

func (f *fakeSurface) SendText(channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.texts[id] = content
	return id, nil
}

func (f *fakeSurface) EditText(channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.texts[messageID] = content
	return nil
}

func (f *fakeSurface) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.embeds[id] = embed
	return id, nil
}

func (f *fakeSurface) EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.embeds[messageID] = embed
	return nil
}

func (f *fakeSurface) Delete(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	delete(f.texts, messageID)
	delete(f.embeds, messageID)
	return nil
}

type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestRelay(surface Surface) *Relay {
	r := New(surface, nil)
	// every clock read advances past the throttle so each chunk renders
	r.now = (&steppingClock{t: time.Unix(1700000000, 0), step: 2 * time.Second}).Now
	return r
}

func chunkStream(chunks ...interfaces.StreamChunk) <-chan interfaces.StreamChunk {
	out := make(chan interfaces.StreamChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out
}

func TestRunThinkingSummaryThenAnswer(t *testing.T) {
	surface := newFakeSurface()
	surface.embeds["ph"] = &discordgo.MessageEmbed{Description: "Thinking..."}
	r := newTestRelay(surface)

	var statusSeen string
	stream := make(chan interfaces.StreamChunk)
	go func() {
		defer close(stream)
		stream <- interfaces.StreamChunk{ReasoningContent: "**Exploring the space**\ndetail\n"}
		stream <- interfaces.StreamChunk{ReasoningContent: "more detail\n"}
		surface.mu.Lock()
		statusSeen = surface.embeds["ph"].Description
		surface.mu.Unlock()
		stream <- interfaces.StreamChunk{Content: "The answer is 42."}
		stream <- interfaces.StreamChunk{PromptTokens: 100, CompletionTokens: 12}
	}()

	result, err := r.Run(context.Background(), stream, Options{
		ChannelID:     "c1",
		PlaceholderID: "ph",
		Model:         "test/m",
		TokenLimit:    128000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if statusSeen != "**Thinking...** (Exploring the space)" {
		t.Errorf("status during reasoning phase = %q", statusSeen)
	}
	if result.Content != "The answer is 42." {
		t.Errorf("content = %q", result.Content)
	}
	if result.PromptTokens != 100 || result.CompletionTokens != 12 {
		t.Errorf("usage = %d/%d", result.PromptTokens, result.CompletionTokens)
	}

	final := surface.embeds["ph"]
	if final.Description != "The answer is 42." {
		t.Errorf("final embed = %q", final.Description)
	}
	if final.Footer == nil || !strings.Contains(final.Footer.Text, "test/m") {
		t.Errorf("final footer = %+v", final.Footer)
	}
}

func TestRunPlainModeSplitsAndCaps(t *testing.T) {
	surface := newFakeSurface()
	surface.texts["ph"] = "Thinking..."
	r := newTestRelay(surface)

	stream := chunkStream(interfaces.StreamChunk{Content: strings.Repeat("x", 5000)})
	result, err := r.Run(context.Background(), stream, Options{
		ChannelID:     "c1",
		PlaceholderID: "ph",
		Plain:         true,
		MaxMessages:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.MessageIDs) != 2 {
		t.Fatalf("messages = %v", result.MessageIDs)
	}
	for _, id := range result.MessageIDs {
		if len(surface.texts[id]) > 2000 {
			t.Errorf("message %s over limit: %d", id, len(surface.texts[id]))
		}
	}
	if surface.texts["ph"] != strings.Repeat("x", 2000) {
		t.Error("first message should hold the first full chunk")
	}
}

func TestRunPlainModeSanitize(t *testing.T) {
	surface := newFakeSurface()
	surface.texts["ph"] = "Thinking..."
	r := newTestRelay(surface)

	stream := chunkStream(interfaces.StreamChunk{Content: "hello NAME"})
	_, err := r.Run(context.Background(), stream, Options{
		ChannelID:     "c1",
		PlaceholderID: "ph",
		Plain:         true,
		Sanitize: func(s string) string {
			return strings.ReplaceAll(s, "NAME", "@alice")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if surface.texts["ph"] != "hello @alice" {
		t.Errorf("final text = %q", surface.texts["ph"])
	}
}

func TestRenderDeletesSurplusMessages(t *testing.T) {
	surface := newFakeSurface()
	surface.texts["a"] = "old one"
	surface.texts["b"] = "old two"
	r := newTestRelay(surface)

	messages := []string{"a", "b"}
	err := r.render(Options{ChannelID: "c1", Plain: true, MaxMessages: 5},
		&messages, StripResult{Cleaned: "short now"}, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0] != "a" {
		t.Errorf("messages = %v", messages)
	}
	if len(surface.deleted) != 1 || surface.deleted[0] != "b" {
		t.Errorf("deleted = %v", surface.deleted)
	}
	if surface.texts["a"] != "short now" {
		t.Errorf("kept message = %q", surface.texts["a"])
	}
}

func TestRunErrorChunkSurfacesError(t *testing.T) {
	surface := newFakeSurface()
	surface.embeds["ph"] = &discordgo.MessageEmbed{Description: "Thinking..."}
	r := newTestRelay(surface)

	stream := chunkStream(
		interfaces.StreamChunk{Content: "partial", Raw: `{"partial":true}`},
		interfaces.StreamChunk{Err: errors.New("upstream died"), Raw: `{"error":true}`},
	)
	result, err := r.Run(context.Background(), stream, Options{ChannelID: "c1", PlaceholderID: "ph"})
	if err == nil {
		t.Fatal("expected stream error")
	}
	if surface.embeds["ph"].Title != "❌ Stream Error" {
		t.Errorf("embed = %+v", surface.embeds["ph"])
	}
	if len(result.RawChunks) != 2 {
		t.Errorf("raw chunks = %d, both should be recorded", len(result.RawChunks))
	}
}

func TestRunRateLimitBacksOffAndRecovers(t *testing.T) {
	surface := newFakeSurface()
	surface.embeds["ph"] = &discordgo.MessageEmbed{Description: "Thinking..."}
	surface.failN = 1
	surface.failErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	r := newTestRelay(surface)

	stream := chunkStream(
		interfaces.StreamChunk{Content: "part one "},
		interfaces.StreamChunk{Content: "part two"},
	)
	result, err := r.Run(context.Background(), stream, Options{ChannelID: "c1", PlaceholderID: "ph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "part one part two" {
		t.Errorf("content = %q", result.Content)
	}
	// the final render retries after the throttled draft edit
	if surface.embeds["ph"].Description != "part one part two" {
		t.Errorf("final embed = %q", surface.embeds["ph"].Description)
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(&discordgo.RESTError{Response: &http.Response{StatusCode: 429}}) {
		t.Error("429 RESTError should be rate limited")
	}
	if !IsRateLimited(&discordgo.RateLimitError{}) {
		t.Error("RateLimitError should be rate limited")
	}
	if IsRateLimited(errors.New("boom")) {
		t.Error("plain error is not rate limited")
	}
	if IsRateLimited(&discordgo.RESTError{Response: &http.Response{StatusCode: 500}}) {
		t.Error("500 is not rate limited")
	}
}
