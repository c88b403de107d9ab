package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func msg(id string, author string, bot bool, ts int64, replyTo string) *discordgo.Message {
	m := &discordgo.Message{
		ID:        id,
		ChannelID: "chan",
		Author:    &discordgo.User{ID: author, Username: author, Bot: bot},
		Content:   "message " + id,
		Timestamp: time.Unix(ts, 0),
	}
	if replyTo != "" {
		m.MessageReference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: "chan"}
	}
	return m
}

// fakeFetcher pages through a fixed chronological history the way the API
// does: newest first, before-id exclusive.
type fakeFetcher struct {
	history []*discordgo.Message // chronological
	calls   int
}

func (f *fakeFetcher) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error) {
	f.calls++
	end := len(f.history)
	if beforeID != "" {
		end = 0
		for i, m := range f.history {
			if m.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	var out []*discordgo.Message
	for i := end - 1; i >= start; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

func ids(window []*discordgo.Message) []string {
	var out []string
	for _, m := range window {
		out = append(out, m.ID)
	}
	return out
}

func TestCollectWindowReplyClosureAndStitching(t *testing.T) {
	// A(t=0), B(bot,t=1), C(bot,t=3), D(user,t=10 reply→A), E(trigger,t=11)
	a := msg("A", "alice", false, 0, "")
	bm := msg("B", "helper", true, 1, "")
	c := msg("C", "helper", true, 3, "")
	d := msg("D", "dave", false, 10, "A")
	e := msg("E", "eve", false, 11, "")
	fetcher := &fakeFetcher{history: []*discordgo.Message{a, bm, c, d, e}}

	window, err := collectWindow(fetcher, e, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := ids(window)
	want := []string{"A", "B", "C", "D", "E"}
	if len(got) != len(want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("window = %v, want %v", got, want)
		}
	}
}

func TestCollectWindowFetchUntilFound(t *testing.T) {
	// The reply target sits beyond the first batch; the loop must page back
	var history []*discordgo.Message
	target := msg("old", "alice", false, 0, "")
	history = append(history, target)
	for i := 0; i < 150; i++ {
		history = append(history, msg(fmt.Sprintf("fill%03d", i), "bob", false, int64(10+i), ""))
	}
	trigger := msg("trig", "carol", false, 500, "old")
	history = append(history, trigger)
	fetcher := &fakeFetcher{history: history}

	window, err := collectWindow(fetcher, trigger, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range window {
		if m.ID == "old" {
			found = true
		}
	}
	if !found {
		t.Errorf("reply target not collected, window = %v", ids(window))
	}
	if fetcher.calls < 2 {
		t.Errorf("expected additional fetches, got %d calls", fetcher.calls)
	}
	if window[len(window)-1].ID != "trig" {
		t.Errorf("trigger should be last, window = %v", ids(window))
	}
}

func TestStitchBotMessagesRespectsWindow(t *testing.T) {
	pool := []*discordgo.Message{
		msg("1", "helper", true, 0, ""),
		msg("2", "helper", true, 5, ""),
		msg("3", "helper", true, 30, ""), // gap beyond the stitch window
		msg("4", "user", false, 31, ""),
	}
	selected := map[string]bool{"1": true}
	stitchBotMessages(pool, selected)
	if !selected["2"] {
		t.Error("adjacent bot chunk within 10s should stitch")
	}
	if selected["3"] {
		t.Error("chunk beyond the 10s window should not stitch")
	}
	if selected["4"] {
		t.Error("different author should not stitch")
	}
}

func TestStitchBotMessagesBackward(t *testing.T) {
	pool := []*discordgo.Message{
		msg("1", "helper", true, 0, ""),
		msg("2", "helper", true, 4, ""),
		msg("3", "helper", true, 8, ""),
	}
	selected := map[string]bool{"3": true}
	stitchBotMessages(pool, selected)
	if !selected["1"] || !selected["2"] {
		t.Errorf("backward stitch failed: %v", selected)
	}
}

func TestPickTailTakesNewest(t *testing.T) {
	pool := []*discordgo.Message{
		msg("1", "alice", false, 0, ""),
		msg("2", "bob", false, 1, ""),
		msg("3", "alice", false, 2, ""),
	}
	selected := map[string]bool{}
	pickTail(pool, selected, 1, func(m *discordgo.Message) bool { return m.Author.ID == "alice" })
	if !selected["3"] || selected["1"] {
		t.Errorf("expected only the newest alice message, got %v", selected)
	}
}

func TestInlineQueueDrainsBurstInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newInlineEngine(&Bot{shutdownCtx: ctx, shutdownCancel: cancel})

	const triggers = 100
	handled := make(chan string, triggers)
	e.handle = func(m *discordgo.Message) { handled <- m.ID }

	for i := 0; i < triggers; i++ {
		e.Enqueue("c1", &discordgo.Message{ID: fmt.Sprintf("%03d", i), ChannelID: "c1"})
	}
	for i := 0; i < triggers; i++ {
		select {
		case id := <-handled:
			if want := fmt.Sprintf("%03d", i); id != want {
				t.Fatalf("trigger %d handled as %s, want %s", i, id, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for trigger %d", i)
		}
	}
	cancel()
	e.Close()
}
