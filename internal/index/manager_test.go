package index

import (
	"testing"
	"time"

	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewFileStore(t.TempDir()))
}

func TestUpdateUserMergesFacts(t *testing.T) {
	m := newTestManager(t)
	if err := m.UpdateUser("g1", UserFacts{UserID: "10", Username: "alpha", DisplayName: "Alpha"}, true); err != nil {
		t.Fatal(err)
	}
	// Zero-value fields are unknown and must not overwrite stored data
	if err := m.UpdateUser("g1", UserFacts{UserID: "10", Status: "online"}, true); err != nil {
		t.Fatal(err)
	}

	entry, err := m.GetUser("g1", "10")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("entry missing after update")
	}
	if entry.Username != "alpha" || entry.DisplayName != "Alpha" {
		t.Errorf("identity overwritten by empty facts: %+v", entry)
	}
	if entry.Status != "online" {
		t.Errorf("status = %q, want online", entry.Status)
	}
	if entry.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", entry.MessageCount)
	}
}

func TestNonAuthorSightingKeepsMessageCount(t *testing.T) {
	m := newTestManager(t)
	if err := m.UpdateUser("g1", UserFacts{UserID: "10", Username: "alpha"}, false); err != nil {
		t.Fatal(err)
	}
	entry, err := m.GetUser("g1", "10")
	if err != nil {
		t.Fatal(err)
	}
	if entry.MessageCount != 0 {
		t.Errorf("message count = %d, want 0 for a non-author sighting", entry.MessageCount)
	}
}

func TestIndexPinnedMessagesReplacesSet(t *testing.T) {
	m := newTestManager(t)
	first := []messaging.PinnedMessage{
		{MessageID: "1", UserID: "10", Content: "rules", Timestamp: 100},
		{MessageID: "2", UserID: "20", Content: "faq", Timestamp: 200},
	}
	if err := m.IndexPinnedMessages("g1", "c1", first, nil); err != nil {
		t.Fatal(err)
	}
	second := []messaging.PinnedMessage{
		{MessageID: "3", UserID: "30", Content: "updated rules", Timestamp: 300},
	}
	authors := []UserFacts{{UserID: "30", Username: "pinner"}}
	if err := m.IndexPinnedMessages("g1", "c1", second, authors); err != nil {
		t.Fatal(err)
	}

	pins, err := m.GetPinnedMessages("g1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 || pins[0].MessageID != "3" {
		t.Fatalf("pins = %+v, want only message 3", pins)
	}
	author, err := m.GetUser("g1", "30")
	if err != nil {
		t.Fatal(err)
	}
	if author == nil {
		t.Fatal("pin author not indexed")
	}
	if author.MessageCount != 0 {
		t.Errorf("pin author message count = %d, want 0", author.MessageCount)
	}
}

func TestCleanupStaleUsers(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	m.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	if err := m.UpdateUser("g1", UserFacts{UserID: "old", Username: "old"}, true); err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return base }
	if err := m.UpdateUser("g1", UserFacts{UserID: "fresh", Username: "fresh"}, true); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupStaleUsers("g1", 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if entry, _ := m.GetUser("g1", "old"); entry != nil {
		t.Error("stale user should be removed")
	}
	if entry, _ := m.GetUser("g1", "fresh"); entry == nil {
		t.Error("fresh user should survive")
	}
}

func TestContextualCleanupKeepsReferencedUsers(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"author1", "pinner1", "mentioned1", "departed1"} {
		if err := m.UpdateUser("g1", UserFacts{UserID: id, Username: id}, false); err != nil {
			t.Fatal(err)
		}
	}

	referenced := map[string]bool{"author1": true, "pinner1": true, "mentioned1": true}
	removed, err := m.ContextualCleanup("g1", referenced)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for id := range referenced {
		if entry, _ := m.GetUser("g1", id); entry == nil {
			t.Errorf("referenced user %s removed", id)
		}
	}
	if entry, _ := m.GetUser("g1", "departed1"); entry != nil {
		t.Error("unreferenced user should be removed")
	}
}
