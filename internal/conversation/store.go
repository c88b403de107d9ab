package conversation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/storage"
)

// Settings are the per-channel history limits resolved by the configuration
// layer. ContextWindow bounds message age, MaxContextMessages bounds count.
type Settings struct {
	MaxContextMessages     int
	MaxUserContextMessages int
	ContextWindow          time.Duration
}

// SettingsProvider resolves the effective history limits for a channel.
type SettingsProvider interface {
	ChannelSettings(guildID, channelID string) Settings
}

// IndexBatch carries the user sightings produced by an ingest so the caller
// can fold them into the user index. Authors get a message-count bump,
// mentioned users do not.
type IndexBatch struct {
	Authors   []index.UserFacts
	Mentioned []index.UserFacts
}

func (b *IndexBatch) merge(other IndexBatch) {
	b.Authors = append(b.Authors, other.Authors...)
	b.Mentioned = append(b.Mentioned, other.Mentioned...)
}

// Empty reports whether the batch carries no sightings.
func (b *IndexBatch) Empty() bool {
	return b == nil || (len(b.Authors) == 0 && len(b.Mentioned) == 0)
}

type historyFile struct {
	Messages    []messaging.ConversationMessage `json:"messages"`
	LastUpdated int64                           `json:"last_updated"`
}

// Store owns the per-channel conversation history files.
type Store struct {
	files    *storage.FileStore
	settings SettingsProvider
	selfID   string
	now      func() time.Time
}

// NewStore creates a conversation store over the given file store.
func NewStore(files *storage.FileStore, settings SettingsProvider) *Store {
	return &Store{files: files, settings: settings, now: time.Now}
}

// SetSelfID records the bot's own user id once the gateway session is ready,
// so the store can distinguish its own echoes from other bots.
func (s *Store) SetSelfID(id string) {
	s.selfID = id
}

func historyPath(guildID, channelID string) string {
	return fmt.Sprintf("conversations/guild_%s/channel_%s.json", guildID, channelID)
}

// Convert builds a history record from a raw Discord message. The record is
// not gated; callers run CheckContextMessage before storing it.
func (s *Store) Convert(m *discordgo.Message) *messaging.ConversationMessage {
	extraction := ExtractMessageContent(m)
	record := &messaging.ConversationMessage{
		UserID:            m.Author.ID,
		Username:          m.Author.Username,
		Content:           extraction.CleanedContent,
		Timestamp:         m.Timestamp.Unix(),
		MessageID:         m.ID,
		IsBotResponse:     m.Author.Bot,
		IsSelfBotResponse: m.Author.ID == s.selfID,
		AttachmentURLs:    extraction.MediaURLs(),
		EmbedURLs:         extraction.OtherEmbedURLs,
		MultimodalContent: BuildMultimodalContent(extraction.CleanedContent, extraction.ImageURLs),
	}
	if m.MessageReference != nil {
		record.ReferencedMessageID = m.MessageReference.MessageID
	}
	return record
}

// userSightings derives the index facts observable from one message: the
// author plus every mentioned user.
func userSightings(m *discordgo.Message) IndexBatch {
	var batch IndexBatch
	if m.Author != nil {
		batch.Authors = append(batch.Authors, userFacts(m.Author, m.Member))
	}
	for _, mention := range m.Mentions {
		if mention == nil || (m.Author != nil && mention.ID == m.Author.ID) {
			continue
		}
		batch.Mentioned = append(batch.Mentioned, userFacts(mention, nil))
	}
	return batch
}

func userFacts(user *discordgo.User, member *discordgo.Member) index.UserFacts {
	facts := index.UserFacts{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.GlobalName,
		AvatarURL:   user.AvatarURL(""),
		IsBot:       user.Bot,
	}
	if member != nil && member.Nick != "" {
		facts.DisplayName = member.Nick
	}
	if facts.DisplayName == "" {
		facts.DisplayName = user.Username
	}
	return facts
}

// Add gates and appends one message to a channel's history. It returns whether
// the message entered history and the index batch for the caller to apply.
// Duplicate message ids are ignored so gateway replays stay idempotent.
func (s *Store) Add(guildID, channelID string, m *discordgo.Message) (bool, IndexBatch, error) {
	record := s.Convert(m)
	if ok, _ := CheckContextMessage(record); !ok {
		return false, IndexBatch{}, nil
	}
	limits := s.settings.ChannelSettings(guildID, channelID)
	if limits.ContextWindow > 0 && record.Timestamp < s.now().Add(-limits.ContextWindow).Unix() {
		return false, IndexBatch{}, nil
	}
	added := false
	err := storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		for _, existing := range file.Messages {
			if existing.MessageID == record.MessageID {
				return false, nil
			}
		}
		file.Messages = append(file.Messages, *record)
		file.Messages = applyLimits(file.Messages, limits, s.now())
		file.LastUpdated = s.now().Unix()
		added = true
		return true, nil
	})
	if err != nil || !added {
		return false, IndexBatch{}, err
	}
	return true, userSightings(m), nil
}

// BulkAdd gates and appends a batch of messages with a single history write,
// used by backfill. Messages may arrive in any order; the stored history stays
// sorted by timestamp. Returns the number of messages that entered history.
func (s *Store) BulkAdd(guildID, channelID string, msgs []*discordgo.Message) (int, IndexBatch, error) {
	limits := s.settings.ChannelSettings(guildID, channelID)
	var batch IndexBatch
	accepted := 0
	err := storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		known := make(map[string]bool, len(file.Messages))
		for _, existing := range file.Messages {
			known[existing.MessageID] = true
		}
		for _, m := range msgs {
			if m == nil || known[m.ID] {
				continue
			}
			record := s.Convert(m)
			if ok, _ := CheckContextMessage(record); !ok {
				continue
			}
			known[m.ID] = true
			file.Messages = append(file.Messages, *record)
			batch.merge(userSightings(m))
			accepted++
		}
		if accepted == 0 {
			return false, nil
		}
		sortByTimestamp(file.Messages)
		file.Messages = applyLimits(file.Messages, limits, s.now())
		file.LastUpdated = s.now().Unix()
		return true, nil
	})
	if err != nil {
		return 0, IndexBatch{}, err
	}
	return accepted, batch, nil
}

// Edit updates the text of a stored message in place. Image parts are kept;
// only the text content changes. A message whose edited form no longer passes
// the validity gate is removed instead.
func (s *Store) Edit(guildID, channelID, messageID, newContent string) (bool, error) {
	updated := false
	err := storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		for i := range file.Messages {
			if file.Messages[i].MessageID != messageID {
				continue
			}
			msg := &file.Messages[i]
			msg.Content = strings.TrimSpace(newContent)
			msg.MultimodalContent = BuildMultimodalContent(msg.Content, msg.ImageURLs())
			if ok, _ := CheckContextMessage(msg); !ok {
				file.Messages = append(file.Messages[:i], file.Messages[i+1:]...)
			}
			file.LastUpdated = s.now().Unix()
			updated = true
			return true, nil
		}
		return false, nil
	})
	return updated, err
}

// ReplaceMessage overwrites a stored message wholesale, matched by message id.
// Used when media validation rewrites attachment URLs at read time.
func (s *Store) ReplaceMessage(guildID, channelID string, msg *messaging.ConversationMessage) error {
	return storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		for i := range file.Messages {
			if file.Messages[i].MessageID == msg.MessageID {
				file.Messages[i] = *msg
				file.LastUpdated = s.now().Unix()
				return true, nil
			}
		}
		return false, nil
	})
}

// Delete removes a message from a channel's history.
func (s *Store) Delete(guildID, channelID, messageID string) (bool, error) {
	removed := false
	err := storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		for i := range file.Messages {
			if file.Messages[i].MessageID == messageID {
				file.Messages = append(file.Messages[:i], file.Messages[i+1:]...)
				file.LastUpdated = s.now().Unix()
				removed = true
				return true, nil
			}
		}
		return false, nil
	})
	return removed, err
}

// LoadHistory returns a channel's history with the window and count limits
// applied at read time, oldest first.
func (s *Store) LoadHistory(guildID, channelID string) ([]messaging.ConversationMessage, error) {
	var file historyFile
	if err := s.files.ReadJSON(historyPath(guildID, channelID), &file); err != nil {
		return nil, err
	}
	limits := s.settings.ChannelSettings(guildID, channelID)
	kept := applyLimits(file.Messages, limits, s.now())
	// records written under an older gate are re-checked at read
	valid := kept[:0:0]
	for i := range kept {
		if IsValidContextMessage(&kept[i]) {
			valid = append(valid, kept[i])
		}
	}
	return valid, nil
}

// Clear removes a channel's history file.
func (s *Store) Clear(guildID, channelID string) error {
	return s.files.Remove(historyPath(guildID, channelID))
}

// PruneChannel rewrites one channel's history with the limits applied. A
// history that empties out loses its file entirely. Returns the number of
// messages dropped.
func (s *Store) PruneChannel(guildID, channelID string) (int, error) {
	limits := s.settings.ChannelSettings(guildID, channelID)
	dropped := 0
	remaining := 0
	err := storage.UpdateJSON(s.files, historyPath(guildID, channelID), func(file *historyFile) (bool, error) {
		kept := applyLimits(file.Messages, limits, s.now())
		dropped = len(file.Messages) - len(kept)
		remaining = len(kept)
		if dropped == 0 {
			return false, nil
		}
		file.Messages = kept
		file.LastUpdated = s.now().Unix()
		return true, nil
	})
	if err == nil && dropped > 0 && remaining == 0 {
		if rmErr := s.files.Remove(historyPath(guildID, channelID)); rmErr != nil {
			logging.Warn("Could not remove emptied history for %s/%s: %v", guildID, channelID, rmErr)
		}
	}
	return dropped, err
}

// PruneAll walks every history file and applies the limits. Files left with
// no messages are deleted rather than rewritten empty.
func (s *Store) PruneAll() (int, error) {
	paths, err := s.files.List("conversations/guild_*/channel_*.json")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range paths {
		guildID, channelID, ok := parseHistoryPath(path)
		if !ok {
			continue
		}
		dropped, err := s.PruneChannel(guildID, channelID)
		if err != nil {
			logging.Warn("Failed to prune history for guild %s channel %s: %v", guildID, channelID, err)
			continue
		}
		total += dropped
	}
	return total, nil
}

var mentionIDPattern = regexp.MustCompile(`<@!?(\d+)>`)

// ReferencedUserIDs collects every user id visible from a channel's current
// window, for contextual index cleanup: message authors, the authors of reply
// targets, and users mentioned in message text. Pin authors are the caller's
// responsibility, since pins live in the index, not the history.
func (s *Store) ReferencedUserIDs(guildID, channelID string, into map[string]bool) error {
	history, err := s.LoadHistory(guildID, channelID)
	if err != nil {
		return err
	}
	authorByID := make(map[string]string, len(history))
	for _, msg := range history {
		authorByID[msg.MessageID] = msg.UserID
	}
	for _, msg := range history {
		into[msg.UserID] = true
		if msg.ReferencedMessageID != "" {
			if author, ok := authorByID[msg.ReferencedMessageID]; ok {
				into[author] = true
			}
		}
		for _, match := range mentionIDPattern.FindAllStringSubmatch(msg.Content, -1) {
			into[match[1]] = true
		}
	}
	return nil
}

func parseHistoryPath(path string) (guildID, channelID string, ok bool) {
	dir := filepath.Base(filepath.Dir(path))
	base := filepath.Base(path)
	if !strings.HasPrefix(dir, "guild_") || !strings.HasPrefix(base, "channel_") || !strings.HasSuffix(base, ".json") {
		return "", "", false
	}
	guildID = strings.TrimPrefix(dir, "guild_")
	channelID = strings.TrimSuffix(strings.TrimPrefix(base, "channel_"), ".json")
	return guildID, channelID, guildID != "" && channelID != ""
}

func sortByTimestamp(msgs []messaging.ConversationMessage) {
	// Insertion sort: backfill batches are nearly sorted already
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Timestamp < msgs[j-1].Timestamp; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// applyLimits drops messages outside the context window, then keeps the
// newest MaxContextMessages of what remains.
func applyLimits(msgs []messaging.ConversationMessage, limits Settings, now time.Time) []messaging.ConversationMessage {
	kept := msgs
	if limits.ContextWindow > 0 {
		cutoff := now.Add(-limits.ContextWindow).Unix()
		kept = kept[:0:0]
		for _, msg := range msgs {
			if msg.Timestamp >= cutoff {
				kept = append(kept, msg)
			}
		}
	}
	if limits.MaxContextMessages > 0 && len(kept) > limits.MaxContextMessages {
		kept = kept[len(kept)-limits.MaxContextMessages:]
	}
	return kept
}
