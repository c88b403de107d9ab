// Package index maintains the per-guild user and channel indexes and the
// per-channel pin index that back context formatting. Index entries are
// merge-updated: every sighting of a user or channel folds new facts into the
// stored record instead of replacing it.
package index

import (
	"fmt"
	"log"
	"sort"
	"time"

	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/storage"
)

// UserEntry is one record of a guild's user index.
type UserEntry struct {
	UserID       string   `json:"user_id"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name"`
	GuildID      string   `json:"guild_id"`
	GuildName    string   `json:"guild_name,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	AvatarURL    string   `json:"avatar_url,omitempty"`
	Status       string   `json:"status,omitempty"`
	FirstSeen    int64    `json:"first_seen"`
	LastSeen     int64    `json:"last_seen"`
	MessageCount int      `json:"message_count"`
	IsBot        bool     `json:"is_bot"`
}

// ChannelEntry is one record of a guild's channel index.
type ChannelEntry struct {
	ChannelID        string `json:"channel_id"`
	GuildID          string `json:"guild_id"`
	ChannelName      string `json:"channel_name"`
	ChannelType      string `json:"channel_type"`
	Topic            string `json:"topic,omitempty"`
	CategoryName     string `json:"category_name,omitempty"`
	IsNSFW           bool   `json:"is_nsfw"`
	GuildName        string `json:"guild_name,omitempty"`
	GuildDescription string `json:"guild_description,omitempty"`
	LastIndexed      int64  `json:"last_indexed"`
	MessageCount     int    `json:"message_count"`
}

// UserFacts carries the observable facts about a user at the moment of a
// sighting. Zero-value fields are treated as unknown and never overwrite
// stored data.
type UserFacts struct {
	UserID      string
	Username    string
	DisplayName string
	GuildName   string
	Roles       []string
	AvatarURL   string
	Status      string
	IsBot       bool
}

// ChannelFacts carries the derived facts about a channel. Thread fallbacks
// (topic from thread name, category and NSFW from the parent) are resolved by
// the caller, which has gateway access; the index only stores values.
type ChannelFacts struct {
	ChannelID        string
	GuildID          string
	ChannelName      string
	ChannelType      string
	Topic            string
	CategoryName     string
	IsNSFW           bool
	GuildName        string
	GuildDescription string
	MessageCount     int
}

type userIndexFile struct {
	Users       map[string]*UserEntry `json:"users"`
	LastUpdated int64                 `json:"last_updated"`
}

type channelIndexFile struct {
	Channels    map[string]*ChannelEntry `json:"channels"`
	LastUpdated int64                    `json:"last_updated"`
}

type pinIndexFile struct {
	Messages    []messaging.PinnedMessage `json:"messages"`
	LastUpdated int64                     `json:"last_updated"`
}

// Manager owns the index files. All mutation goes through the file store's
// path locks, so concurrent workers merge rather than clobber.
type Manager struct {
	files *storage.FileStore
	now   func() time.Time
}

// NewManager creates an index manager over the given file store.
func NewManager(files *storage.FileStore) *Manager {
	return &Manager{files: files, now: time.Now}
}

func userIndexPath(guildID string) string {
	return fmt.Sprintf("user_index/guild_%s_users.json", guildID)
}

func channelIndexPath(guildID string) string {
	return fmt.Sprintf("channel_index/guild_%s_channels.json", guildID)
}

func pinIndexPath(guildID, channelID string) string {
	return fmt.Sprintf("pins/guild_%s_channel_%s_pins.json", guildID, channelID)
}

// mergeUser folds facts into an entry, bumping last_seen and, when the
// sighting is an authored message, the message count.
func mergeUser(entry *UserEntry, facts UserFacts, isAuthor bool, now int64) {
	if facts.Username != "" {
		entry.Username = facts.Username
	}
	if facts.DisplayName != "" {
		entry.DisplayName = facts.DisplayName
	}
	if facts.GuildName != "" {
		entry.GuildName = facts.GuildName
	}
	if facts.Roles != nil {
		entry.Roles = facts.Roles
	}
	if facts.AvatarURL != "" {
		entry.AvatarURL = facts.AvatarURL
	}
	if facts.Status != "" {
		entry.Status = facts.Status
	}
	entry.IsBot = entry.IsBot || facts.IsBot
	entry.LastSeen = now
	if isAuthor {
		entry.MessageCount++
	}
}

// UpdateUser merges new facts into a guild's index entry for one user,
// creating the entry if absent.
func (m *Manager) UpdateUser(guildID string, facts UserFacts, isAuthor bool) error {
	return m.BulkUpdateUsers(guildID, []UserFacts{facts}, isAuthor)
}

// BulkUpdateUsers merges a batch of user sightings with a single write per
// guild, used during bulk ingest to avoid write amplification.
func (m *Manager) BulkUpdateUsers(guildID string, batch []UserFacts, isAuthor bool) error {
	if len(batch) == 0 {
		return nil
	}
	now := m.now().Unix()
	return storage.UpdateJSON(m.files, userIndexPath(guildID), func(file *userIndexFile) (bool, error) {
		if file.Users == nil {
			file.Users = make(map[string]*UserEntry)
		}
		for _, facts := range batch {
			if facts.UserID == "" {
				continue
			}
			entry, ok := file.Users[facts.UserID]
			if !ok {
				entry = &UserEntry{
					UserID:    facts.UserID,
					GuildID:   guildID,
					FirstSeen: now,
				}
				file.Users[facts.UserID] = entry
			}
			mergeUser(entry, facts, isAuthor, now)
		}
		file.LastUpdated = now
		return true, nil
	})
}

// GetUser returns the indexed entry for a user, or nil when unknown.
func (m *Manager) GetUser(guildID, userID string) (*UserEntry, error) {
	var file userIndexFile
	if err := m.files.ReadJSON(userIndexPath(guildID), &file); err != nil {
		return nil, err
	}
	return file.Users[userID], nil
}

// GetUsers returns the full user index for a guild keyed by user id.
func (m *Manager) GetUsers(guildID string) (map[string]*UserEntry, error) {
	var file userIndexFile
	if err := m.files.ReadJSON(userIndexPath(guildID), &file); err != nil {
		return nil, err
	}
	if file.Users == nil {
		return map[string]*UserEntry{}, nil
	}
	return file.Users, nil
}

// UpdateChannel stores the derived channel facts, bumping last_indexed.
func (m *Manager) UpdateChannel(facts ChannelFacts) error {
	now := m.now().Unix()
	return storage.UpdateJSON(m.files, channelIndexPath(facts.GuildID), func(file *channelIndexFile) (bool, error) {
		if file.Channels == nil {
			file.Channels = make(map[string]*ChannelEntry)
		}
		entry, ok := file.Channels[facts.ChannelID]
		if !ok {
			entry = &ChannelEntry{ChannelID: facts.ChannelID, GuildID: facts.GuildID}
			file.Channels[facts.ChannelID] = entry
		}
		entry.ChannelName = facts.ChannelName
		entry.ChannelType = facts.ChannelType
		entry.Topic = facts.Topic
		entry.CategoryName = facts.CategoryName
		entry.IsNSFW = facts.IsNSFW
		if facts.GuildName != "" {
			entry.GuildName = facts.GuildName
		}
		if facts.GuildDescription != "" {
			entry.GuildDescription = facts.GuildDescription
		}
		if facts.MessageCount > 0 {
			entry.MessageCount = facts.MessageCount
		}
		entry.LastIndexed = now
		file.LastUpdated = now
		return true, nil
	})
}

// GetChannel returns the indexed entry for a channel, or nil when unknown.
func (m *Manager) GetChannel(guildID, channelID string) (*ChannelEntry, error) {
	var file channelIndexFile
	if err := m.files.ReadJSON(channelIndexPath(guildID), &file); err != nil {
		return nil, err
	}
	return file.Channels[channelID], nil
}

// IndexPinnedMessages replaces a channel's pin index with the given set. Pins
// are authoritative: the file is truncated before the new set is written, so
// unpinned messages disappear. Candidates that fail the validity gate were
// already filtered by the caller; authors are merged into the user index
// without an authored-message count bump.
func (m *Manager) IndexPinnedMessages(guildID, channelID string, pins []messaging.PinnedMessage, authors []UserFacts) error {
	now := m.now().Unix()
	file := pinIndexFile{Messages: pins, LastUpdated: now}
	if err := m.files.WriteJSON(pinIndexPath(guildID, channelID), &file); err != nil {
		return err
	}
	if err := m.BulkUpdateUsers(guildID, authors, false); err != nil {
		log.Printf("Failed to index pin authors for guild %s: %v", guildID, err)
	}
	return nil
}

// GetPinnedMessages returns the pin index for a channel, oldest first.
func (m *Manager) GetPinnedMessages(guildID, channelID string) ([]messaging.PinnedMessage, error) {
	var file pinIndexFile
	if err := m.files.ReadJSON(pinIndexPath(guildID, channelID), &file); err != nil {
		return nil, err
	}
	pins := file.Messages
	sort.SliceStable(pins, func(i, j int) bool { return pins[i].Timestamp < pins[j].Timestamp })
	return pins, nil
}

// ClearPinnedMessages removes a channel's pin index file.
func (m *Manager) ClearPinnedMessages(guildID, channelID string) error {
	return m.files.Remove(pinIndexPath(guildID, channelID))
}

// CleanupStaleUsers removes users whose last_seen is older than the horizon.
// Returns the number of removed entries.
func (m *Manager) CleanupStaleUsers(guildID string, horizon time.Duration) (int, error) {
	cutoff := m.now().Add(-horizon).Unix()
	removed := 0
	err := storage.UpdateJSON(m.files, userIndexPath(guildID), func(file *userIndexFile) (bool, error) {
		if file.Users == nil {
			return false, nil
		}
		for id, entry := range file.Users {
			if entry.LastSeen < cutoff {
				delete(file.Users, id)
				removed++
			}
		}
		if removed == 0 {
			return false, nil
		}
		file.LastUpdated = m.now().Unix()
		return true, nil
	})
	return removed, err
}

// ContextualCleanup reduces a guild's user index to only the ids referenced
// by the current conversation window and pin set. referenced contains every
// user id seen as author, reply target, mention, or pin author.
func (m *Manager) ContextualCleanup(guildID string, referenced map[string]bool) (int, error) {
	removed := 0
	err := storage.UpdateJSON(m.files, userIndexPath(guildID), func(file *userIndexFile) (bool, error) {
		if file.Users == nil {
			return false, nil
		}
		for id := range file.Users {
			if !referenced[id] {
				delete(file.Users, id)
				removed++
			}
		}
		if removed == 0 {
			return false, nil
		}
		file.LastUpdated = m.now().Unix()
		return true, nil
	})
	return removed, err
}
