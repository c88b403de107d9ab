// Package botconfig manages the per-guild runtime configuration stored in the
// data directory: persistent chatbot mode per channel and the inline response
// settings with their layered overrides.
package botconfig

import (
	"fmt"
	"time"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/conversation"
	"DiscordContextBot/internal/storage"
)

const chatbotConfigFile = "chatbot_config.json"

// SafetySettings maps a harm category onto a block threshold.
type SafetySettings map[string]string

// ChannelChatbotConfig is the persistent chatbot-mode configuration of one
// channel. Numeric values are clamped to their documented ranges on load.
type ChannelChatbotConfig struct {
	Enabled                bool           `json:"enabled"`
	MaxContextMessages     int            `json:"max_context_messages"`
	MaxUserContextMessages int            `json:"max_user_context_messages"`
	ContextWindowHours     int            `json:"context_window_hours"`
	ResponseDelaySeconds   int            `json:"response_delay_seconds"`
	MaxResponseLength      int            `json:"max_response_length"`
	AutoPruneEnabled       bool           `json:"auto_prune_enabled"`
	PruneIntervalHours     int            `json:"prune_interval_hours"`
	AutoRespondToMentions  bool           `json:"auto_respond_to_mentions"`
	AutoRespondToReplies   bool           `json:"auto_respond_to_replies"`
	SafetySettings         SafetySettings `json:"safety_settings,omitempty"`
	// LastClearedTimestamp is the checkpoint for incremental indexing:
	// messages at or before it are never re-ingested.
	LastClearedTimestamp int64 `json:"last_cleared_timestamp,omitempty"`
}

// DefaultChatbotConfig returns a disabled channel config with all defaults.
func DefaultChatbotConfig() ChannelChatbotConfig {
	return ChannelChatbotConfig{
		MaxContextMessages:     config.DefaultContextMessages,
		MaxUserContextMessages: config.DefaultUserContextCount,
		ContextWindowHours:     config.DefaultContextWindowHours,
		ResponseDelaySeconds:   config.DefaultResponseDelay,
		MaxResponseLength:      config.DefaultMaxResponseLength,
		AutoPruneEnabled:       config.DefaultAutoPruneEnabled,
		PruneIntervalHours:     config.DefaultPruneIntervalHours,
		AutoRespondToMentions:  true,
		AutoRespondToReplies:   true,
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Clamp forces every numeric field into its documented range.
func (c *ChannelChatbotConfig) Clamp() {
	c.MaxContextMessages = clampInt(c.MaxContextMessages, config.MinContextMessages, config.MaxContextMessages)
	c.MaxUserContextMessages = clampInt(c.MaxUserContextMessages, config.MinUserContextMessages, config.MaxUserContextMessages)
	c.ContextWindowHours = clampInt(c.ContextWindowHours, config.MinContextWindowHours, config.MaxContextWindowHours)
	c.ResponseDelaySeconds = clampInt(c.ResponseDelaySeconds, config.MinResponseDelaySeconds, config.MaxResponseDelaySeconds)
	c.MaxResponseLength = clampInt(c.MaxResponseLength, config.MinResponseLength, config.MaxResponseLength)
	c.PruneIntervalHours = clampInt(c.PruneIntervalHours, config.MinPruneIntervalHours, config.MaxPruneIntervalHours)
}

type chatbotFile struct {
	Channels map[string]map[string]*ChannelChatbotConfig `json:"channels"`
	Global   *ChannelChatbotConfig                       `json:"global,omitempty"`
}

// ChatbotConfigStore persists per-channel chatbot configuration in
// data/chatbot_config.json.
type ChatbotConfigStore struct {
	files *storage.FileStore
}

// NewChatbotConfigStore creates the store.
func NewChatbotConfigStore(files *storage.FileStore) *ChatbotConfigStore {
	return &ChatbotConfigStore{files: files}
}

// ChannelRef identifies one configured channel.
type ChannelRef struct {
	GuildID   string
	ChannelID string
}

func (s *ChatbotConfigStore) load() (chatbotFile, error) {
	var file chatbotFile
	err := s.files.ReadJSON(chatbotConfigFile, &file)
	return file, err
}

// ChannelConfig returns the effective config for a channel: the stored
// channel entry, else the guild-independent global template, else defaults.
// The result is always clamped.
func (s *ChatbotConfigStore) ChannelConfig(guildID, channelID string) ChannelChatbotConfig {
	file, err := s.load()
	if err == nil {
		if guild, ok := file.Channels[guildID]; ok {
			if cfg, ok := guild[channelID]; ok && cfg != nil {
				out := *cfg
				out.Clamp()
				return out
			}
		}
		if file.Global != nil {
			out := *file.Global
			out.Enabled = false
			out.Clamp()
			return out
		}
	}
	return DefaultChatbotConfig()
}

// IsEnabled reports whether chatbot mode is on for a channel.
func (s *ChatbotConfigStore) IsEnabled(guildID, channelID string) bool {
	return s.ChannelConfig(guildID, channelID).Enabled
}

// Update applies fn to a channel's config, creating it from the effective
// defaults when absent, and persists the result clamped.
func (s *ChatbotConfigStore) Update(guildID, channelID string, fn func(*ChannelChatbotConfig)) error {
	if guildID == "" || channelID == "" {
		return fmt.Errorf("guild and channel ids are required")
	}
	seed := s.ChannelConfig(guildID, channelID)
	return storage.UpdateJSON(s.files, chatbotConfigFile, func(file *chatbotFile) (bool, error) {
		if file.Channels == nil {
			file.Channels = make(map[string]map[string]*ChannelChatbotConfig)
		}
		if file.Channels[guildID] == nil {
			file.Channels[guildID] = make(map[string]*ChannelChatbotConfig)
		}
		cfg, ok := file.Channels[guildID][channelID]
		if !ok || cfg == nil {
			copied := seed
			cfg = &copied
			file.Channels[guildID][channelID] = cfg
		}
		fn(cfg)
		cfg.Clamp()
		return true, nil
	})
}

// Enable turns chatbot mode on for a channel.
func (s *ChatbotConfigStore) Enable(guildID, channelID string) error {
	return s.Update(guildID, channelID, func(cfg *ChannelChatbotConfig) {
		cfg.Enabled = true
	})
}

// Disable turns chatbot mode off, keeping the rest of the config.
func (s *ChatbotConfigStore) Disable(guildID, channelID string) error {
	return s.Update(guildID, channelID, func(cfg *ChannelChatbotConfig) {
		cfg.Enabled = false
	})
}

// MarkCleared records the incremental-indexing checkpoint.
func (s *ChatbotConfigStore) MarkCleared(guildID, channelID string, ts int64) error {
	return s.Update(guildID, channelID, func(cfg *ChannelChatbotConfig) {
		cfg.LastClearedTimestamp = ts
	})
}

// EnabledChannels lists every channel with chatbot mode on, for the prune and
// maintenance timers.
func (s *ChatbotConfigStore) EnabledChannels() []ChannelRef {
	file, err := s.load()
	if err != nil {
		return nil
	}
	var refs []ChannelRef
	for guildID, channels := range file.Channels {
		for channelID, cfg := range channels {
			if cfg != nil && cfg.Enabled {
				refs = append(refs, ChannelRef{GuildID: guildID, ChannelID: channelID})
			}
		}
	}
	return refs
}

// ChannelSettings implements conversation.SettingsProvider.
func (s *ChatbotConfigStore) ChannelSettings(guildID, channelID string) conversation.Settings {
	cfg := s.ChannelConfig(guildID, channelID)
	return conversation.Settings{
		MaxContextMessages:     cfg.MaxContextMessages,
		MaxUserContextMessages: cfg.MaxUserContextMessages,
		ContextWindow:          time.Duration(cfg.ContextWindowHours) * time.Hour,
	}
}
