package botconfig

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/storage"
)

const (
	inlineConfigFile    = "inline_response_config.json"
	inlineCacheSize     = 256
	inlineCacheLifetime = time.Minute
)

// PermissionLists are the four inline access lists. Across config levels they
// merge by set union instead of override.
type PermissionLists struct {
	RoleWhitelist   []string `json:"role_whitelist,omitempty"`
	MemberWhitelist []string `json:"member_whitelist,omitempty"`
	RoleBlacklist   []string `json:"role_blacklist,omitempty"`
	MemberBlacklist []string `json:"member_blacklist,omitempty"`
}

// InlineResponseConfig is one layer of inline settings. Nil fields defer to
// the layer below.
type InlineResponseConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	TriggerOnStartOnly  *bool  `json:"trigger_on_start_only,omitempty"`
	ModelType           string `json:"model_type,omitempty"`
	ContextMessages     *int   `json:"context_messages,omitempty"`
	UserContextMessages *int   `json:"user_context_messages,omitempty"`
	UseStreaming        *bool  `json:"use_streaming,omitempty"`
	PermissionLists
}

// EffectiveInlineConfig is the fully resolved view the engine consumes.
// Permission lists are materialised as sets.
type EffectiveInlineConfig struct {
	Enabled             bool
	TriggerOnStartOnly  bool
	ModelType           string
	ContextMessages     int
	UserContextMessages int
	UseStreaming        bool
	RoleWhitelist       map[string]bool
	MemberWhitelist     map[string]bool
	RoleBlacklist       map[string]bool
	MemberBlacklist     map[string]bool
}

func defaultEffectiveInline() EffectiveInlineConfig {
	return EffectiveInlineConfig{
		Enabled:             false,
		TriggerOnStartOnly:  true,
		ModelType:           "ask",
		ContextMessages:     config.DefaultInlineContextMessages,
		UserContextMessages: config.DefaultInlineUserContextCount,
		UseStreaming:        true,
		RoleWhitelist:       make(map[string]bool),
		MemberWhitelist:     make(map[string]bool),
		RoleBlacklist:       make(map[string]bool),
		MemberBlacklist:     make(map[string]bool),
	}
}

func (e *EffectiveInlineConfig) overlay(layer *InlineResponseConfig) {
	if layer == nil {
		return
	}
	if layer.Enabled != nil {
		e.Enabled = *layer.Enabled
	}
	if layer.TriggerOnStartOnly != nil {
		e.TriggerOnStartOnly = *layer.TriggerOnStartOnly
	}
	if layer.ModelType != "" {
		e.ModelType = layer.ModelType
	}
	if layer.ContextMessages != nil {
		e.ContextMessages = clampInt(*layer.ContextMessages, 1, config.MaxContextMessages)
	}
	if layer.UserContextMessages != nil {
		e.UserContextMessages = clampInt(*layer.UserContextMessages, 1, config.MaxUserContextMessages)
	}
	if layer.UseStreaming != nil {
		e.UseStreaming = *layer.UseStreaming
	}
	union(e.RoleWhitelist, layer.RoleWhitelist)
	union(e.MemberWhitelist, layer.MemberWhitelist)
	union(e.RoleBlacklist, layer.RoleBlacklist)
	union(e.MemberBlacklist, layer.MemberBlacklist)
}

func union(set map[string]bool, ids []string) {
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
}

type inlineServer struct {
	ServerSettings *InlineResponseConfig            `json:"server_settings,omitempty"`
	Channels       map[string]*InlineResponseConfig `json:"channels,omitempty"`
}

type inlineFile struct {
	Servers map[string]*inlineServer `json:"servers"`
}

// InlineConfigStore persists the layered inline settings and caches resolved
// effective configs with a short TTL.
type InlineConfigStore struct {
	files *storage.FileStore
	cache *expirable.LRU[string, EffectiveInlineConfig]
}

// NewInlineConfigStore creates the store.
func NewInlineConfigStore(files *storage.FileStore) *InlineConfigStore {
	return &InlineConfigStore{
		files: files,
		cache: expirable.NewLRU[string, EffectiveInlineConfig](inlineCacheSize, nil, inlineCacheLifetime),
	}
}

// EffectiveConfig resolves defaults, then server, then channel overrides.
func (s *InlineConfigStore) EffectiveConfig(guildID, channelID string) EffectiveInlineConfig {
	key := guildID + "/" + channelID
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}

	effective := defaultEffectiveInline()
	var file inlineFile
	if err := s.files.ReadJSON(inlineConfigFile, &file); err == nil {
		if server, ok := file.Servers[guildID]; ok && server != nil {
			effective.overlay(server.ServerSettings)
			effective.overlay(server.Channels[channelID])
		}
	}
	s.cache.Add(key, effective)
	return effective
}

// UpdateServer applies fn to a guild's server-level layer.
func (s *InlineConfigStore) UpdateServer(guildID string, fn func(*InlineResponseConfig)) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}
	err := storage.UpdateJSON(s.files, inlineConfigFile, func(file *inlineFile) (bool, error) {
		server := s.ensureServer(file, guildID)
		if server.ServerSettings == nil {
			server.ServerSettings = &InlineResponseConfig{}
		}
		fn(server.ServerSettings)
		return true, nil
	})
	s.cache.Purge()
	return err
}

// UpdateChannel applies fn to a channel-level layer.
func (s *InlineConfigStore) UpdateChannel(guildID, channelID string, fn func(*InlineResponseConfig)) error {
	if guildID == "" || channelID == "" {
		return fmt.Errorf("guild and channel ids are required")
	}
	err := storage.UpdateJSON(s.files, inlineConfigFile, func(file *inlineFile) (bool, error) {
		server := s.ensureServer(file, guildID)
		if server.Channels == nil {
			server.Channels = make(map[string]*InlineResponseConfig)
		}
		if server.Channels[channelID] == nil {
			server.Channels[channelID] = &InlineResponseConfig{}
		}
		fn(server.Channels[channelID])
		return true, nil
	})
	s.cache.Purge()
	return err
}

func (s *InlineConfigStore) ensureServer(file *inlineFile, guildID string) *inlineServer {
	if file.Servers == nil {
		file.Servers = make(map[string]*inlineServer)
	}
	if file.Servers[guildID] == nil {
		file.Servers[guildID] = &inlineServer{}
	}
	return file.Servers[guildID]
}

// Ptr helps build sparse layers in mutation commands.
func Ptr[T any](v T) *T {
	return &v
}
