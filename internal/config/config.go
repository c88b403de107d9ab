// Package config provides configuration management for the context and
// dispatch engine. It handles loading YAML configuration files, setting
// defaults, and clamping numeric values to their documented ranges. Per-guild
// runtime configuration (chatbot mode, inline responses) lives in the data
// directory and is managed by the botconfig package, not here.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Config represents the main configuration structure.
type Config struct {
	// Discord settings
	BotToken      string `yaml:"bot_token"`
	ClientID      string `yaml:"client_id"`
	StatusMessage string `yaml:"status_message"`

	// Discord user id that receives the decorated rendering in formatted
	// output; empty disables the decoration.
	CreatorUserID     string `yaml:"creator_user_id"`
	CreatorRendering  string `yaml:"creator_rendering"`

	// Data layout
	DataDir      string `yaml:"data_dir"`
	PatternsFile string `yaml:"patterns_file"`

	// Optional Postgres for the bad-key ledger and stream chunk archive
	DatabaseURL string `yaml:"database_url"`

	// Logging settings
	Logging struct {
		LogLevel string `yaml:"log_level"`
	} `yaml:"logging"`

	// LLM settings
	Providers    map[string]Provider    `yaml:"providers"`
	Models       map[string]ModelParams `yaml:"models"`
	SystemPrompt string                 `yaml:"system_prompt"`

	// Model routing for the three inline model types
	AskModel   string `yaml:"ask_model"`
	ThinkModel string `yaml:"think_model"`
	ChatModel  string `yaml:"chat_model"`

	// Whether the think model surfaces its reasoning stream summaries
	ShowThinking bool `yaml:"show_thinking"`

	// OCR pipeline
	OCR OCRConfig `yaml:"ocr"`

	// Media cache upload services, in priority order
	MediaServices []MediaServiceConfig `yaml:"media_services"`

	// Auto restart
	AutoRestart struct {
		Enabled            bool `yaml:"enabled"`
		UptimeThresholdHrs int  `yaml:"uptime_threshold_hours"`
		CheckIntervalMins  int  `yaml:"check_interval_minutes"`
	} `yaml:"auto_restart"`
}

// Provider represents an LLM provider configuration.
type Provider struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key,omitempty"`  // kept for backward compatibility
	APIKeys []string `yaml:"api_keys,omitempty"` // preferred: multiple keys for rotation
}

// GetAPIKeys returns all available API keys for the provider.
func (p *Provider) GetAPIKeys() []string {
	if len(p.APIKeys) > 0 {
		return p.APIKeys
	}
	if p.APIKey != "" {
		return []string{p.APIKey}
	}
	return []string{}
}

// ModelParams represents model-specific parameters.
type ModelParams struct {
	Temperature     *float32 `yaml:"temperature,omitempty"`
	ReasoningEffort string   `yaml:"reasoning_effort,omitempty"`
	ThinkingBudget  *int32   `yaml:"thinking_budget,omitempty"`
	TokenLimit      *int     `yaml:"token_limit,omitempty"`
	MaxTokens       *int     `yaml:"max_tokens,omitempty"`
}

// OCRConfig configures the OCR triage pipeline.
type OCRConfig struct {
	Enabled       bool   `yaml:"enabled"`
	QueueSize     int    `yaml:"queue_size"`
	WorkerCount   int    `yaml:"worker_count"`
	TesseractPath string `yaml:"tesseract_path"`

	// Per-channel wiring. A channel may be both a read and a response
	// channel, in which case matched responses are posted in place.
	ReadChannels     []OCRChannelConfig `yaml:"read_channels"`
	ResponseChannels []OCRChannelConfig `yaml:"response_channels"`
	FallbackChannels []string           `yaml:"fallback_channels"`
}

// OCRChannelConfig binds a channel id to an OCR language.
type OCRChannelConfig struct {
	ChannelID string `yaml:"channel_id"`
	Language  string `yaml:"language"` // "eng" (default) or "rus"
}

// MediaServiceConfig configures one upload service for the media cache.
type MediaServiceConfig struct {
	// Kind selects the upload protocol: "catbox", "litterbox" or "put".
	Kind string `yaml:"kind"`
	// UserHash authenticates catbox uploads; optional.
	UserHash string `yaml:"user_hash,omitempty"`
	// Endpoint and Token configure the authenticated-PUT archetype.
	Endpoint string `yaml:"endpoint,omitempty"`
	Token    string `yaml:"token,omitempty"`
	// TimeoutSeconds bounds a single upload request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// GetModelTokenLimit returns the token limit for a specific model, falling
// back to a conservative default when unspecified.
func (c *Config) GetModelTokenLimit(model string) int {
	const defaultTokenLimit = 128000
	if c.Models == nil {
		return defaultTokenLimit
	}
	params, exists := c.Models[model]
	if !exists {
		return defaultTokenLimit
	}
	if params.TokenLimit != nil && *params.TokenLimit > 0 {
		return *params.TokenLimit
	}
	return defaultTokenLimit
}

// ModelForType maps an inline model type (ask, think, chat) onto a configured
// provider/model identifier.
func (c *Config) ModelForType(modelType string) string {
	switch modelType {
	case "think":
		return c.ThinkModel
	case "chat":
		return c.ChatModel
	default:
		return c.AskModel
	}
}

// OCRLanguageForChannel returns the configured OCR language for a read
// channel, defaulting to English.
func (c *Config) OCRLanguageForChannel(channelID string) string {
	for _, ch := range c.OCR.ReadChannels {
		if ch.ChannelID == channelID && ch.Language != "" {
			return ch.Language
		}
	}
	return DefaultOCRLanguage
}

// LoadConfig loads configuration from a YAML file. It supports both local
// development and containerised deployment:
// 1. Local: reads from configs/config.yaml
// 2. Deployed: reads from /etc/secrets/config.yaml (mounted secret files)
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "configs/config.yaml"
	}

	secretPath := "/etc/secrets/config.yaml"
	if _, err := os.Stat(secretPath); err == nil {
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret config file: %w", err)
		}
		return parseConfig(data)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return parseConfig(data)
}

// parseConfig parses YAML data into a Config struct and applies defaults.
func parseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.StatusMessage == "" {
		config.StatusMessage = DefaultStatusMessage
	}
	if config.DataDir == "" {
		config.DataDir = DefaultDataDir
	}
	if config.PatternsFile == "" {
		config.PatternsFile = DefaultPatternsFile
	}
	if config.Logging.LogLevel == "" {
		config.Logging.LogLevel = DefaultLogLevel
	}

	if config.AskModel == "" {
		config.AskModel = DefaultAskModel
	}
	if config.ThinkModel == "" {
		config.ThinkModel = DefaultThinkModel
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}

	if config.OCR.QueueSize <= 0 {
		config.OCR.QueueSize = DefaultOCRQueueSize
	}
	if config.OCR.WorkerCount <= 0 {
		config.OCR.WorkerCount = DefaultOCRWorkerCount
	}
	if config.OCR.TesseractPath == "" {
		config.OCR.TesseractPath = "tesseract"
	}

	for i := range config.MediaServices {
		if config.MediaServices[i].TimeoutSeconds <= 0 {
			config.MediaServices[i].TimeoutSeconds = DefaultUploadTimeoutSecond
		}
	}

	if config.AutoRestart.UptimeThresholdHrs <= 0 {
		config.AutoRestart.UptimeThresholdHrs = DefaultRestartThresholdHours
	}
	if config.AutoRestart.CheckIntervalMins <= 0 {
		config.AutoRestart.CheckIntervalMins = DefaultRestartCheckMinutes
	}

	return &config, nil
}
