package config

// Default values for configuration
const (
	// Discord defaults
	DefaultStatusMessage   = "reading the backlog"
	MaxStatusMessageLength = 128

	// Data layout
	DefaultDataDir      = "data"
	DefaultPatternsFile = "patterns.json"

	// OCR pipeline defaults
	DefaultOCRQueueSize      = 100
	DefaultOCRWorkerCount    = 2
	OCREnqueueTimeoutSeconds = 5
	OCRQueueWarnRatio        = 0.9
	MaxOCRImageBytes         = 500_000
	MinOCRImageWidth         = 300
	MinOCRImageHeight        = 200
	DefaultOCRLanguage       = "eng"

	// Inline response engine defaults
	InlineWorkerIdleSeconds       = 60
	InlineHistoryBatchSize        = 100
	InlineMaxFetchAttempts        = 10
	InlineStitchWindowSeconds     = 10
	DefaultInlineContextMessages  = 25
	DefaultInlineUserContextCount = 10
	DefaultInlineMaxMessages      = 5

	// Streaming relay
	StreamEditIntervalMillis = 1200
	StreamRateLimitBackoffMS = 2000
	MaxDiscordMessageLength  = 2000
	MaxDiscordEmbedLength    = 4096
	StreamChunkBufferSize    = 10

	// Media cache
	MediaFlushIntervalSeconds  = 30
	DefaultUploadTimeoutSecond = 30
	TemporaryUploadExpiryHours = 72

	// Index maintenance
	DefaultUserCleanupHorizonHours = 168

	// Chatbot per-channel config ranges (clamped on load)
	MinContextMessages      = 10
	MaxContextMessages      = 1000
	MinUserContextMessages  = 5
	MaxUserContextMessages  = 500
	MinContextWindowHours   = 1
	MaxContextWindowHours   = 168
	MinResponseDelaySeconds = 0
	MaxResponseDelaySeconds = 10
	MinResponseLength       = 100
	MaxResponseLength       = 4000
	MinPruneIntervalHours   = 1
	MaxPruneIntervalHours   = 48

	// Chatbot per-channel config defaults
	DefaultContextMessages     = 100
	DefaultUserContextCount    = 25
	DefaultContextWindowHours  = 24
	DefaultResponseDelay       = 0
	DefaultMaxResponseLength   = 2000
	DefaultPruneIntervalHours  = 6
	DefaultAutoPruneEnabled    = true

	// LLM defaults
	DefaultAskModel   = "gemini/gemini-2.5-flash"
	DefaultThinkModel = "gemini/gemini-2.5-pro"
	DefaultChatModel  = "gemini/gemini-2.5-flash"
	DefaultLLMTimeout = 300 // seconds

	// HTTP timeouts and limits
	DefaultHTTPTimeout    = 30 // seconds
	MaxIdleConns          = 100
	MaxIdleConnsPerHost   = 100
	IdleConnTimeout       = 90 // seconds
	TLSHandshakeTimeout   = 10 // seconds
	ExpectContinueTimeout = 1  // second

	// Discord embed colors
	EmbedColorComplete   = 0x2D7D32 // Dark green
	EmbedColorIncomplete = 0xFF9800 // Orange
	EmbedColorProcessing = 0x2196F3 // Blue
	EmbedColorError      = 0xFF0000 // Red

	// Auto restart
	DefaultRestartThresholdHours  = 24
	DefaultRestartCheckMinutes    = 10

	// Logging defaults
	DefaultLogLevel = "INFO"
)
