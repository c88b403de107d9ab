// Package interfaces defines the narrow contracts between the engine and its
// external collaborators, so components can be exercised in tests without an
// OCR binary or a live LLM endpoint.
package interfaces

import (
	"context"

	"DiscordContextBot/internal/messaging"
)

// OCREngine extracts text from image bytes in the given language.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, language string) (string, error)
}

// StreamChunk is one delta of a streaming completion. ReasoningContent carries
// model thinking when the provider separates it from the answer.
type StreamChunk struct {
	Content          string
	ReasoningContent string
	PromptTokens     int
	CompletionTokens int
	Err              error
	Raw              string
}

// CompletionRequest is one LLM call: the model identifier as configured
// ("provider/model"), the system prompt and the conversation history.
// SafetySettings carries per-channel harm-category overrides; providers that
// have no moderation surface ignore it.
type CompletionRequest struct {
	Model          string
	SystemPrompt   string
	History        []messaging.LLMMessage
	Temperature    *float32
	MaxTokens      int
	SafetySettings map[string]string
}

// LLMStreamer starts a streaming completion. The returned channel is closed
// when the stream ends; a terminal failure arrives as a chunk with Err set.
type LLMStreamer interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}
