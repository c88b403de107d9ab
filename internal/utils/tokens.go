package utils

import (
	"github.com/pkoukk/tiktoken-go"

	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/messaging"
)

// DefaultTokenLimit provides a conservative context window size.
const DefaultTokenLimit = 128000

// EstimateTokenCount counts the tokens of a message history using tiktoken.
// Always uses o200k_base encoding regardless of the model used.
func EstimateTokenCount(msgs []messaging.LLMMessage) int {
	tke, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		logging.Warn("Failed to get o200k_base encoding: %v, falling back to rough estimate", err)
		totalChars := 0
		for _, msg := range msgs {
			totalChars += len(msg.Content)
			for _, part := range msg.Parts {
				totalChars += len(part.Text)
			}
		}
		return totalChars / 4
	}

	totalTokens := 0
	for _, msg := range msgs {
		// message formatting overhead
		totalTokens += 3
		if msg.Role != "" {
			totalTokens += len(tke.Encode(msg.Role, nil, nil))
		}
		if msg.Content != "" {
			totalTokens += len(tke.Encode(msg.Content, nil, nil))
		}
		for _, part := range msg.Parts {
			if part.Text != "" {
				totalTokens += len(tke.Encode(part.Text, nil, nil))
			}
		}
	}

	// reply priming overhead
	totalTokens += 3

	return totalTokens
}

// EstimateTokenCountFromText counts the tokens of plain text using tiktoken,
// with a rough length-based fallback when the encoding is unavailable.
func EstimateTokenCountFromText(text string) int {
	tke, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		logging.Warn("Failed to get o200k_base encoding: %v, falling back to rough estimate", err)
		return len(text) / 4
	}
	return len(tke.Encode(text, nil, nil))
}

// TrimHistoryToLimit drops the oldest entries until the history fits the token
// limit, always keeping the final entry.
func TrimHistoryToLimit(msgs []messaging.LLMMessage, limit int) []messaging.LLMMessage {
	if limit <= 0 {
		return msgs
	}
	for len(msgs) > 1 && EstimateTokenCount(msgs) > limit {
		msgs = msgs[1:]
	}
	return msgs
}
