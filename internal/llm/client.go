// Package llm is the provider boundary: it turns a completion request into a
// stream of provider-agnostic chunks, rotating API keys across attempts and
// marking exhausted credentials as bad.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/interfaces"
	"DiscordContextBot/internal/llm/providers"
	"DiscordContextBot/internal/logging"
	botnet "DiscordContextBot/internal/net"
	"DiscordContextBot/internal/storage"
)

const maxKeyAttempts = 5

// Client multiplexes completion requests across configured providers and
// rotated keys.
type Client struct {
	cfg    *config.Config
	keys   *storage.APIKeyManager
	client *http.Client
}

// NewClient creates the LLM client.
func NewClient(cfg *config.Config, keys *storage.APIKeyManager) *Client {
	return &Client{
		cfg:    cfg,
		keys:   keys,
		client: botnet.NewOptimizedClientWithNoTimeout(),
	}
}

// splitModel separates "provider/model" into its parts.
func splitModel(model string) (provider, name string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("model identifier %q is not of the form provider/model", model)
	}
	return parts[0], parts[1], nil
}

// Stream starts a streaming completion, retrying across keys on auth and
// quota failures.
func (c *Client) Stream(ctx context.Context, req interfaces.CompletionRequest) (<-chan interfaces.StreamChunk, error) {
	providerName, modelName, err := splitModel(req.Model)
	if err != nil {
		return nil, err
	}
	providerCfg, ok := c.cfg.Providers[providerName]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", providerName)
	}
	availableKeys := providerCfg.GetAPIKeys()

	if providerName == "gemini" || providerName == "google" {
		return c.streamGemini(ctx, req, providerName, modelName, availableKeys)
	}
	return c.streamOpenAI(ctx, req, providerName, modelName, providerCfg.BaseURL, availableKeys)
}

func (c *Client) streamGemini(ctx context.Context, req interfaces.CompletionRequest, providerName, modelName string, keys []string) (<-chan interfaces.StreamChunk, error) {
	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := c.keys.GetNextAPIKey(providerName, keys)
		if err != nil {
			return nil, err
		}
		stream, err := providers.StreamGemini(ctx, key, modelName, req)
		if err != nil {
			lastErr = err
			if providers.IsAuthError(err) {
				c.markBad(providerName, key, err)
				continue
			}
			return nil, err
		}
		return stream, nil
	}
	return nil, fmt.Errorf("all gemini keys exhausted: %w", lastErr)
}

func (c *Client) streamOpenAI(ctx context.Context, req interfaces.CompletionRequest, providerName, modelName, baseURL string, keys []string) (<-chan interfaces.StreamChunk, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider %q has no base_url configured", providerName)
	}
	body, err := buildOpenAIRequest(req, modelName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := c.keys.GetNextAPIKey(providerName, keys)
		if err != nil {
			return nil, err
		}
		resp, err := c.post(ctx, baseURL, key, body)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			out := make(chan interfaces.StreamChunk, 16)
			go relaySSE(resp.Body, out)
			return out, nil
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		lastErr = fmt.Errorf("provider %s returned status %d: %s", providerName, resp.StatusCode, strings.TrimSpace(string(detail)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			c.markBad(providerName, key, lastErr)
		default:
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("all %s keys exhausted: %w", providerName, lastErr)
}

func (c *Client) markBad(provider, key string, reason error) {
	logging.Warn("Marking %s key as bad: %v", provider, reason)
	if err := c.keys.MarkKeyAsBad(provider, key, reason.Error()); err != nil {
		logging.Error("Failed to record bad key for %s: %v", provider, err)
	}
}

func (c *Client) post(ctx context.Context, baseURL, key string, body []byte) (*http.Response, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	httpReq.Header.Set("Accept", "text/event-stream")
	return c.client.Do(httpReq)
}

// buildOpenAIRequest renders the OpenAI-compatible streaming request body.
func buildOpenAIRequest(req interfaces.CompletionRequest, modelName string) ([]byte, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		if len(msg.Parts) == 0 {
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
			continue
		}
		var parts []openai.ChatMessagePart
		for _, part := range msg.Parts {
			if part.IsImage() {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
				})
			} else {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}

	request := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.Temperature != nil {
		request.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}
	return json.Marshal(request)
}

// chunkWire is the provider-agnostic stream chunk shape.
type chunkWire struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseChunk decodes one SSE payload line into a stream chunk. It returns nil
// for empty lines and the [DONE] sentinel.
func ParseChunk(line string) *interfaces.StreamChunk {
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
	if payload == "" || payload == "[DONE]" {
		return nil
	}
	var wire chunkWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		logging.Debug("Skipping unparseable stream chunk: %v", err)
		return nil
	}
	chunk := &interfaces.StreamChunk{Raw: payload}
	if wire.Error != nil {
		chunk.Err = fmt.Errorf("%s", wire.Error.Message)
		return chunk
	}
	if len(wire.Choices) > 0 {
		chunk.Content = wire.Choices[0].Delta.Content
		chunk.ReasoningContent = wire.Choices[0].Delta.ReasoningContent
	}
	if wire.Usage != nil {
		chunk.PromptTokens = wire.Usage.PromptTokens
		chunk.CompletionTokens = wire.Usage.CompletionTokens
	}
	return chunk
}

// relaySSE pumps parsed chunks from the response body into out until the
// stream closes.
func relaySSE(body io.ReadCloser, out chan<- interfaces.StreamChunk) {
	defer close(out)
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		chunk := ParseChunk(scanner.Text())
		if chunk == nil {
			continue
		}
		out <- *chunk
		if chunk.Err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- interfaces.StreamChunk{Err: fmt.Errorf("stream read failed: %w", err)}
	}
}

// Complete runs a streaming call to completion and returns the concatenated
// answer text, for callers that do not render progressively.
func (c *Client) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	stream, err := c.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}
