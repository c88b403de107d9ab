// Package providers holds the provider-specific streaming adapters that do
// not speak the OpenAI-compatible wire protocol.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"DiscordContextBot/internal/interfaces"
	"DiscordContextBot/internal/logging"
	botnet "DiscordContextBot/internal/net"
)

var imageClient = botnet.NewOptimizedClient(30 * time.Second)

// defaultSafetySettings disable the API-side filters; moderation is handled
// by the output sanitiser.
var defaultSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// safetySettings resolves the effective filter set for one call: the defaults
// with any per-channel category overrides applied on top. Categories outside
// the default set pass through as given.
func safetySettings(overrides map[string]string) []*genai.SafetySetting {
	if len(overrides) == 0 {
		return defaultSafetySettings
	}
	out := make([]*genai.SafetySetting, 0, len(defaultSafetySettings)+len(overrides))
	covered := make(map[string]bool, len(defaultSafetySettings))
	for _, def := range defaultSafetySettings {
		covered[string(def.Category)] = true
		threshold := def.Threshold
		if v, ok := overrides[string(def.Category)]; ok && v != "" {
			threshold = genai.HarmBlockThreshold(v)
		}
		out = append(out, &genai.SafetySetting{Category: def.Category, Threshold: threshold})
	}
	for category, v := range overrides {
		if covered[category] || v == "" {
			continue
		}
		out = append(out, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(v),
		})
	}
	return out
}

// IsAuthError reports whether a Gemini failure should rotate to another key.
func IsAuthError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api key") || strings.Contains(msg, "quota")
}

// StreamGemini starts a streaming Gemini completion and adapts its thought
// and answer parts onto the provider-agnostic chunk shape. The first stream
// event is pulled synchronously so credential failures surface to the
// rotation loop instead of mid-stream.
func StreamGemini(ctx context.Context, apiKey, model string, req interfaces.CompletionRequest) (<-chan interfaces.StreamChunk, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		SafetySettings: safetySettings(req.SafetySettings),
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := buildContents(ctx, req)

	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, model, contents, cfg))
	resp, streamErr, ok := next()
	if !ok {
		stop()
		out := make(chan interfaces.StreamChunk)
		close(out)
		return out, nil
	}
	if streamErr != nil {
		stop()
		return nil, streamErr
	}

	out := make(chan interfaces.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stop()
		emitResponse(out, resp)
		for {
			resp, err, ok := next()
			if !ok {
				return
			}
			if err != nil {
				out <- interfaces.StreamChunk{Err: err}
				return
			}
			emitResponse(out, resp)
		}
	}()
	return out, nil
}

// emitResponse converts one stream event into chunk(s). Thought parts map to
// reasoning content.
func emitResponse(out chan<- interfaces.StreamChunk, resp *genai.GenerateContentResponse) {
	var chunk interfaces.StreamChunk
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				chunk.ReasoningContent += part.Text
			} else {
				chunk.Content += part.Text
			}
		}
	}
	if resp.UsageMetadata != nil {
		chunk.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if chunk.Content == "" && chunk.ReasoningContent == "" && chunk.PromptTokens == 0 && chunk.CompletionTokens == 0 {
		return
	}
	out <- chunk
}

// buildContents renders the history as Gemini content turns. Image parts are
// inlined as bytes because the Gemini API does not fetch arbitrary URLs.
func buildContents(ctx context.Context, req interfaces.CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History))
	for _, msg := range req.History {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if len(msg.Parts) == 0 {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		} else {
			for _, part := range msg.Parts {
				if part.IsImage() {
					data, mime, err := fetchImage(ctx, part.ImageURL)
					if err != nil {
						logging.Warn("Skipping unfetchable image %s: %v", part.ImageURL, err)
						continue
					}
					parts = append(parts, genai.NewPartFromBytes(data, mime))
				} else if part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := imageClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return data, mime, nil
}
