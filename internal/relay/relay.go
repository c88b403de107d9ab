package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/interfaces"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/storage"
	"DiscordContextBot/internal/utils"
)

// Surface is the slice of the Discord API the relay edits through.
type Surface interface {
	SendText(channelID, content string) (messageID string, err error)
	EditText(channelID, messageID, content string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (messageID string, err error)
	EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error
	Delete(channelID, messageID string) error
}

// IsRateLimited reports whether a Discord API error is an HTTP 429.
func IsRateLimited(err error) bool {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusTooManyRequests
	}
	return false
}

var errThrottled = errors.New("discord rate limited")

// Options configure one relay run.
type Options struct {
	ChannelID string
	// PlaceholderID is the already-posted "Thinking..." reply that the
	// relay edits in place. Empty means the relay sends its own first
	// message.
	PlaceholderID string
	Model         string
	// ShowThinking attaches the reasoning text as an embed panel on the
	// final response.
	ShowThinking bool
	// Plain switches from embeds to a chain of plain messages.
	Plain bool
	// MaxMessages caps the number of messages one response may occupy.
	MaxMessages int
	TokenLimit  int
	// Sanitize runs over the visible text before it is posted, used for
	// the mention and emote rewrite pass in plain mode.
	Sanitize func(string) string
}

// Result is the outcome of a relay run.
type Result struct {
	Content          string
	Thinking         string
	MessageIDs       []string
	PromptTokens     int
	CompletionTokens int
	Elapsed          time.Duration
	TokensPerSecond  float64
	RawChunks        []string
}

// Relay drives throttled Discord edits from a chunk stream.
type Relay struct {
	surface      Surface
	archive      *storage.ChunkArchive
	editInterval time.Duration
	backoff      time.Duration
	now          func() time.Time
}

// New creates a relay. archive may be nil.
func New(surface Surface, archive *storage.ChunkArchive) *Relay {
	return &Relay{
		surface:      surface,
		archive:      archive,
		editInterval: config.StreamEditIntervalMillis * time.Millisecond,
		backoff:      config.StreamRateLimitBackoffMS * time.Millisecond,
		now:          time.Now,
	}
}

// Run consumes the stream until it closes, editing the held messages on a
// throttle. It returns the assembled result; the returned error reflects a
// failed stream, not individual edit failures.
func (r *Relay) Run(ctx context.Context, stream <-chan interfaces.StreamChunk, opts Options) (*Result, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = config.DefaultInlineMaxMessages
	}

	var messages []string
	if opts.PlaceholderID != "" {
		messages = append(messages, opts.PlaceholderID)
	}

	var answer, reasoning strings.Builder
	var raw []string
	var promptTokens, completionTokens int
	start := r.now()
	lastUpdate := start
	lastSummary := ""
	uiBroken := false

	for chunk := range stream {
		if ctx.Err() != nil {
			break
		}
		if chunk.Raw != "" {
			raw = append(raw, chunk.Raw)
		}
		if chunk.Err != nil {
			r.renderError(opts, &messages, chunk.Err)
			return &Result{
				Content:    answer.String(),
				Thinking:   reasoning.String(),
				MessageIDs: messages,
				RawChunks:  raw,
				Elapsed:    r.now().Sub(start),
			}, chunk.Err
		}

		answer.WriteString(chunk.Content)
		reasoning.WriteString(chunk.ReasoningContent)
		if chunk.PromptTokens > 0 {
			promptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			completionTokens = chunk.CompletionTokens
		}

		now := r.now()
		if uiBroken || now.Sub(lastUpdate) < r.editInterval {
			continue
		}

		strip := stripCombined(reasoning.String(), answer.String())
		if strip.ThinkingOnly {
			latest := strip.LatestSummary()
			if latest == lastSummary {
				continue
			}
			err := r.editStatus(opts, &messages, latest)
			switch {
			case err == nil:
				lastSummary = latest
				lastUpdate = now
			case errors.Is(err, errThrottled):
				lastUpdate = now.Add(r.backoff)
			default:
				logging.Warn("Stream status edit failed, stopping UI updates: %v", err)
				uiBroken = true
			}
			continue
		}

		err := r.render(opts, &messages, strip, false, nil)
		switch {
		case err == nil:
			lastUpdate = now
		case errors.Is(err, errThrottled):
			lastUpdate = now.Add(r.backoff)
		default:
			logging.Warn("Stream edit failed, stopping UI updates: %v", err)
			uiBroken = true
		}
	}

	strip := stripCombined(reasoning.String(), answer.String())
	if completionTokens == 0 {
		completionTokens = utils.EstimateTokenCountFromText(answer.String())
	}
	elapsed := r.now().Sub(start)
	result := &Result{
		Content:          strip.Cleaned,
		Thinking:         strip.Thinking,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Elapsed:          elapsed,
		RawChunks:        raw,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		result.TokensPerSecond = float64(completionTokens) / secs
	}

	footer := &FooterInfo{
		Model:            opts.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TokenLimit:       opts.TokenLimit,
		ElapsedSeconds:   elapsed.Seconds(),
		TokensPerSecond:  result.TokensPerSecond,
	}
	if err := r.render(opts, &messages, strip, true, footer); err != nil && !errors.Is(err, errThrottled) {
		logging.Error("Final stream render failed: %v", err)
	}
	result.MessageIDs = messages

	if len(messages) > 0 {
		if err := r.archive.SaveStream(ctx, messages[0], opts.Model, raw, strip.Cleaned); err != nil {
			logging.Warn("Failed to archive stream chunks: %v", err)
		}
	}
	return result, nil
}

// stripCombined wraps the reasoning buffer in a thinking tag so one strip
// pass classifies the whole response.
func stripCombined(reasoning, answer string) StripResult {
	if reasoning == "" {
		return StripThinking(answer)
	}
	return StripThinking("<thinking>" + reasoning + "</thinking>" + answer)
}

// editStatus replaces the first held message with the thinking status line.
func (r *Relay) editStatus(opts Options, messages *[]string, summary string) error {
	if opts.Plain {
		return r.applyText(opts, messages, 0, thinkingStatusText(summary))
	}
	return r.applyEmbed(opts, messages, 0, thinkingStatusEmbed(summary))
}

// render draws the current answer across the held messages, sending new ones
// and deleting surplus ones so the chain matches the chunk count.
func (r *Relay) render(opts Options, messages *[]string, strip StripResult, final bool, footer *FooterInfo) error {
	if strip.Cleaned == "" && strip.Thinking == "" && !final {
		return nil
	}

	limit := config.MaxDiscordEmbedLength
	if opts.Plain {
		limit = config.MaxDiscordMessageLength
	}
	if !final {
		limit -= len(StreamingIndicator)
	}

	text := strip.Cleaned
	if opts.Plain && opts.Sanitize != nil {
		text = opts.Sanitize(text)
	}

	chunks := SplitMessage(text, limit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	if len(chunks) > opts.MaxMessages {
		chunks = chunks[:opts.MaxMessages]
		chunks[len(chunks)-1] = TruncateAtBoundary(chunks[len(chunks)-1], limit)
	}
	if !final {
		chunks[len(chunks)-1] += StreamingIndicator
	}

	for i, chunk := range chunks {
		last := i == len(chunks)-1
		var err error
		if opts.Plain {
			err = r.applyText(opts, messages, i, chunk)
		} else {
			var thinking string
			var foot *FooterInfo
			if last && final {
				foot = footer
				if opts.ShowThinking {
					thinking = strip.Thinking
				}
			}
			err = r.applyEmbed(opts, messages, i, buildEmbed(chunk, final, thinking, foot))
		}
		if err != nil {
			return err
		}
	}

	for len(*messages) > len(chunks) {
		id := (*messages)[len(*messages)-1]
		if err := r.surface.Delete(opts.ChannelID, id); err != nil {
			logging.Warn("Failed to delete surplus stream message %s: %v", id, err)
		}
		*messages = (*messages)[:len(*messages)-1]
	}
	return nil
}

func (r *Relay) applyText(opts Options, messages *[]string, i int, content string) error {
	if content == "" {
		content = "..."
	}
	if i < len(*messages) {
		return classify(r.surface.EditText(opts.ChannelID, (*messages)[i], content))
	}
	id, err := r.surface.SendText(opts.ChannelID, content)
	if err != nil {
		return classify(err)
	}
	*messages = append(*messages, id)
	return nil
}

func (r *Relay) applyEmbed(opts Options, messages *[]string, i int, embed *discordgo.MessageEmbed) error {
	if i < len(*messages) {
		return classify(r.surface.EditEmbed(opts.ChannelID, (*messages)[i], embed))
	}
	id, err := r.surface.SendEmbed(opts.ChannelID, embed)
	if err != nil {
		return classify(err)
	}
	*messages = append(*messages, id)
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRateLimited(err) {
		return errThrottled
	}
	return err
}

func (r *Relay) renderError(opts Options, messages *[]string, cause error) {
	var err error
	if opts.Plain {
		err = r.applyText(opts, messages, 0, "❌ **Stream Error**\n```\n"+cause.Error()+"\n```")
	} else {
		err = r.applyEmbed(opts, messages, 0, errorEmbed(cause))
	}
	if err != nil {
		logging.Error("Failed to surface stream error: %v", err)
	}
}

// SessionSurface adapts a discordgo session to the Surface interface.
type SessionSurface struct {
	Session *discordgo.Session
}

func (s *SessionSurface) SendText(channelID, content string) (string, error) {
	msg, err := s.Session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (s *SessionSurface) EditText(channelID, messageID, content string) error {
	_, err := s.Session.ChannelMessageEdit(channelID, messageID, content)
	return err
}

func (s *SessionSurface) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (string, error) {
	msg, err := s.Session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (s *SessionSurface) EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error {
	_, err := s.Session.ChannelMessageEditEmbed(channelID, messageID, embed)
	return err
}

func (s *SessionSurface) Delete(channelID, messageID string) error {
	return s.Session.ChannelMessageDelete(channelID, messageID)
}
