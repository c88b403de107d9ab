package bot

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/formatter"
	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/interfaces"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/processors"
	"DiscordContextBot/internal/utils"
)

// contextBundle is one assembled LLM request: the system prompt with the
// static context appended, plus the structured history.
type contextBundle struct {
	SystemPrompt string
	History      []messaging.LLMMessage
	Users        map[string]*index.UserEntry
}

// buildBundle turns a prioritised message slice into a full LLM request. The
// full (unprioritised) history resolves reply annotations for messages whose
// targets fell outside the prioritised slice.
func (b *Bot) buildBundle(ctx context.Context, guildID, channelID string, selected, full []messaging.ConversationMessage) (*contextBundle, error) {
	b.validateMedia(ctx, guildID, channelID, selected)

	channel, err := b.index.GetChannel(guildID, channelID)
	if err != nil {
		logging.Warn("Channel index read failed for %s/%s: %v", guildID, channelID, err)
	}
	users, err := b.index.GetUsers(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to read user index: %w", err)
	}
	pins, err := b.index.GetPinnedMessages(guildID, channelID)
	if err != nil {
		logging.Warn("Pin index read failed for %s/%s: %v", guildID, channelID, err)
	}

	static, history := formatter.FormatContext(selected, full, channel, users, pins, b.selfIdentity())

	cfg := b.config.Load()
	var prompt strings.Builder
	if cfg.SystemPrompt != "" {
		prompt.WriteString(cfg.SystemPrompt)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString(static)
	if docs := b.documentBlocks(ctx, selected); docs != "" {
		prompt.WriteString("\n")
		prompt.WriteString(docs)
	}

	return &contextBundle{
		SystemPrompt: prompt.String(),
		History:      history,
		Users:        users,
	}, nil
}

// validateMedia refreshes or drops each image URL in the selected messages.
// Expired images are replaced with a text placeholder so the LLM learns the
// attachment existed, and the stored record loses the dead URL.
func (b *Bot) validateMedia(ctx context.Context, guildID, channelID string, selected []messaging.ConversationMessage) {
	for i := range selected {
		msg := &selected[i]
		if !msg.HasImages() {
			continue
		}
		parts := msg.MultimodalContent[:0:0]
		changed := false
		for _, part := range msg.MultimodalContent {
			if !part.IsImage() {
				parts = append(parts, part)
				continue
			}
			fresh, expiredName, err := b.media.ValidateAndUpdateURL(ctx, part.ImageURL)
			switch {
			case err != nil:
				logging.Warn("Media validation failed for %s: %v", part.ImageURL, err)
				parts = append(parts, part)
			case fresh == "":
				if expiredName == "" {
					expiredName = urlFilename(part.ImageURL)
				}
				parts = append(parts, messaging.TextPart(fmt.Sprintf(" [Image %s expired] ", expiredName)))
				msg.AttachmentURLs = removeString(msg.AttachmentURLs, part.ImageURL)
				changed = true
			case fresh != part.ImageURL:
				parts = append(parts, messaging.ImagePart(fresh))
				changed = true
			default:
				parts = append(parts, part)
			}
		}
		msg.MultimodalContent = parts
		if changed {
			if err := b.conversations.ReplaceMessage(guildID, channelID, msg); err != nil {
				logging.Warn("Could not persist media update for message %s: %v", msg.MessageID, err)
			}
		}
	}
}

// documentBlocks extracts the text of document attachments referenced in the
// selected messages, newest first, bounded to a handful per request.
func (b *Bot) documentBlocks(ctx context.Context, selected []messaging.ConversationMessage) string {
	const maxDocuments = 3
	var sb strings.Builder
	count := 0
	for i := len(selected) - 1; i >= 0 && count < maxDocuments; i-- {
		for _, raw := range selected[i].AttachmentURLs {
			name := urlFilename(raw)
			if !processors.IsDocumentFilename(name) {
				continue
			}
			text, err := b.docs.ExtractFromURL(ctx, raw)
			if err != nil {
				logging.Warn("Document extraction failed for %s: %v", raw, err)
				continue
			}
			fmt.Fprintf(&sb, "\nAttached document %q (from %s):\n%s\n", name, selected[i].Username, text)
			count++
			if count >= maxDocuments {
				break
			}
		}
	}
	return sb.String()
}

func (b *Bot) selfIdentity() formatter.Identity {
	id := formatter.Identity{ID: b.selfID()}
	if b.session.State != nil && b.session.State.User != nil {
		id.DisplayName = b.session.State.User.GlobalName
		if id.DisplayName == "" {
			id.DisplayName = b.session.State.User.Username
		}
	}
	return id
}

// completionRequest assembles the LLM request for a bundle under a model's
// configured parameters, trimming the oldest history when the estimated token
// count would overflow the model's context.
func (b *Bot) completionRequest(model string, bundle *contextBundle) interfaces.CompletionRequest {
	cfg := b.config.Load()
	limit := cfg.GetModelTokenLimit(model) - utils.EstimateTokenCountFromText(bundle.SystemPrompt)
	req := interfaces.CompletionRequest{
		Model:        model,
		SystemPrompt: bundle.SystemPrompt,
		History:      utils.TrimHistoryToLimit(bundle.History, limit),
	}
	if params, ok := cfg.Models[model]; ok {
		req.Temperature = params.Temperature
		if params.MaxTokens != nil {
			req.MaxTokens = *params.MaxTokens
		}
	}
	return req
}

// sanitizer builds the plain-mode output rewrite pass for one guild.
func (b *Bot) sanitizer(guildID string, users map[string]*index.UserEntry) func(string) string {
	cfg := b.config.Load()
	roles := b.guildRoleNames(guildID)
	return func(text string) string {
		return formatter.LLMToDiscord(text, users, roles, cfg.CreatorUserID, cfg.CreatorRendering)
	}
}

func (b *Bot) guildRoleNames(guildID string) map[string]string {
	roles := make(map[string]string)
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return roles
	}
	for _, role := range guild.Roles {
		roles[role.ID] = role.Name
	}
	return roles
}

// updateChannelIndex folds the channel's current metadata into the index,
// resolving thread fallbacks (topic from thread name, category and NSFW from
// the parent) against gateway state.
func (b *Bot) updateChannelIndex(guildID, channelID string) {
	ch, err := b.channel(channelID)
	if err != nil {
		logging.Warn("Could not resolve channel %s: %v", channelID, err)
		return
	}
	facts := index.ChannelFacts{
		ChannelID:   ch.ID,
		GuildID:     guildID,
		ChannelName: ch.Name,
		ChannelType: channelTypeName(ch.Type),
		Topic:       ch.Topic,
		IsNSFW:      ch.NSFW,
	}
	if guild, err := b.session.State.Guild(guildID); err == nil {
		facts.GuildName = guild.Name
		facts.GuildDescription = guild.Description
	}
	if ch.IsThread() {
		if facts.Topic == "" {
			facts.Topic = ch.Name
		}
		if parent, err := b.channel(ch.ParentID); err == nil {
			facts.IsNSFW = parent.NSFW
			if parent.ParentID != "" {
				if category, err := b.channel(parent.ParentID); err == nil {
					facts.CategoryName = category.Name
				}
			}
		}
	} else if ch.ParentID != "" {
		if category, err := b.channel(ch.ParentID); err == nil {
			facts.CategoryName = category.Name
		}
	}
	if err := b.index.UpdateChannel(facts); err != nil {
		logging.Warn("Channel index update failed for %s: %v", channelID, err)
	}
}

func (b *Bot) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := b.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return b.session.Channel(channelID)
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "text"
	case discordgo.ChannelTypeGuildPublicThread:
		return "public_thread"
	case discordgo.ChannelTypeGuildPrivateThread:
		return "private_thread"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildNewsThread:
		return "news_thread"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	case discordgo.ChannelTypeDM:
		return "dm"
	default:
		return "other"
	}
}

func urlFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(parsed.Path)
}

func removeString(list []string, target string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
