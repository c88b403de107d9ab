package bot

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/auth"
	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/ocr"
)

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logging.Info("Bot is ready! Logged in as %s", r.User.Username)

	b.conversations.SetSelfID(r.User.ID)

	cfg := b.config.Load()
	status := cfg.StatusMessage
	if status == "" {
		status = config.DefaultStatusMessage
	}
	if err := s.UpdateGameStatus(0, status); err != nil {
		logging.Error("Failed to set status: %v", err)
	}

	if cfg.ClientID != "" {
		logging.Info("Invite URL: https://discord.com/oauth2/authorize?client_id=%s&permissions=412317240384&scope=bot+applications.commands", cfg.ClientID)
	}

	b.registerCommands(s)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Own messages are persisted by the response path, not the gateway
	if m.Author == nil || m.Author.ID == b.selfID() || m.GuildID == "" {
		return
	}

	defer recoverWorker("message handler")

	b.tryEnqueueOCR(m)

	if b.chatbotCfg.IsEnabled(m.GuildID, m.ChannelID) {
		b.handleChatbotMessage(m, b.chatbotCfg.ChannelConfig(m.GuildID, m.ChannelID))
		return
	}

	if b.shouldTriggerInline(m) {
		b.inline.Enqueue(m.ChannelID, m.Message)
	}
}

func (b *Bot) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.GuildID == "" || !b.chatbotCfg.IsEnabled(m.GuildID, m.ChannelID) {
		return
	}
	// Edit payloads carry only the new text; attachments are not re-fetched
	if _, err := b.conversations.Edit(m.GuildID, m.ChannelID, m.ID, m.Content); err != nil {
		logging.Warn("History edit failed for message %s: %v", m.ID, err)
	}
}

func (b *Bot) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	if m.GuildID == "" || !b.chatbotCfg.IsEnabled(m.GuildID, m.ChannelID) {
		return
	}
	if _, err := b.conversations.Delete(m.GuildID, m.ChannelID, m.ID); err != nil {
		logging.Warn("History delete failed for message %s: %v", m.ID, err)
	}
}

// tryEnqueueOCR admits image candidates from configured read channels into
// the OCR queue. A full queue earns the message a ⏳ reaction.
func (b *Bot) tryEnqueueOCR(m *discordgo.MessageCreate) {
	if b.ocrPipeline == nil {
		return
	}
	cfg := b.config.Load()
	if !isOCRReadChannel(&cfg.OCR, m.ChannelID) {
		return
	}

	imageURL := ""
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		if ocr.ValidateAttachment(att.ContentType, att.Size, att.Width, att.Height) {
			imageURL = att.URL
			break
		}
	}
	if imageURL == "" {
		if candidate := firstHTTPURL(m.Content); candidate != "" {
			ctx, cancel := context.WithTimeout(b.shutdownCtx, 10*time.Second)
			ok := b.ocrPipeline.ValidateURL(ctx, candidate)
			cancel()
			if ok {
				imageURL = candidate
			}
		}
	}
	if imageURL == "" {
		return
	}

	job := ocr.Job{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.Author.ID,
		ImageURL:  imageURL,
		Language:  cfg.OCRLanguageForChannel(m.ChannelID),
	}
	if !b.ocrPipeline.Enqueue(job) {
		if err := b.session.MessageReactionAdd(m.ChannelID, m.ID, "⏳"); err != nil {
			logging.Warn("Could not add backpressure reaction: %v", err)
		}
	}
}

func isOCRReadChannel(cfg *config.OCRConfig, channelID string) bool {
	for _, ch := range cfg.ReadChannels {
		if ch.ChannelID == channelID {
			return true
		}
	}
	return false
}

func firstHTTPURL(content string) string {
	for _, field := range strings.Fields(content) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}

// shouldTriggerInline is the inline admission filter: mention present, inline
// enabled for the channel, start-only rule honoured, permission lists allow.
func (b *Bot) shouldTriggerInline(m *discordgo.MessageCreate) bool {
	selfID := b.selfID()
	if selfID == "" || !mentionsUser(m.Content, selfID) {
		return false
	}
	effective := b.inlineCfg.EffectiveConfig(m.GuildID, m.ChannelID)
	if !effective.Enabled {
		return false
	}
	if effective.TriggerOnStartOnly && !mentionAtStart(m.Content, selfID) {
		return false
	}
	// The @everyone role id equals the guild id
	return auth.AllowInline(effective, m.Author.ID, auth.MemberRoleIDs(m.Member), m.GuildID)
}

func mentionTokens(userID string) [2]string {
	return [2]string{"<@" + userID + ">", "<@!" + userID + ">"}
}

func mentionsUser(content, userID string) bool {
	for _, token := range mentionTokens(userID) {
		if strings.Contains(content, token) {
			return true
		}
	}
	return false
}

func mentionAtStart(content, userID string) bool {
	trimmed := strings.TrimSpace(content)
	for _, token := range mentionTokens(userID) {
		if strings.HasPrefix(trimmed, token) {
			return true
		}
	}
	return false
}

// mentionsSelf covers both the mention token and the gateway mention list.
func (b *Bot) mentionsSelf(m *discordgo.Message) bool {
	selfID := b.selfID()
	for _, user := range m.Mentions {
		if user != nil && user.ID == selfID {
			return true
		}
	}
	return mentionsUser(m.Content, selfID)
}

func (b *Bot) repliesToSelf(m *discordgo.Message) bool {
	return m.ReferencedMessage != nil &&
		m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == b.selfID()
}

// safeReply replies with a message reference; on 10008 (the target vanished
// mid-flight) it falls back to a plain channel send.
func (b *Bot) safeReply(channelID string, target *discordgo.Message, content string) *discordgo.Message {
	sent, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		Reference:       target.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err == nil {
		return sent
	}
	if isUnknownMessage(err) {
		sent, err = b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		})
		if err == nil {
			return sent
		}
	}
	logging.Error("Could not send reply in %s: %v", channelID, err)
	return nil
}

func isUnknownMessage(err error) bool {
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownMessage
	}
	return false
}

func (b *Bot) editOrDrop(channelID, messageID, content string) {
	if _, err := b.session.ChannelMessageEdit(channelID, messageID, content); err != nil {
		logging.Warn("Could not edit message %s: %v", messageID, err)
	}
}
