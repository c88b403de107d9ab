package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/botconfig"
	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/conversation"
	"DiscordContextBot/internal/formatter"
	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/relay"
)

// handleChatbotMessage ingests one message into a chatbot channel's history
// and, when the message addresses the bot, schedules a response.
func (b *Bot) handleChatbotMessage(m *discordgo.MessageCreate, chanCfg botconfig.ChannelChatbotConfig) {
	added, batch, err := b.conversations.Add(m.GuildID, m.ChannelID, m.Message)
	if err != nil {
		logging.Error("History append failed for %s/%s: %v", m.GuildID, m.ChannelID, err)
		return
	}
	if added {
		b.applyIndexBatch(m.GuildID, batch)
		b.updateChannelIndex(m.GuildID, m.ChannelID)
	}

	if m.Author.Bot {
		return
	}
	triggered := (chanCfg.AutoRespondToMentions && b.mentionsSelf(m.Message)) ||
		(chanCfg.AutoRespondToReplies && b.repliesToSelf(m.Message))
	if !triggered {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer recoverWorker("chatbot responder")
		if chanCfg.ResponseDelaySeconds > 0 {
			select {
			case <-time.After(time.Duration(chanCfg.ResponseDelaySeconds) * time.Second):
			case <-b.shutdownCtx.Done():
				return
			}
		}
		b.respondInChatbotChannel(m, chanCfg)
	}()
}

func (b *Bot) respondInChatbotChannel(m *discordgo.MessageCreate, chanCfg botconfig.ChannelChatbotConfig) {
	placeholder := b.safeReply(m.ChannelID, m.Message, "Thinking...")
	if placeholder == nil {
		return
	}

	history, err := b.conversations.LoadHistory(m.GuildID, m.ChannelID)
	if err != nil {
		logging.Error("History load failed for %s/%s: %v", m.GuildID, m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "Something went wrong reading the channel history.")
		return
	}
	selected := formatter.PrioritizeContext(history, m.Author.ID, chanCfg.MaxContextMessages, chanCfg.MaxUserContextMessages)

	bundle, err := b.buildBundle(b.shutdownCtx, m.GuildID, m.ChannelID, selected, history)
	if err != nil {
		logging.Error("Context assembly failed for %s/%s: %v", m.GuildID, m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "Something went wrong assembling the context.")
		return
	}

	cfg := b.config.Load()
	model := cfg.ModelForType("chat")
	req := b.completionRequest(model, bundle)
	req.SafetySettings = chanCfg.SafetySettings
	stream, err := b.llm.Stream(b.shutdownCtx, req)
	if err != nil {
		logging.Error("LLM stream failed in %s: %v", m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "The model is unavailable right now, try again shortly.")
		return
	}

	maxMessages := chatbotMessageCeiling(chanCfg.MaxResponseLength)
	result, err := b.relay.Run(b.shutdownCtx, stream, relay.Options{
		ChannelID:     m.ChannelID,
		PlaceholderID: placeholder.ID,
		Model:         model,
		Plain:         true,
		MaxMessages:   maxMessages,
		TokenLimit:    cfg.GetModelTokenLimit(model),
		Sanitize:      b.sanitizer(m.GuildID, bundle.Users),
	})
	if err != nil {
		logging.Error("Stream relay failed in %s: %v", m.ChannelID, err)
		return
	}
	b.persistOwnMessages(m.GuildID, m.ChannelID, result.MessageIDs)
}

// chatbotMessageCeiling converts the per-channel response length budget into a
// message-count ceiling for the relay.
func chatbotMessageCeiling(maxResponseLength int) int {
	n := (maxResponseLength + config.MaxDiscordMessageLength - 1) / config.MaxDiscordMessageLength
	if n < 1 {
		n = 1
	}
	if n > config.DefaultInlineMaxMessages {
		n = config.DefaultInlineMaxMessages
	}
	return n
}

// persistOwnMessages folds the bot's just-sent messages into the channel
// history so later runs see their own side of the conversation.
func (b *Bot) persistOwnMessages(guildID, channelID string, messageIDs []string) {
	for _, id := range messageIDs {
		msg, err := b.session.ChannelMessage(channelID, id)
		if err != nil {
			logging.Warn("Could not fetch own message %s for persistence: %v", id, err)
			continue
		}
		msg.GuildID = guildID
		if _, _, err := b.conversations.Add(guildID, channelID, msg); err != nil {
			logging.Warn("Could not persist own message %s: %v", id, err)
		}
	}
}

func (b *Bot) applyIndexBatch(guildID string, batch conversation.IndexBatch) {
	if len(batch.Authors) > 0 {
		if err := b.index.BulkUpdateUsers(guildID, batch.Authors, true); err != nil {
			logging.Warn("User index update failed for guild %s: %v", guildID, err)
		}
	}
	if len(batch.Mentioned) > 0 {
		if err := b.index.BulkUpdateUsers(guildID, batch.Mentioned, false); err != nil {
			logging.Warn("User index update failed for guild %s: %v", guildID, err)
		}
	}
}

// bootstrapChatbotChannel backfills history and pins when chatbot mode is
// enabled. Messages at or before the channel's cleared checkpoint are never
// re-ingested.
func (b *Bot) bootstrapChatbotChannel(guildID, channelID string) (int, error) {
	chanCfg := b.chatbotCfg.ChannelConfig(guildID, channelID)
	checkpoint := chanCfg.LastClearedTimestamp

	var pool []*discordgo.Message
	beforeID := ""
	for len(pool) < chanCfg.MaxContextMessages {
		batch, err := b.session.ChannelMessages(channelID, config.InlineHistoryBatchSize, beforeID, "", "")
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			break
		}
		stop := false
		for _, msg := range batch {
			if msg.Timestamp.Unix() <= checkpoint && checkpoint > 0 {
				stop = true
				break
			}
			msg.GuildID = guildID
			pool = append(pool, msg)
		}
		if stop {
			break
		}
		beforeID = batch[len(batch)-1].ID
	}

	// ChannelMessages returns newest first; ingest oldest first
	for i, j := 0, len(pool)-1; i < j; i, j = i+1, j-1 {
		pool[i], pool[j] = pool[j], pool[i]
	}
	added, batch, err := b.conversations.BulkAdd(guildID, channelID, pool)
	if err != nil {
		return 0, err
	}
	b.applyIndexBatch(guildID, batch)
	b.updateChannelIndex(guildID, channelID)
	if err := b.refreshPins(guildID, channelID); err != nil {
		logging.Warn("Pin refresh failed for %s/%s: %v", guildID, channelID, err)
	}
	return added, nil
}

// refreshPins rebuilds the channel's pin index wholesale.
func (b *Bot) refreshPins(guildID, channelID string) error {
	pinned, err := b.session.ChannelMessagesPinned(channelID)
	if err != nil {
		return err
	}
	var pins []messaging.PinnedMessage
	var authors []index.UserFacts
	for _, msg := range pinned {
		if msg == nil || msg.Author == nil {
			continue
		}
		msg.GuildID = guildID
		record := b.conversations.Convert(msg)
		if !conversation.IsValidContextMessage(record) {
			continue
		}
		pins = append(pins, messaging.PinnedMessage{
			UserID:            record.UserID,
			Username:          record.Username,
			Content:           record.Content,
			Timestamp:         record.Timestamp,
			MessageID:         record.MessageID,
			AttachmentURLs:    record.AttachmentURLs,
			MultimodalContent: record.MultimodalContent,
		})
		authors = append(authors, index.UserFacts{
			UserID:      msg.Author.ID,
			Username:    msg.Author.Username,
			DisplayName: msg.Author.GlobalName,
			AvatarURL:   msg.Author.AvatarURL(""),
			IsBot:       msg.Author.Bot,
		})
	}
	return b.index.IndexPinnedMessages(guildID, channelID, pins, authors)
}

func recoverWorker(name string) {
	if r := recover(); r != nil {
		logging.Error("Panic in %s: %v", name, r)
	}
}
