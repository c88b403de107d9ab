package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/auth"
	"DiscordContextBot/internal/botconfig"
	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/conversation"
	"DiscordContextBot/internal/logging"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "chatbot",
			Description: "Manage chatbot mode for this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "enable", Description: "Enable chatbot mode in this channel"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "disable", Description: "Disable chatbot mode in this channel"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show the channel's chatbot settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "clear", Description: "Clear the tracked history and set the reindex checkpoint"},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set", Description: "Change chatbot settings for this channel",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "max_context_messages", Description: "History size (10-1000)"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "max_user_context_messages", Description: "Guaranteed per-user slots (5-500)"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "context_window_hours", Description: "History age window (1-168)"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "response_delay_seconds", Description: "Delay before responding (0-10)"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "max_response_length", Description: "Response length budget (100-4000)"},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "respond_to_mentions", Description: "Respond when mentioned"},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "respond_to_replies", Description: "Respond when replied to"},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "auto_prune", Description: "Prune old history on a timer"},
					},
				},
			},
		},
		{
			Name:        "inline",
			Description: "Manage inline mention responses",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "enable", Description: "Enable inline responses",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "server_wide", Description: "Apply to the whole server instead of this channel"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "disable", Description: "Disable inline responses",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "server_wide", Description: "Apply to the whole server instead of this channel"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show the effective inline settings here"},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set", Description: "Change inline settings for this channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type: discordgo.ApplicationCommandOptionString, Name: "model_type", Description: "Model used for responses",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "ask", Value: "ask"},
								{Name: "think", Value: "think"},
								{Name: "chat", Value: "chat"},
							},
						},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "streaming", Description: "Stream responses with live edits"},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "start_only", Description: "Trigger only when the mention starts the message"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "context_messages", Description: "General context size"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "user_context_messages", Description: "Guaranteed author slots"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "allow", Description: "Whitelist a role or member (server-wide)",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to whitelist"},
						{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Member to whitelist"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "deny", Description: "Blacklist a role or member (server-wide)",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to blacklist"},
						{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Member to blacklist"},
					},
				},
			},
		},
		{
			Name:        "patterns",
			Description: "Manage the OCR pattern rulebook",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add-response", Description: "Add a canned response",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Response text", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Short label"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove-response", Description: "Remove a response and its patterns",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "response_id", Description: "Response id", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add-pattern", Description: "Attach a regex pattern to a response",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "response_id", Description: "Response id", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "pattern", Description: "Regular expression", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "flags", Description: "Pipe-joined flags, e.g. IGNORECASE|DOTALL"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Short label"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove-pattern", Description: "Remove one pattern",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "response_id", Description: "Response id", Required: true},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "pattern_id", Description: "Pattern id", Required: true},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "List this server's responses"},
			},
		},
		{
			Name:        "ocrstats",
			Description: "Show OCR pipeline statistics",
		},
		{
			Name:        "contextcheck",
			Description: "Explain whether a message passes the context validity gate",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "message_id", Description: "Message id in this channel", Required: true},
			},
		},
	}
}

func (b *Bot) registerCommands(s *discordgo.Session) {
	appID := s.State.User.ID
	for _, cmd := range commandDefinitions() {
		if _, err := s.ApplicationCommandCreate(appID, "", cmd); err != nil {
			logging.Error("Failed to register command %s: %v", cmd.Name, err)
		}
	}
	logging.Info("Slash commands registered")
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	defer recoverWorker("interaction handler")

	data := i.ApplicationCommandData()
	switch data.Name {
	case "chatbot":
		b.handleChatbotCommand(i, data)
	case "inline":
		b.handleInlineCommand(i, data)
	case "patterns":
		b.handlePatternsCommand(i, data)
	case "ocrstats":
		b.handleOCRStats(i)
	case "contextcheck":
		b.handleContextCheck(i, data)
	}
}

func (b *Bot) requireAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil || !auth.IsAdmin(i.Member.Permissions) {
		b.respondError(i, "You need the Administrator or Manage Server permission for this.")
		return false
	}
	return true
}

func (b *Bot) handleChatbotCommand(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	sub := data.Options[0]
	guildID, channelID := i.GuildID, i.ChannelID

	if sub.Name != "status" && !b.requireAdmin(i) {
		return
	}

	switch sub.Name {
	case "enable":
		if err := b.chatbotCfg.Enable(guildID, channelID); err != nil {
			b.respondError(i, fmt.Sprintf("Could not enable chatbot mode: %v", err))
			return
		}
		b.respondOK(i, "Chatbot mode enabled", "Backfilling recent history...")
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer recoverWorker("chatbot bootstrap")
			added, err := b.bootstrapChatbotChannel(guildID, channelID)
			if err != nil {
				logging.Error("Bootstrap failed for %s/%s: %v", guildID, channelID, err)
				return
			}
			logging.Info("Bootstrapped %d messages for %s/%s", added, guildID, channelID)
		}()
	case "disable":
		if err := b.chatbotCfg.Disable(guildID, channelID); err != nil {
			b.respondError(i, fmt.Sprintf("Could not disable chatbot mode: %v", err))
			return
		}
		b.respondOK(i, "Chatbot mode disabled", "History stays on disk until pruned.")
	case "clear":
		if err := b.conversations.Clear(guildID, channelID); err != nil {
			b.respondError(i, fmt.Sprintf("Could not clear history: %v", err))
			return
		}
		if err := b.chatbotCfg.MarkCleared(guildID, channelID, nowUnix()); err != nil {
			b.respondError(i, fmt.Sprintf("History cleared but the checkpoint write failed: %v", err))
			return
		}
		b.respondOK(i, "History cleared", "Messages sent before now will not be re-ingested.")
	case "status":
		cfg := b.chatbotCfg.ChannelConfig(guildID, channelID)
		b.respondOK(i, "Chatbot settings", fmt.Sprintf(
			"Enabled: %t\nContext: %d messages / %d per user / %dh window\nDelay: %ds, response budget %d chars\nAuto-prune: %t every %dh\nRespond to mentions: %t, replies: %t",
			cfg.Enabled, cfg.MaxContextMessages, cfg.MaxUserContextMessages, cfg.ContextWindowHours,
			cfg.ResponseDelaySeconds, cfg.MaxResponseLength,
			cfg.AutoPruneEnabled, cfg.PruneIntervalHours,
			cfg.AutoRespondToMentions, cfg.AutoRespondToReplies,
		))
	case "set":
		opts := optionMap(sub.Options)
		err := b.chatbotCfg.Update(guildID, channelID, func(cfg *botconfig.ChannelChatbotConfig) {
			if v, ok := opts["max_context_messages"]; ok {
				cfg.MaxContextMessages = int(v.IntValue())
			}
			if v, ok := opts["max_user_context_messages"]; ok {
				cfg.MaxUserContextMessages = int(v.IntValue())
			}
			if v, ok := opts["context_window_hours"]; ok {
				cfg.ContextWindowHours = int(v.IntValue())
			}
			if v, ok := opts["response_delay_seconds"]; ok {
				cfg.ResponseDelaySeconds = int(v.IntValue())
			}
			if v, ok := opts["max_response_length"]; ok {
				cfg.MaxResponseLength = int(v.IntValue())
			}
			if v, ok := opts["respond_to_mentions"]; ok {
				cfg.AutoRespondToMentions = v.BoolValue()
			}
			if v, ok := opts["respond_to_replies"]; ok {
				cfg.AutoRespondToReplies = v.BoolValue()
			}
			if v, ok := opts["auto_prune"]; ok {
				cfg.AutoPruneEnabled = v.BoolValue()
			}
		})
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not update settings: %v", err))
			return
		}
		b.respondOK(i, "Settings updated", "Out-of-range values are clamped to their documented bounds.")
	}
}

func (b *Bot) handleInlineCommand(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	sub := data.Options[0]
	guildID, channelID := i.GuildID, i.ChannelID
	opts := optionMap(sub.Options)

	if sub.Name != "status" && !b.requireAdmin(i) {
		return
	}

	setEnabled := func(enabled bool) error {
		serverWide := false
		if v, ok := opts["server_wide"]; ok {
			serverWide = v.BoolValue()
		}
		mutate := func(cfg *botconfig.InlineResponseConfig) { cfg.Enabled = botconfig.Ptr(enabled) }
		if serverWide {
			return b.inlineCfg.UpdateServer(guildID, mutate)
		}
		return b.inlineCfg.UpdateChannel(guildID, channelID, mutate)
	}

	switch sub.Name {
	case "enable":
		if err := setEnabled(true); err != nil {
			b.respondError(i, fmt.Sprintf("Could not enable inline responses: %v", err))
			return
		}
		b.respondOK(i, "Inline responses enabled", "Remember to whitelist roles or members; the default is deny.")
	case "disable":
		if err := setEnabled(false); err != nil {
			b.respondError(i, fmt.Sprintf("Could not disable inline responses: %v", err))
			return
		}
		b.respondOK(i, "Inline responses disabled", "")
	case "status":
		eff := b.inlineCfg.EffectiveConfig(guildID, channelID)
		b.respondOK(i, "Effective inline settings", fmt.Sprintf(
			"Enabled: %t\nModel type: %s, streaming: %t, start-only: %t\nContext: %d messages / %d from the author\nWhitelist: %d roles, %d members; blacklist: %d roles, %d members",
			eff.Enabled, eff.ModelType, eff.UseStreaming, eff.TriggerOnStartOnly,
			eff.ContextMessages, eff.UserContextMessages,
			len(eff.RoleWhitelist), len(eff.MemberWhitelist), len(eff.RoleBlacklist), len(eff.MemberBlacklist),
		))
	case "set":
		err := b.inlineCfg.UpdateChannel(guildID, channelID, func(cfg *botconfig.InlineResponseConfig) {
			if v, ok := opts["model_type"]; ok {
				cfg.ModelType = v.StringValue()
			}
			if v, ok := opts["streaming"]; ok {
				cfg.UseStreaming = botconfig.Ptr(v.BoolValue())
			}
			if v, ok := opts["start_only"]; ok {
				cfg.TriggerOnStartOnly = botconfig.Ptr(v.BoolValue())
			}
			if v, ok := opts["context_messages"]; ok {
				cfg.ContextMessages = botconfig.Ptr(int(v.IntValue()))
			}
			if v, ok := opts["user_context_messages"]; ok {
				cfg.UserContextMessages = botconfig.Ptr(int(v.IntValue()))
			}
		})
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not update settings: %v", err))
			return
		}
		b.respondOK(i, "Inline settings updated", "")
	case "allow", "deny":
		roleID, memberID := "", ""
		if v, ok := opts["role"]; ok {
			roleID = v.RoleValue(b.session, guildID).ID
		}
		if v, ok := opts["member"]; ok {
			memberID = v.UserValue(b.session).ID
		}
		if roleID == "" && memberID == "" {
			b.respondError(i, "Pick a role or a member.")
			return
		}
		err := b.inlineCfg.UpdateServer(guildID, func(cfg *botconfig.InlineResponseConfig) {
			if sub.Name == "allow" {
				if roleID != "" {
					cfg.RoleWhitelist = appendUnique(cfg.RoleWhitelist, roleID)
				}
				if memberID != "" {
					cfg.MemberWhitelist = appendUnique(cfg.MemberWhitelist, memberID)
				}
			} else {
				if roleID != "" {
					cfg.RoleBlacklist = appendUnique(cfg.RoleBlacklist, roleID)
				}
				if memberID != "" {
					cfg.MemberBlacklist = appendUnique(cfg.MemberBlacklist, memberID)
				}
			}
		})
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not update permissions: %v", err))
			return
		}
		b.respondOK(i, "Permissions updated", "Blacklist entries always beat whitelist entries.")
	}
}

func (b *Bot) handlePatternsCommand(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	sub := data.Options[0]
	opts := optionMap(sub.Options)
	serverID := i.GuildID

	if sub.Name != "list" && !b.requireAdmin(i) {
		return
	}

	switch sub.Name {
	case "add-response":
		name := ""
		if v, ok := opts["name"]; ok {
			name = v.StringValue()
		}
		id, err := b.matcher.AddResponse(serverID, name, opts["text"].StringValue())
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not add response: %v", err))
			return
		}
		b.respondOK(i, "Response added", fmt.Sprintf("Response id %d. Attach patterns with /patterns add-pattern.", id))
	case "remove-response":
		if err := b.matcher.RemoveResponse(serverID, int(opts["response_id"].IntValue())); err != nil {
			b.respondError(i, fmt.Sprintf("Could not remove response: %v", err))
			return
		}
		b.respondOK(i, "Response removed", "")
	case "add-pattern":
		name, flags := "", ""
		if v, ok := opts["name"]; ok {
			name = v.StringValue()
		}
		if v, ok := opts["flags"]; ok {
			flags = v.StringValue()
		}
		id, err := b.matcher.AddPattern(serverID, int(opts["response_id"].IntValue()), name, opts["pattern"].StringValue(), flags)
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not add pattern: %v", err))
			return
		}
		b.respondOK(i, "Pattern added", fmt.Sprintf("Pattern id %d.", id))
	case "remove-pattern":
		err := b.matcher.RemovePattern(serverID, int(opts["response_id"].IntValue()), int(opts["pattern_id"].IntValue()))
		if err != nil {
			b.respondError(i, fmt.Sprintf("Could not remove pattern: %v", err))
			return
		}
		b.respondOK(i, "Pattern removed", "")
	case "list":
		responses := b.matcher.Responses(serverID)
		if len(responses) == 0 {
			b.respondOK(i, "Pattern rulebook", "No responses configured for this server.")
			return
		}
		var sb strings.Builder
		for _, resp := range responses {
			fmt.Fprintf(&sb, "**[%d] %s** (%d patterns)\n", resp.ID, responseLabel(resp.Name), len(resp.Patterns))
			for _, p := range resp.Patterns {
				fmt.Fprintf(&sb, "  %d: `%s`", p.ID, p.Expr)
				if p.Flags != "" {
					fmt.Fprintf(&sb, " [%s]", p.Flags)
				}
				sb.WriteString("\n")
			}
		}
		b.respondOK(i, "Pattern rulebook", sb.String())
	}
}

func responseLabel(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}

func (b *Bot) handleOCRStats(i *discordgo.InteractionCreate) {
	if b.ocrPipeline == nil {
		b.respondError(i, "OCR is not configured.")
		return
	}
	stats := b.ocrPipeline.Stats()
	b.respondOK(i, "OCR pipeline", fmt.Sprintf(
		"Enqueued: %d\nProcessed: %d\nRejected: %d\nQueue: %d/%d (high watermark %d)",
		stats.TotalEnqueued, stats.TotalProcessed, stats.TotalRejected,
		stats.QueueLength, stats.QueueCapacity, stats.HighWatermark,
	))
}

func (b *Bot) handleContextCheck(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	opts := optionMap(data.Options)
	messageID := opts["message_id"].StringValue()

	msg, err := b.session.ChannelMessage(i.ChannelID, messageID)
	if err != nil {
		b.respondError(i, fmt.Sprintf("Could not fetch message %s: %v", messageID, err))
		return
	}
	msg.GuildID = i.GuildID
	record := b.conversations.Convert(msg)
	ok, trace := conversation.CheckContextMessage(record)

	verdict := "rejected"
	if ok {
		verdict = "accepted"
	}
	b.respondOK(i, fmt.Sprintf("Validity gate: %s", verdict), strings.Join(trace, "\n"))
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func (b *Bot) respondOK(i *discordgo.InteractionCreate, title, description string) {
	b.respondEmbed(i, &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       config.EmbedColorComplete,
	})
}

func (b *Bot) respondError(i *discordgo.InteractionCreate, message string) {
	b.respondEmbed(i, &discordgo.MessageEmbed{
		Title:       "❌ Error",
		Description: message,
		Color:       config.EmbedColorError,
	})
}

func (b *Bot) respondEmbed(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
	if err != nil {
		logging.Error("Interaction response failed: %v", err)
	}
}
