package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/ocr"
)

// ocrResponder routes recognised image text through the pattern rulebook and
// posts the matched canned response where the channel wiring says it goes.
type ocrResponder struct {
	bot *Bot
}

func (r *ocrResponder) HandleOCRText(ctx context.Context, job ocr.Job, text string) {
	response := r.bot.matcher.Match(job.GuildID, text)
	if response == nil {
		return
	}
	logging.Info("OCR hit %q on message %s in %s", response.Name, job.MessageID, job.ChannelID)

	cfg := r.bot.config.Load()
	route := ocr.ResolveRoute(&cfg.OCR, job.ChannelID, job.Language)
	switch route.Kind {
	case ocr.RouteInPlace:
		r.replyInPlace(job, response.Text)
	case ocr.RouteToChannel:
		r.replyWithLink(job, route.ChannelID, response.Text)
	case ocr.RouteDrop:
		logging.Info("No response channel for OCR hit on %s, dropping", job.MessageID)
	}
}

func (r *ocrResponder) replyInPlace(job ocr.Job, text string) {
	_, err := r.bot.session.ChannelMessageSendComplex(job.ChannelID, &discordgo.MessageSend{
		Content: text,
		Reference: &discordgo.MessageReference{
			MessageID: job.MessageID,
			ChannelID: job.ChannelID,
			GuildID:   job.GuildID,
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		logging.Error("Could not post OCR response in %s: %v", job.ChannelID, err)
	}
}

func (r *ocrResponder) replyWithLink(job ocr.Job, channelID, text string) {
	link := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", job.GuildID, job.ChannelID, job.MessageID)
	content := link + "\n" + text
	_, err := r.bot.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		logging.Error("Could not post OCR response in %s: %v", channelID, err)
	}
}
