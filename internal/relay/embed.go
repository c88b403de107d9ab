package relay

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/config"
)

// StreamingIndicator is appended to the growing draft so readers can tell the
// response is still being generated.
const StreamingIndicator = " ⏳"

const thinkingPanelLimit = 1024

// FooterInfo carries the metrics shown under the final embed.
type FooterInfo struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TokenLimit       int
	ElapsedSeconds   float64
	TokensPerSecond  float64
}

func (f *FooterInfo) text() string {
	var parts []string
	if f.Model != "" {
		parts = append(parts, fmt.Sprintf("🤖 %s", f.Model))
	}
	if f.PromptTokens > 0 && f.TokenLimit > 0 {
		parts = append(parts, fmt.Sprintf("🧮 %d/%d tokens", f.PromptTokens, f.TokenLimit))
	}
	if f.CompletionTokens > 0 && f.ElapsedSeconds > 0 {
		parts = append(parts, fmt.Sprintf("⚡ %d tokens in %.1fs (%.1f tok/s)", f.CompletionTokens, f.ElapsedSeconds, f.TokensPerSecond))
	}
	return strings.Join(parts, " • ")
}

// buildEmbed renders one chunk of the response as an embed. The thinking
// panel and footer only appear on the message that carries them.
func buildEmbed(content string, isComplete bool, thinking string, footer *FooterInfo) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{}

	if strings.TrimSpace(content) != "" {
		embed.Description = content
	} else if !isComplete {
		embed.Description = "Generating response..." + StreamingIndicator
	} else {
		embed.Description = "Response completed."
	}

	if isComplete {
		embed.Color = config.EmbedColorComplete
	} else {
		embed.Color = config.EmbedColorIncomplete
	}

	if thinking != "" {
		panel := thinking
		if len(panel) > thinkingPanelLimit {
			panel = TruncateAtBoundary(panel, thinkingPanelLimit-3) + "..."
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Thinking",
			Value: panel,
		})
	}

	if footer != nil {
		if text := footer.text(); text != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: text}
		}
	}

	return embed
}

func thinkingStatusEmbed(summary string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: thinkingStatusText(summary),
		Color:       config.EmbedColorProcessing,
	}
}

func thinkingStatusText(summary string) string {
	if summary == "" {
		return "**Thinking...**"
	}
	return fmt.Sprintf("**Thinking...** (%s)", summary)
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "❌ Stream Error",
		Description: fmt.Sprintf("An error occurred while generating the response:\n\n```\n%v\n```", err),
		Color:       config.EmbedColorError,
	}
}
