// Package conversation owns the per-channel message history: extraction of
// context-relevant content from raw Discord messages, the validity gate that
// decides what enters history, and the append/edit/delete/prune lifecycle of
// the history files.
package conversation

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/messaging"
)

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// imageExtensions are the URL path suffixes treated as image media.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// documentExtensions are the URL path suffixes treated as document media.
var documentExtensions = []string{".pdf", ".txt", ".log", ".ini", ".json", ".xml", ".csv", ".md"}

// Extraction is the context-relevant decomposition of a Discord message:
// cleaned text with media URLs stripped, media URLs by kind, and the non-media
// embed URLs kept for reference.
type Extraction struct {
	CleanedContent string
	ImageURLs      []string
	DocumentURLs   []string
	OtherEmbedURLs []string
}

// MediaURLs returns image then document URLs in order of appearance.
func (e *Extraction) MediaURLs() []string {
	urls := make([]string, 0, len(e.ImageURLs)+len(e.DocumentURLs))
	urls = append(urls, e.ImageURLs...)
	urls = append(urls, e.DocumentURLs...)
	return urls
}

// cleanTrailingPunctuation strips sentence punctuation that URL autodetection
// tends to swallow.
func cleanTrailingPunctuation(url string) string {
	return strings.TrimRight(url, ".,!?")
}

func hasAnySuffix(path string, suffixes []string) bool {
	lower := strings.ToLower(path)
	// Query strings do not change the media kind
	if idx := strings.IndexByte(lower, '?'); idx >= 0 {
		lower = lower[:idx]
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func isVideoAttachment(att *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(att.ContentType, "video/")
}

func isImageAttachment(att *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(att.ContentType, "image/") || hasAnySuffix(att.Filename, imageExtensions)
}

func isDocumentAttachment(att *discordgo.MessageAttachment) bool {
	return hasAnySuffix(att.Filename, documentExtensions)
}

// ExtractMessageContent decomposes a Discord message for context storage.
// Media URLs are removed from the text; video and gifv material is dropped
// entirely since it is useless to a text/vision model and pollutes context.
func ExtractMessageContent(m *discordgo.Message) Extraction {
	var result Extraction
	content := m.Content
	seen := make(map[string]bool)

	addImage := func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			result.ImageURLs = append(result.ImageURLs, url)
		}
	}
	addDocument := func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			result.DocumentURLs = append(result.DocumentURLs, url)
		}
	}
	strip := func(url string) {
		if url != "" {
			content = strings.ReplaceAll(content, url, " ")
		}
	}

	// Inline URLs: classify by path extension
	for _, raw := range urlPattern.FindAllString(m.Content, -1) {
		url := cleanTrailingPunctuation(raw)
		switch {
		case hasAnySuffix(url, imageExtensions):
			addImage(url)
			strip(raw)
			strip(url)
		case hasAnySuffix(url, documentExtensions):
			addDocument(url)
			strip(raw)
			strip(url)
		}
	}

	// Attachments: videos are dropped with their URL stripped
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		switch {
		case isVideoAttachment(att):
			strip(att.URL)
		case isImageAttachment(att):
			addImage(att.URL)
			strip(att.URL)
		case isDocumentAttachment(att):
			addDocument(att.URL)
			strip(att.URL)
		}
	}

	// Embeds: image embeds become media, video/gifv embeds are dropped,
	// everything else is recorded for potential future use
	for _, embed := range m.Embeds {
		if embed == nil {
			continue
		}
		switch embed.Type {
		case discordgo.EmbedTypeImage:
			url := embed.URL
			if url == "" && embed.Image != nil {
				url = embed.Image.URL
			}
			addImage(cleanTrailingPunctuation(url))
			strip(embed.URL)
		case discordgo.EmbedTypeVideo, discordgo.EmbedTypeGifv:
			strip(embed.URL)
		default:
			if embed.URL != "" {
				result.OtherEmbedURLs = append(result.OtherEmbedURLs, embed.URL)
			}
		}
	}

	result.CleanedContent = strings.TrimSpace(whitespacePattern.ReplaceAllString(content, " "))
	return result
}

// BuildMultimodalContent assembles the canonical ordered part list: the text
// part first when non-empty, then one image part per image URL.
func BuildMultimodalContent(text string, imageURLs []string) []messaging.ContentPart {
	var parts []messaging.ContentPart
	if text != "" {
		parts = append(parts, messaging.TextPart(text))
	}
	for _, url := range imageURLs {
		parts = append(parts, messaging.ImagePart(url))
	}
	return parts
}
