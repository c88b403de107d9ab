package conversation

import (
	"reflect"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestExtractInlineImageURL(t *testing.T) {
	m := &discordgo.Message{Content: "look at this https://cdn.example.com/cat.png wow"}
	got := ExtractMessageContent(m)
	if !reflect.DeepEqual(got.ImageURLs, []string{"https://cdn.example.com/cat.png"}) {
		t.Errorf("ImageURLs = %v", got.ImageURLs)
	}
	if got.CleanedContent != "look at this wow" {
		t.Errorf("CleanedContent = %q", got.CleanedContent)
	}
}

func TestExtractTrailingPunctuation(t *testing.T) {
	m := &discordgo.Message{Content: "see https://cdn.example.com/doc.pdf."}
	got := ExtractMessageContent(m)
	if !reflect.DeepEqual(got.DocumentURLs, []string{"https://cdn.example.com/doc.pdf"}) {
		t.Errorf("DocumentURLs = %v", got.DocumentURLs)
	}
	if got.CleanedContent != "see" {
		t.Errorf("CleanedContent = %q", got.CleanedContent)
	}
}

func TestExtractQueryStringKeepsKind(t *testing.T) {
	m := &discordgo.Message{Content: "https://cdn.example.com/img.webp?ex=abc&is=def"}
	got := ExtractMessageContent(m)
	if len(got.ImageURLs) != 1 {
		t.Fatalf("ImageURLs = %v", got.ImageURLs)
	}
	if got.CleanedContent != "" {
		t.Errorf("CleanedContent = %q", got.CleanedContent)
	}
}

func TestExtractVideoAttachmentDropped(t *testing.T) {
	m := &discordgo.Message{
		Content: "watch https://cdn.example.com/clip.mp4",
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example.com/clip.mp4", ContentType: "video/mp4", Filename: "clip.mp4"},
		},
	}
	got := ExtractMessageContent(m)
	if len(got.ImageURLs) != 0 || len(got.DocumentURLs) != 0 {
		t.Errorf("video should produce no media URLs: %+v", got)
	}
	if got.CleanedContent != "watch" {
		t.Errorf("CleanedContent = %q", got.CleanedContent)
	}
}

func TestExtractAttachmentsByKind(t *testing.T) {
	m := &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example.com/a.jpg", ContentType: "image/jpeg", Filename: "a.jpg"},
			{URL: "https://cdn.example.com/notes.txt", ContentType: "text/plain", Filename: "notes.txt"},
		},
	}
	got := ExtractMessageContent(m)
	if !reflect.DeepEqual(got.ImageURLs, []string{"https://cdn.example.com/a.jpg"}) {
		t.Errorf("ImageURLs = %v", got.ImageURLs)
	}
	if !reflect.DeepEqual(got.DocumentURLs, []string{"https://cdn.example.com/notes.txt"}) {
		t.Errorf("DocumentURLs = %v", got.DocumentURLs)
	}
	if !reflect.DeepEqual(got.MediaURLs(), []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/notes.txt"}) {
		t.Errorf("MediaURLs = %v", got.MediaURLs())
	}
}

func TestExtractGifvEmbedDropped(t *testing.T) {
	m := &discordgo.Message{
		Content: "https://tenor.example.com/funny.gifv",
		Embeds: []*discordgo.MessageEmbed{
			{Type: discordgo.EmbedTypeGifv, URL: "https://tenor.example.com/funny.gifv"},
		},
	}
	got := ExtractMessageContent(m)
	if len(got.ImageURLs) != 0 || len(got.OtherEmbedURLs) != 0 {
		t.Errorf("gifv should be dropped entirely: %+v", got)
	}
	if got.CleanedContent != "" {
		t.Errorf("CleanedContent = %q", got.CleanedContent)
	}
}

func TestExtractOtherEmbedRecorded(t *testing.T) {
	m := &discordgo.Message{
		Content: "read this",
		Embeds: []*discordgo.MessageEmbed{
			{Type: discordgo.EmbedTypeArticle, URL: "https://news.example.com/story"},
		},
	}
	got := ExtractMessageContent(m)
	if !reflect.DeepEqual(got.OtherEmbedURLs, []string{"https://news.example.com/story"}) {
		t.Errorf("OtherEmbedURLs = %v", got.OtherEmbedURLs)
	}
}

func TestExtractDeduplicatesURLs(t *testing.T) {
	m := &discordgo.Message{
		Content: "https://cdn.example.com/a.png",
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example.com/a.png", ContentType: "image/png", Filename: "a.png"},
		},
	}
	got := ExtractMessageContent(m)
	if len(got.ImageURLs) != 1 {
		t.Errorf("ImageURLs = %v", got.ImageURLs)
	}
}

func TestBuildMultimodalContentOrder(t *testing.T) {
	parts := BuildMultimodalContent("hello", []string{"https://cdn.example.com/a.png"})
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	if parts[0].IsImage() || parts[0].Text != "hello" {
		t.Errorf("first part should be text: %+v", parts[0])
	}
	if !parts[1].IsImage() {
		t.Errorf("second part should be image: %+v", parts[1])
	}

	if parts := BuildMultimodalContent("", []string{"https://cdn.example.com/a.png"}); len(parts) != 1 || !parts[0].IsImage() {
		t.Errorf("empty text should yield image-only parts: %v", parts)
	}
}
