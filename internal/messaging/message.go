// Package messaging defines the value types exchanged between the conversation
// store, the indexes, and the context formatter. Components communicate through
// these records only; none of them holds a reference into another component's
// internal state.
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPart is one element of a message's multimodal content. It is a tagged
// variant: either a text part or an image URL part. The wire form
// {"type":"text","text":...} / {"type":"image_url","image_url":{"url":...}} is a
// serialisation concern handled by MarshalJSON/UnmarshalJSON.
type ContentPart struct {
	Text     string
	ImageURL string
}

// IsImage reports whether the part is an image part.
func (p ContentPart) IsImage() bool {
	return p.ImageURL != ""
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{ImageURL: url}
}

type imageURLWire struct {
	URL string `json:"url"`
}

type contentPartWire struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLWire `json:"image_url,omitempty"`
}

// MarshalJSON serialises the part into the OpenAI-style wire form.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.IsImage() {
		return json.Marshal(contentPartWire{
			Type:     "image_url",
			ImageURL: &imageURLWire{URL: p.ImageURL},
		})
	}
	return json.Marshal(contentPartWire{Type: "text", Text: p.Text})
}

// UnmarshalJSON parses the wire form back into the tagged variant.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var wire contentPartWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case "text":
		*p = ContentPart{Text: wire.Text}
	case "image_url":
		if wire.ImageURL == nil {
			return fmt.Errorf("image_url part without image_url object")
		}
		*p = ContentPart{ImageURL: wire.ImageURL.URL}
	default:
		return fmt.Errorf("unknown content part type %q", wire.Type)
	}
	return nil
}

// ConversationMessage is one append-only record in a per-channel history file.
type ConversationMessage struct {
	UserID              string        `json:"user_id"`
	Username            string        `json:"username"`
	Content             string        `json:"content"`
	Timestamp           int64         `json:"timestamp"`
	MessageID           string        `json:"message_id"`
	IsBotResponse       bool          `json:"is_bot_response"`
	IsSelfBotResponse   bool          `json:"is_self_bot_response"`
	ReferencedMessageID string        `json:"referenced_message_id,omitempty"`
	AttachmentURLs      []string      `json:"attachment_urls,omitempty"`
	EmbedURLs           []string      `json:"embed_urls,omitempty"`
	MultimodalContent   []ContentPart `json:"multimodal_content,omitempty"`
}

// TextContent concatenates the text parts of the multimodal content. For a
// well-formed message this equals Content after whitespace normalisation.
func (m *ConversationMessage) TextContent() string {
	var sb strings.Builder
	for _, part := range m.MultimodalContent {
		if !part.IsImage() {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// ImageURLs returns the URLs of all image parts, in order.
func (m *ConversationMessage) ImageURLs() []string {
	var urls []string
	for _, part := range m.MultimodalContent {
		if part.IsImage() {
			urls = append(urls, part.ImageURL)
		}
	}
	return urls
}

// HasImages reports whether any multimodal part is an image.
func (m *ConversationMessage) HasImages() bool {
	for _, part := range m.MultimodalContent {
		if part.IsImage() {
			return true
		}
	}
	return false
}

// PinnedMessage is the reduced record kept in the per-channel pin index. Pins
// are refreshed wholesale, so there is no reply field and no bot-echo
// distinction.
type PinnedMessage struct {
	UserID            string        `json:"user_id"`
	Username          string        `json:"username"`
	Content           string        `json:"content"`
	Timestamp         int64         `json:"timestamp"`
	MessageID         string        `json:"message_id"`
	AttachmentURLs    []string      `json:"attachment_urls,omitempty"`
	MultimodalContent []ContentPart `json:"multimodal_content,omitempty"`
}

// LLMMessage is one entry of the history list handed to the LLM client. Content
// is a plain string when the message carries only text, otherwise the ordered
// multimodal parts.
type LLMMessage struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// NewTextLLMMessage builds a text-only history entry.
func NewTextLLMMessage(role, content string) LLMMessage {
	return LLMMessage{Role: role, Content: content}
}

// NewMultimodalLLMMessage builds a history entry with ordered parts.
func NewMultimodalLLMMessage(role string, parts []ContentPart) LLMMessage {
	return LLMMessage{Role: role, Parts: parts}
}

// PlainText returns the textual payload of the entry regardless of shape.
func (m LLMMessage) PlainText() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, part := range m.Parts {
		if !part.IsImage() {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
