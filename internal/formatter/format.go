package formatter

import (
	"fmt"
	"sort"
	"strings"

	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/messaging"
)

// Identity is the bot's own identity as it should appear in formatted context.
type Identity struct {
	ID          string
	DisplayName string
}

// PrioritizeContext selects the context slice for one request. The requesting
// user's newest messages are guaranteed a slot up to maxUser; the remaining
// capacity is filled with the newest other messages. Output is chronological.
func PrioritizeContext(history []messaging.ConversationMessage, requestingUserID string, maxContext, maxUser int) []messaging.ConversationMessage {
	msgs := make([]messaging.ConversationMessage, len(history))
	copy(msgs, history)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if maxContext > 0 && len(msgs) > maxContext {
		msgs = msgs[len(msgs)-maxContext:]
	}
	if requestingUserID == "" || maxUser <= 0 {
		return msgs
	}

	var userIdx, otherIdx []int
	for i, msg := range msgs {
		if msg.UserID == requestingUserID {
			userIdx = append(userIdx, i)
		} else {
			otherIdx = append(otherIdx, i)
		}
	}

	// The requesting user holds exactly min(available, maxUser) slots; the
	// rest goes to the newest messages from everyone else
	guaranteed := userIdx
	if len(guaranteed) > maxUser {
		guaranteed = guaranteed[len(guaranteed)-maxUser:]
	}
	capacity := len(otherIdx)
	if maxContext > 0 {
		capacity = maxContext - len(guaranteed)
	}
	if capacity < 0 {
		capacity = 0
	}
	fill := otherIdx
	if len(fill) > capacity {
		fill = fill[len(fill)-capacity:]
	}

	selected := make(map[int]bool, len(guaranteed)+len(fill))
	for _, i := range guaranteed {
		selected[i] = true
	}
	for _, i := range fill {
		selected[i] = true
	}

	result := make([]messaging.ConversationMessage, 0, len(selected))
	for i, msg := range msgs {
		if selected[i] {
			result = append(result, msg)
		}
	}
	return result
}

// FormatContext renders the static context string and the structured history
// list for one LLM call. Local indices are 1-based and referenced by the reply
// annotations. fullHistory is the unprioritised window, used to quote reply
// targets that prioritisation dropped.
func FormatContext(messages, fullHistory []messaging.ConversationMessage, channel *index.ChannelEntry, users map[string]*index.UserEntry, pins []messaging.PinnedMessage, self Identity) (string, []messaging.LLMMessage) {
	var static strings.Builder

	writeChannelBlock(&static, channel)
	writeUsersBlock(&static, messages, users, self)
	writePinsBlock(&static, pins, users)

	indexByID := make(map[string]int, len(messages))
	for i, msg := range messages {
		indexByID[msg.MessageID] = i + 1
	}

	history := make([]messaging.LLMMessage, 0, len(messages))
	for i, msg := range messages {
		label := labelFor(&msg, users, self)
		prefix := fmt.Sprintf("[%d] [id:%s] %s: ", i+1, msg.UserID, label)
		annotation := replyAnnotation(&msg, fullHistory, indexByID)

		role := "user"
		if msg.IsSelfBotResponse {
			role = "assistant"
		}

		text := DiscordToLLMReadable(msg.Content, users)
		full := prefix + annotation + text

		if msg.HasImages() {
			parts := []messaging.ContentPart{messaging.TextPart(full)}
			for _, url := range msg.ImageURLs() {
				parts = append(parts, messaging.ImagePart(url))
			}
			history = append(history, messaging.NewMultimodalLLMMessage(role, parts))
		} else {
			history = append(history, messaging.NewTextLLMMessage(role, full))
		}
	}
	return static.String(), history
}

func labelFor(msg *messaging.ConversationMessage, users map[string]*index.UserEntry, self Identity) string {
	if msg.IsSelfBotResponse && self.DisplayName != "" {
		return self.DisplayName
	}
	if user, ok := users[msg.UserID]; ok && user.Username != "" {
		return user.Username
	}
	return msg.Username
}

// replyAnnotation renders the reply marker: a local index when the target is
// inside the prioritised list, a quoted snippet when it only survives in the
// wider window, and a generic note when it is gone entirely.
func replyAnnotation(msg *messaging.ConversationMessage, fullHistory []messaging.ConversationMessage, indexByID map[string]int) string {
	if msg.ReferencedMessageID == "" {
		return ""
	}
	if local, ok := indexByID[msg.ReferencedMessageID]; ok {
		return fmt.Sprintf("[Replying to #%d] ", local)
	}
	for _, other := range fullHistory {
		if other.MessageID == msg.ReferencedMessageID {
			return fmt.Sprintf("[Replying to @%s: %q] ", other.Username, SmartSnippet(other.Content))
		}
	}
	return "[Replying to an earlier message] "
}

func writeChannelBlock(sb *strings.Builder, channel *index.ChannelEntry) {
	sb.WriteString("=== Channel Info ===\n")
	if channel == nil {
		sb.WriteString("No channel information indexed.\n\n")
		return
	}
	if channel.GuildName != "" {
		sb.WriteString("Server: " + channel.GuildName + "\n")
	}
	if channel.GuildDescription != "" {
		sb.WriteString("Server description: " + channel.GuildDescription + "\n")
	}
	fmt.Fprintf(sb, "Channel: #%s (%s)\n", channel.ChannelName, channel.ChannelType)
	if channel.Topic != "" {
		sb.WriteString("Topic: " + channel.Topic + "\n")
	}
	if channel.CategoryName != "" {
		sb.WriteString("Category: " + channel.CategoryName + "\n")
	}
	if channel.IsNSFW {
		sb.WriteString("NSFW: yes\n")
	}
	sb.WriteString("\n")
}

// writeUsersBlock lists one line per unique author in the window, plus the
// bot itself.
func writeUsersBlock(sb *strings.Builder, messages []messaging.ConversationMessage, users map[string]*index.UserEntry, self Identity) {
	sb.WriteString("=== Known Users ===\n")
	seen := make(map[string]bool)
	for _, msg := range messages {
		if seen[msg.UserID] {
			continue
		}
		seen[msg.UserID] = true
		if user, ok := users[msg.UserID]; ok {
			line := fmt.Sprintf("- [id:%s] %s", user.UserID, user.Username)
			if user.DisplayName != "" && user.DisplayName != user.Username {
				line += fmt.Sprintf(" (display name: %s)", user.DisplayName)
			}
			if user.IsBot {
				line += " [BOT]"
			}
			sb.WriteString(line + "\n")
		} else {
			fmt.Fprintf(sb, "- [id:%s] %s\n", msg.UserID, msg.Username)
		}
	}
	if self.ID != "" && !seen[self.ID] {
		fmt.Fprintf(sb, "- [id:%s] %s [BOT] (this is you)\n", self.ID, self.DisplayName)
	}
	sb.WriteString("\n")
}

func writePinsBlock(sb *strings.Builder, pins []messaging.PinnedMessage, users map[string]*index.UserEntry) {
	if len(pins) == 0 {
		return
	}
	sb.WriteString("=== Pinned Messages ===\n")
	for _, pin := range pins {
		name := pin.Username
		if user, ok := users[pin.UserID]; ok && user.Username != "" {
			name = user.Username
		}
		fmt.Fprintf(sb, "- [id:%s] %s: %s\n", pin.UserID, name, SmartSnippet(pin.Content))
	}
	sb.WriteString("\n")
}
