package conversation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"DiscordContextBot/internal/messaging"
)

var (
	mentionPattern    = regexp.MustCompile(`<@!?&?\d+>|<#\d+>`)
	emotePattern      = regexp.MustCompile(`<a?:\w+:\d+>`)
	toolPrefixPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,5}!`)
)

// commandPrefixes are the leading characters that mark a message as a command
// for some other bot rather than conversation.
const commandPrefixes = "!/$?.-+><=~`"

// IsValidContextMessage decides whether a message belongs in conversation
// history. The gate is pure: the same record always yields the same verdict.
func IsValidContextMessage(msg *messaging.ConversationMessage) bool {
	ok, _ := CheckContextMessage(msg)
	return ok
}

// CheckContextMessage applies the validity gate and returns the verdict
// together with a human-readable trace of each rule, for the debug command.
func CheckContextMessage(msg *messaging.ConversationMessage) (bool, []string) {
	var trace []string
	text := msg.Content
	if text == "" {
		text = msg.TextContent()
	}
	hasAttachments := len(msg.AttachmentURLs) > 0 || len(msg.EmbedURLs) > 0 || msg.HasImages()

	// Rule 1: empty messages carry nothing
	if strings.TrimSpace(text) == "" && !hasAttachments {
		trace = append(trace, "rejected: empty content and no attachments")
		return false, trace
	}
	trace = append(trace, "passed: has content or attachments")

	// Rule 2: mention-only and emote-only messages are noise unless they
	// carry attachments
	hadMentions := mentionPattern.MatchString(text) || emotePattern.MatchString(text)
	residue := mentionPattern.ReplaceAllString(text, "")
	residue = emotePattern.ReplaceAllString(residue, "")
	residue = strings.TrimSpace(residue)
	if !containsAlphanumeric(residue) {
		if hadMentions || hasAttachments {
			trace = append(trace, "passed: no residual text but carries mentions, emotes or attachments")
		} else {
			trace = append(trace, "rejected: no alphanumeric content")
			return false, trace
		}
	} else {
		trace = append(trace, "passed: residual text contains alphanumeric content")
	}

	// Rule 3: command prefix for some other bot
	if residue != "" && strings.ContainsRune(commandPrefixes, rune(residue[0])) {
		trace = append(trace, fmt.Sprintf("rejected: command prefix %q", residue[0]))
		return false, trace
	}
	trace = append(trace, "passed: no command prefix")

	// Rule 4: short alphanumeric tool prefixes like "m!" or "owo!"
	if toolPrefixPattern.MatchString(residue) {
		trace = append(trace, "rejected: tool command prefix")
		return false, trace
	}
	trace = append(trace, "passed: no tool command prefix")

	return true, trace
}

func containsAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
