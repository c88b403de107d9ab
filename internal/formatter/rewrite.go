package formatter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"DiscordContextBot/internal/index"
)

var (
	emotePattern       = regexp.MustCompile(`<a?:\w+:\d+>`)
	userMentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionPattern = regexp.MustCompile(`<@&(\d+)>`)
	idMarkerPattern    = regexp.MustCompile(`\[id:\d+\]`)
	replyMarkerPattern = regexp.MustCompile(`\[Replying to #\d+\]`)
	looseIndexPattern  = regexp.MustCompile(`\[\d+\]`)
	parrotPrefix       = regexp.MustCompile(`^\s*\[\d+\]\s*\[id:\d+\]\s*[^:\n]{0,60}:\s*`)
	multiSpacePattern  = regexp.MustCompile(`[ \t]{2,}`)
	prePunctPattern    = regexp.MustCompile(`\s+([.,!?;:])`)
)

// protectEmotes swaps custom emotes for opaque placeholders so the rewriting
// passes cannot mangle them.
func protectEmotes(text string) (string, []string) {
	var emotes []string
	replaced := emotePattern.ReplaceAllStringFunc(text, func(match string) string {
		emotes = append(emotes, match)
		return fmt.Sprintf("\x01E%d\x01", len(emotes)-1)
	})
	return replaced, emotes
}

func restoreEmotes(text string, emotes []string) string {
	for i, emote := range emotes {
		text = strings.Replace(text, fmt.Sprintf("\x01E%d\x01", i), emote, 1)
	}
	return text
}

// nameEntry is one replaceable name with its rewrite target.
type nameEntry struct {
	name    string
	pattern *regexp.Regexp
	target  string
}

// buildNameEntries compiles longest-first replacement rules for every known
// username and display name of length >= 3. Names may be wrapped in the
// markdown runes *_~ or a decorating star; the guards keep replacements on
// word boundaries and skip names already prefixed with @.
func buildNameEntries(users map[string]*index.UserEntry, target func(*index.UserEntry) string) []nameEntry {
	var entries []nameEntry
	seen := make(map[string]bool)
	for _, user := range users {
		for _, name := range []string{user.Username, user.DisplayName} {
			if len([]rune(name)) < 3 {
				continue
			}
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			pattern, err := regexp.Compile(
				`(?i)(^|[^0-9A-Za-z_@])([*_~⭐]*)` + regexp.QuoteMeta(name) + `([*_~⭐]*)($|[^0-9A-Za-z_])`)
			if err != nil {
				continue
			}
			entries = append(entries, nameEntry{name: name, pattern: pattern, target: target(user)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].name) > len(entries[j].name)
	})
	return entries
}

func applyNameEntries(text string, entries []nameEntry) string {
	for _, entry := range entries {
		text = entry.pattern.ReplaceAllString(text, "${1}"+entry.target+"${4}")
	}
	return text
}

// DiscordToLLMReadable rewrites raw Discord message content into the form the
// LLM sees: mentions become @username references and custom emotes survive
// untouched.
func DiscordToLLMReadable(content string, users map[string]*index.UserEntry) string {
	text, emotes := protectEmotes(content)

	text = userMentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := userMentionPattern.FindStringSubmatch(match)[1]
		if user, ok := users[id]; ok && user.Username != "" {
			return "@" + user.Username
		}
		return "@Unknown User"
	})

	entries := buildNameEntries(users, func(u *index.UserEntry) string {
		return "@" + u.Username
	})
	text = applyNameEntries(text, entries)

	text = restoreEmotes(text, emotes)
	text = idMarkerPattern.ReplaceAllString(text, "")
	text = multiSpacePattern.ReplaceAllString(text, " ")
	text = prePunctPattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// LLMToDiscord is the defensive pass applied to every LLM output before it is
// posted: ping-capable tokens are neutralised, context-format echoes are
// stripped, and user references are rendered as display names. The creator
// user receives the configured decorated rendering instead.
func LLMToDiscord(text string, users map[string]*index.UserEntry, roles map[string]string, creatorID, creatorRendering string) string {
	text, emotes := protectEmotes(text)

	text = strings.ReplaceAll(text, "@everyone", "everyone")
	text = strings.ReplaceAll(text, "@here", "here")

	// Anti-parrot: the model sometimes echoes the context framing back
	text = parrotPrefix.ReplaceAllString(text, "")
	text = idMarkerPattern.ReplaceAllString(text, "")
	text = replyMarkerPattern.ReplaceAllString(text, "")
	text = looseIndexPattern.ReplaceAllString(text, "")
	text = stripNamePrefix(text, users)

	// Replacement targets go in as opaque placeholders so one rewrite can
	// never match inside another's output (the creator rendering contains
	// the creator's name)
	var protected []string
	protect := func(s string) string {
		protected = append(protected, s)
		return fmt.Sprintf("\x01P%d\x01", len(protected)-1)
	}

	render := func(user *index.UserEntry) string {
		if creatorID != "" && user.UserID == creatorID && creatorRendering != "" {
			return creatorRendering
		}
		if user.DisplayName != "" {
			return user.DisplayName
		}
		return user.Username
	}

	text = userMentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := userMentionPattern.FindStringSubmatch(match)[1]
		if user, ok := users[id]; ok {
			return protect(render(user))
		}
		return match
	})

	text = roleMentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := roleMentionPattern.FindStringSubmatch(match)[1]
		if name, ok := roles[id]; ok {
			return protect("`@" + name + "`")
		}
		return match
	})

	entries := buildNameEntries(users, render)
	// Plain "@username" references lose their @ along with the name rewrite
	for _, entry := range entries {
		pattern, err := regexp.Compile(`(?i)(^|[^0-9A-Za-z_])@?([*_~⭐]*)` + regexp.QuoteMeta(entry.name) + `([*_~⭐]*)($|[^0-9A-Za-z_])`)
		if err != nil {
			continue
		}
		text = pattern.ReplaceAllString(text, "${1}"+protect(entry.target)+"${4}")
	}

	text = restoreEmotes(text, emotes)

	// Anything still ping-shaped is code-wrapped to make it inert
	text = userMentionPattern.ReplaceAllString(text, "`$0`")
	text = roleMentionPattern.ReplaceAllString(text, "`$0`")

	for i, replacement := range protected {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x01P%d\x01", i), replacement)
	}

	text = multiSpacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// stripNamePrefix removes a leading "Name:" echo when the name matches a known
// user, which models produce when imitating the context format.
func stripNamePrefix(text string, users map[string]*index.UserEntry) string {
	trimmed := strings.TrimLeft(text, " \t")
	idx := strings.Index(trimmed, ":")
	if idx <= 0 || idx > 60 {
		return text
	}
	prefix := trimmed[:idx]
	if strings.ContainsAny(prefix, ".!?\n") {
		return text
	}
	candidate := strings.ToLower(strings.TrimSpace(strings.Trim(prefix, "*_~ ")))
	for _, user := range users {
		if candidate == strings.ToLower(user.Username) || candidate == strings.ToLower(user.DisplayName) {
			return strings.TrimLeft(trimmed[idx+1:], " ")
		}
	}
	return text
}
