// Package auth resolves who may trigger inline responses and who may run the
// administrative commands.
package auth

import (
	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/botconfig"
)

// AllowInline resolves the inline permission lists for one author. Blacklist
// beats whitelist; with no matching whitelist entry the default is deny. The
// everyone role id (equal to the guild id on Discord) counts as a role
// whitelist entry covering all members.
func AllowInline(cfg botconfig.EffectiveInlineConfig, authorID string, roleIDs []string, everyoneRoleID string) bool {
	if cfg.MemberBlacklist[authorID] {
		return false
	}
	for _, role := range roleIDs {
		if cfg.RoleBlacklist[role] {
			return false
		}
	}

	if cfg.RoleWhitelist[everyoneRoleID] {
		return true
	}
	if cfg.MemberWhitelist[authorID] {
		return true
	}
	for _, role := range roleIDs {
		if cfg.RoleWhitelist[role] {
			return true
		}
	}
	return false
}

// IsAdmin reports whether a member's resolved permission bits allow managing
// the bot's configuration.
func IsAdmin(permissions int64) bool {
	return permissions&discordgo.PermissionAdministrator != 0 ||
		permissions&discordgo.PermissionManageServer != 0
}

// MemberRoleIDs extracts the role ids of an interaction or message member.
func MemberRoleIDs(member *discordgo.Member) []string {
	if member == nil {
		return nil
	}
	return member.Roles
}
