package domain

import (
	"fmt"
	"slices"
	"strings"
)

const PolicyWildcard = "*"

type PolicyMode string

const (
	PolicyOpen      PolicyMode = "open"
	PolicyAllowlist PolicyMode = "allowlist"
	PolicyDisabled  PolicyMode = "disabled"
)

type DirectPolicy struct {
	Enabled   bool
	Mode      PolicyMode
	AllowFrom []string
}

type ChannelPolicy struct {
	Allow bool
	// RequireMention overrides the guild setting when set.
	RequireMention *bool
	Users          []string
}

type GuildPolicy struct {
	RequireMention bool
	Users          []string
	Channels       map[string]ChannelPolicy
}

// AccessPolicy decides which Discord users may talk to the agent, in direct
// messages and in guild channels. Guild and channel maps accept "*" as a
// fallback entry.
type AccessPolicy struct {
	Direct    DirectPolicy
	GroupMode PolicyMode
	Guilds    map[string]GuildPolicy
	AllowBots bool
}

// AccessDecision carries the verdict with a human readable reason.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) AccessDecision {
	return AccessDecision{Allowed: true, Reason: reason}
}

func deny(format string, args ...any) AccessDecision {
	return AccessDecision{Reason: fmt.Sprintf(format, args...)}
}

// DefaultAccessPolicy keeps direct messages closed and lets any guild use
// the bot when it is mentioned.
func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{
		Direct:    DirectPolicy{Enabled: false, Mode: PolicyAllowlist},
		GroupMode: PolicyOpen,
		Guilds: map[string]GuildPolicy{
			PolicyWildcard: {RequireMention: true},
		},
	}
}

// AdminAccessPolicy restricts both direct messages and guild use to the
// given admins. Without guild ids the admins may use any guild.
func AdminAccessPolicy(adminIDs, guildIDs []string, requireMention bool) AccessPolicy {
	guilds := make(map[string]GuildPolicy)
	if len(guildIDs) == 0 {
		guilds[PolicyWildcard] = GuildPolicy{
			RequireMention: requireMention,
			Users:          slices.Clone(adminIDs),
		}
	}
	for _, guildID := range guildIDs {
		guilds[guildID] = GuildPolicy{
			RequireMention: requireMention,
			Users:          slices.Clone(adminIDs),
			Channels: map[string]ChannelPolicy{
				PolicyWildcard: {Allow: true},
			},
		}
	}

	return AccessPolicy{
		Direct: DirectPolicy{
			Enabled:   true,
			Mode:      PolicyAllowlist,
			AllowFrom: slices.Clone(adminIDs),
		},
		GroupMode: PolicyAllowlist,
		Guilds:    guilds,
	}
}

// Normalize fills defaults left empty by a decoded policy file.
func (p AccessPolicy) Normalize() AccessPolicy {
	if strings.TrimSpace(string(p.Direct.Mode)) == "" {
		p.Direct.Mode = PolicyAllowlist
	}
	if strings.TrimSpace(string(p.GroupMode)) == "" {
		p.GroupMode = PolicyAllowlist
	}
	return p
}

func (p AccessPolicy) CheckDirect(userID string) AccessDecision {
	if !p.Direct.Enabled {
		return deny("DM disabled")
	}

	switch p.Direct.Mode {
	case PolicyDisabled:
		return deny("DM policy disabled")
	case PolicyOpen:
		if len(p.Direct.AllowFrom) == 0 || slices.Contains(p.Direct.AllowFrom, PolicyWildcard) {
			return allow("DM open")
		}
		if slices.Contains(p.Direct.AllowFrom, userID) {
			return allow("user in DM allowlist")
		}
		return deny("user not in DM allowlist (open mode requires allow_from)")
	case PolicyAllowlist:
		if slices.Contains(p.Direct.AllowFrom, userID) {
			return allow("user in DM allowlist")
		}
		return deny("user not in DM allowlist")
	default:
		return deny("unknown DM policy: %s", p.Direct.Mode)
	}
}

func (p AccessPolicy) CheckGuild(guildID, channelID, userID string) AccessDecision {
	switch p.GroupMode {
	case PolicyDisabled:
		return deny("guild access disabled")
	case PolicyOpen:
		return allow("guild access open")
	}

	guild, ok := p.guild(guildID)
	if !ok {
		return deny("guild %s not in allowlist", guildID)
	}
	if len(guild.Users) > 0 && !slices.Contains(guild.Users, userID) {
		return deny("user %s not in guild allowlist", userID)
	}
	if len(guild.Channels) == 0 {
		return allow("access granted")
	}

	channel, ok := guild.channel(channelID)
	if !ok {
		return deny("channel %s not in guild's channel allowlist", channelID)
	}
	if !channel.Allow {
		return deny("channel %s not allowed", channelID)
	}
	if len(channel.Users) > 0 && !slices.Contains(channel.Users, userID) {
		return deny("user %s not in channel allowlist", userID)
	}
	return allow("access granted")
}

// RequireMention reports whether the bot must be mentioned in a guild
// channel. Unknown guilds require a mention.
func (p AccessPolicy) RequireMention(guildID, channelID string) bool {
	guild, ok := p.guild(guildID)
	if !ok {
		return true
	}
	if channel, ok := guild.channel(channelID); ok && channel.RequireMention != nil {
		return *channel.RequireMention
	}
	return guild.RequireMention
}

func (p AccessPolicy) guild(guildID string) (GuildPolicy, bool) {
	if guild, ok := p.Guilds[guildID]; ok {
		return guild, true
	}
	guild, ok := p.Guilds[PolicyWildcard]
	return guild, ok
}

func (g GuildPolicy) channel(channelID string) (ChannelPolicy, bool) {
	if channel, ok := g.Channels[channelID]; ok {
		return channel, true
	}
	channel, ok := g.Channels[PolicyWildcard]
	return channel, ok
}
