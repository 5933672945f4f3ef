package toml

import (
	"fmt"
	"slices"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version     int                    `toml:"version"`
	DM          dmSchema               `toml:"dm"`
	GroupPolicy string                 `toml:"group_policy"`
	AllowBots   bool                   `toml:"allow_bots"`
	Guilds      map[string]guildSchema `toml:"guilds,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported policy schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type dmSchema struct {
	Enabled   bool     `toml:"enabled"`
	Policy    string   `toml:"policy"`
	AllowFrom []string `toml:"allow_from"`
}

type guildSchema struct {
	RequireMention bool                     `toml:"require_mention"`
	Users          []string                 `toml:"users,omitempty"`
	Channels       map[string]channelSchema `toml:"channels,omitempty"`
}

type channelSchema struct {
	Allow          bool     `toml:"allow"`
	RequireMention *bool    `toml:"require_mention,omitempty"`
	Users          []string `toml:"users,omitempty"`
}

func toSchema(policy domain.AccessPolicy) fileSchema {
	file := fileSchema{
		Version: currentSchemaVersion,
		DM: dmSchema{
			Enabled:   policy.Direct.Enabled,
			Policy:    string(policy.Direct.Mode),
			AllowFrom: slices.Clone(policy.Direct.AllowFrom),
		},
		GroupPolicy: string(policy.GroupMode),
		AllowBots:   policy.AllowBots,
	}
	if file.DM.AllowFrom == nil {
		file.DM.AllowFrom = []string{}
	}

	if len(policy.Guilds) > 0 {
		file.Guilds = make(map[string]guildSchema, len(policy.Guilds))
	}
	for id, guild := range policy.Guilds {
		encoded := guildSchema{
			RequireMention: guild.RequireMention,
			Users:          slices.Clone(guild.Users),
		}
		if len(guild.Channels) > 0 {
			encoded.Channels = make(map[string]channelSchema, len(guild.Channels))
		}
		for channelID, channel := range guild.Channels {
			encoded.Channels[channelID] = channelSchema{
				Allow:          channel.Allow,
				RequireMention: channel.RequireMention,
				Users:          slices.Clone(channel.Users),
			}
		}
		file.Guilds[id] = encoded
	}

	return file
}

func fromSchema(file fileSchema) domain.AccessPolicy {
	policy := domain.AccessPolicy{
		Direct: domain.DirectPolicy{
			Enabled:   file.DM.Enabled,
			Mode:      domain.PolicyMode(file.DM.Policy),
			AllowFrom: file.DM.AllowFrom,
		},
		GroupMode: domain.PolicyMode(file.GroupPolicy),
		AllowBots: file.AllowBots,
		Guilds:    make(map[string]domain.GuildPolicy, len(file.Guilds)),
	}

	for id, guild := range file.Guilds {
		decoded := domain.GuildPolicy{
			RequireMention: guild.RequireMention,
			Users:          guild.Users,
		}
		if len(guild.Channels) > 0 {
			decoded.Channels = make(map[string]domain.ChannelPolicy, len(guild.Channels))
		}
		for channelID, channel := range guild.Channels {
			decoded.Channels[channelID] = domain.ChannelPolicy{
				Allow:          channel.Allow,
				RequireMention: channel.RequireMention,
				Users:          channel.Users,
			}
		}
		policy.Guilds[id] = decoded
	}

	return policy.Normalize()
}
