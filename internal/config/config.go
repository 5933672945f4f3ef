package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "KGW"
	appDirName = "kgw"

	DefaultDiscordTokenSecret = "kgw/discord/bot_token"
	DefaultPolicyFile         = "discord_policy.toml"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log" toml:"log"`
	Agent   AgentConfig   `mapstructure:"agent" toml:"agent"`
	Discord DiscordConfig `mapstructure:"discord" toml:"discord"`
	Console ConsoleConfig `mapstructure:"console" toml:"console"`
	Secrets SecretsConfig `mapstructure:"secrets" toml:"secrets"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" toml:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

type AgentConfig struct {
	Path             string        `mapstructure:"path" toml:"path"`
	Args             []string      `mapstructure:"args" toml:"args"`
	DefaultCwd       string        `mapstructure:"default_cwd" toml:"default_cwd"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" toml:"idle_timeout"`
	WorkspaceMode    string        `mapstructure:"workspace_mode" toml:"workspace_mode"`
	PromptTimeout    time.Duration `mapstructure:"prompt_timeout" toml:"prompt_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" toml:"handshake_timeout"`
}

type DiscordConfig struct {
	Enabled        bool     `mapstructure:"enabled" toml:"enabled"`
	BotToken       string   `mapstructure:"bot_token" toml:"bot_token"`
	TokenSecret    string   `mapstructure:"token_secret" toml:"token_secret"`
	Cwd            string   `mapstructure:"cwd" toml:"cwd"`
	WorkspaceMode  string   `mapstructure:"workspace_mode" toml:"workspace_mode"`
	PolicyFile     string   `mapstructure:"policy_file" toml:"policy_file"`
	AdminUserIDs   []string `mapstructure:"admin_user_ids" toml:"admin_user_ids"`
	GuildIDs       []string `mapstructure:"guild_ids" toml:"guild_ids"`
	RequireMention bool     `mapstructure:"require_mention" toml:"require_mention"`
}

type ConsoleConfig struct {
	Enabled       bool   `mapstructure:"enabled" toml:"enabled"`
	Cwd           string `mapstructure:"cwd" toml:"cwd"`
	WorkspaceMode string `mapstructure:"workspace_mode" toml:"workspace_mode"`
}

type SecretsConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
	// Backends lists the secret stores to consult, in order.
	Backends []string `mapstructure:"backends" toml:"backends"`
}

// legacyEnv maps keys to the variable names the gateway has always read.
var legacyEnv = map[string]string{
	"log.level":               "LOG_LEVEL",
	"agent.path":              "KIRO_PATH",
	"agent.default_cwd":       "KIRO_CWD",
	"agent.idle_timeout":      "KIRO_IDLE_TIMEOUT",
	"agent.workspace_mode":    "KIRO_WORKSPACE_MODE",
	"discord.enabled":         "DISCORD_ENABLED",
	"discord.bot_token":       "DISCORD_BOT_TOKEN",
	"discord.cwd":             "DISCORD_KIRO_CWD",
	"discord.workspace_mode":  "DISCORD_WORKSPACE_MODE",
	"discord.admin_user_ids":  "DISCORD_ADMIN_USER_ID",
	"discord.guild_ids":       "DISCORD_GUILD_ID",
	"discord.require_mention": "DISCORD_REQUIRE_MENTION",
}

func setDefaults(v *viper.Viper) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	configDir, err := Dir()
	if err != nil {
		return err
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("agent.path", "kiro-cli")
	v.SetDefault("agent.args", []string{"acp"})
	v.SetDefault("agent.default_cwd", cwd)
	v.SetDefault("agent.idle_timeout", "300")
	v.SetDefault("agent.workspace_mode", string(domain.WorkspacePerChat))
	v.SetDefault("agent.prompt_timeout", "300")
	v.SetDefault("agent.handshake_timeout", "30")

	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.token_secret", DefaultDiscordTokenSecret)
	v.SetDefault("discord.cwd", "")
	v.SetDefault("discord.workspace_mode", "")
	v.SetDefault("discord.policy_file", filepath.Join(configDir, DefaultPolicyFile))
	v.SetDefault("discord.admin_user_ids", []string{})
	v.SetDefault("discord.guild_ids", []string{})
	v.SetDefault("discord.require_mention", true)

	v.SetDefault("console.enabled", false)
	v.SetDefault("console.cwd", "")
	v.SetDefault("console.workspace_mode", "")

	v.SetDefault("secrets.dir", filepath.Join(configDir, "secrets"))
	v.SetDefault("secrets.backends", []string{"env", "pass", "file"})
	return nil
}

// Dir is the per-user configuration directory.
func Dir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// Load reads path, or config.toml from the usual locations when path is
// empty, then layers the environment on top. A missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	if err := setDefaults(v); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Agent.WorkspaceMode = string(domain.ParseWorkspaceMode(c.Agent.WorkspaceMode, domain.WorkspacePerChat))
	c.Discord.WorkspaceMode = string(domain.ParseWorkspaceMode(c.Discord.WorkspaceMode, ""))
	c.Console.WorkspaceMode = string(domain.ParseWorkspaceMode(c.Console.WorkspaceMode, ""))
	c.Discord.AdminUserIDs = compact(c.Discord.AdminUserIDs)
	c.Discord.GuildIDs = compact(c.Discord.GuildIDs)
	c.Secrets.Backends = compact(c.Secrets.Backends)
	for i, backend := range c.Secrets.Backends {
		c.Secrets.Backends[i] = strings.ToLower(backend)
	}
}

// Validate checks the settings every command needs. requireAdapter is set by
// commands that serve chats.
func (c Config) Validate(requireAdapter bool) error {
	var errs []error
	if strings.TrimSpace(c.Agent.Path) == "" {
		errs = append(errs, errors.New("agent.path is empty"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(c.Secrets.Backends) == 0 {
		errs = append(errs, errors.New("secrets.backends is empty"))
	}
	for _, backend := range c.Secrets.Backends {
		switch backend {
		case "env", "pass", "file":
		default:
			errs = append(errs, fmt.Errorf("secrets.backends: unknown backend %q", backend))
		}
	}
	if requireAdapter && !c.Discord.Enabled && !c.Console.Enabled {
		errs = append(errs, errors.New("no chat adapter enabled (set discord.enabled or console.enabled)"))
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

// secondsDurationHook reads bare numbers as seconds and everything else with
// time.ParseDuration.
func secondsDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			text := strings.TrimSpace(value)
			if seconds, err := strconv.ParseFloat(text, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return time.ParseDuration(text)
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float64:
			return time.Duration(value * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
