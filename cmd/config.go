package cmd

import (
	"fmt"

	"github.com/bnema/kiro-chat-gateway/internal/config"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const redacted = "<redacted>"

type configView struct {
	Log     config.LogConfig     `toml:"log"`
	Agent   agentView            `toml:"agent"`
	Discord config.DiscordConfig `toml:"discord"`
	Console config.ConsoleConfig `toml:"console"`
	Secrets config.SecretsConfig `toml:"secrets"`
}

// agentView prints durations the way the config file accepts them.
type agentView struct {
	Path             string   `toml:"path"`
	Args             []string `toml:"args"`
	DefaultCwd       string   `toml:"default_cwd"`
	IdleTimeout      string   `toml:"idle_timeout"`
	WorkspaceMode    string   `toml:"workspace_mode"`
	PromptTimeout    string   `toml:"prompt_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
}

func newConfigView(cfg config.Config) configView {
	view := configView{
		Log: cfg.Log,
		Agent: agentView{
			Path:             cfg.Agent.Path,
			Args:             cfg.Agent.Args,
			DefaultCwd:       cfg.Agent.DefaultCwd,
			IdleTimeout:      cfg.Agent.IdleTimeout.String(),
			WorkspaceMode:    cfg.Agent.WorkspaceMode,
			PromptTimeout:    cfg.Agent.PromptTimeout.String(),
			HandshakeTimeout: cfg.Agent.HandshakeTimeout.String(),
		},
		Discord: cfg.Discord,
		Console: cfg.Console,
		Secrets: cfg.Secrets,
	}
	if view.Discord.BotToken != "" {
		view.Discord.BotToken = redacted
	}
	return view
}

func newConfigCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := toml.Marshal(newConfigView(app.cfg))
			if err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}

			source := app.cfg.File
			if source == "" {
				source = "(defaults and environment only)"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "# config file: %s\n%s", source, data)
			return err
		},
	})

	return cmd
}
