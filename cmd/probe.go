package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/adapters/render/card"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/spf13/cobra"
)

const probePlatform domain.Platform = "probe"

func newProbeCmd(app *app) *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Start the agent once and list its modes, models and commands",
		Long:  "probe runs the ACP handshake and opens one session, which checks that agent.path works before serving chats.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cwd == "" {
				cwd = app.cfg.Agent.DefaultCwd
			}
			if cwd == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				cwd = wd
			}

			client := app.agentFactory()(probePlatform)
			defer client.Stop()

			var info domain.SessionInfo
			var commands []domain.AgentCommand
			err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), "Starting "+app.cfg.Agent.Path+"...", func(ctx context.Context) error {
				if err := client.Start(ctx, cwd); err != nil {
					return err
				}
				var err error
				info, err = client.NewSession(ctx, cwd)
				if err != nil {
					return err
				}
				commands = client.AvailableCommands(info.ID)
				return nil
			})
			if err != nil {
				return err
			}

			rendered, err := card.Render(card.Card{
				Title:   "agent ready",
				Meta:    fmt.Sprintf("%s (session %s)", app.cfg.Agent.Path, info.ID),
				Content: describeSession(info, commands),
			}, card.RenderOptions{Plain: true})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "Session directory (default agent.default_cwd)")

	return cmd
}

func describeSession(info domain.SessionInfo, commands []domain.AgentCommand) string {
	var lines []string

	lines = append(lines, "modes:")
	for _, mode := range info.Modes.Available {
		lines = append(lines, "  "+marker(mode.ID == info.Modes.CurrentModeID)+mode.ID)
	}
	if len(info.Modes.Available) == 0 {
		lines = append(lines, "  (none)")
	}

	lines = append(lines, "models:")
	for _, model := range info.Models.Available {
		lines = append(lines, "  "+marker(model.ID == info.Models.CurrentModelID)+model.ID)
	}
	if len(info.Models.Available) == 0 {
		lines = append(lines, "  (none)")
	}

	if len(commands) > 0 {
		names := make([]string, 0, len(commands))
		for _, command := range commands {
			names = append(names, command.Name)
		}
		lines = append(lines, "commands: "+strings.Join(names, ", "))
	}

	return strings.Join(lines, "\n")
}

func marker(current bool) string {
	if current {
		return "✓ "
	}
	return "  "
}
