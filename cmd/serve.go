package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(app *app) *cobra.Command {
	var console bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		Long:  "serve connects the enabled chat adapters and relays their messages to kiro-cli agents. SIGINT or SIGTERM stops every agent and adapter before exiting.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if console {
				app.cfg.Console.Enabled = true
			}
			if err := app.cfg.Validate(true); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&console, "console", false, "Also chat with the agent from this terminal")

	return cmd
}
