package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := &app{}
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "kgw",
		Short:         "Kiro chat gateway (kgw): bridge chat platforms to kiro-cli agents",
		Long:          "kgw relays chat messages from Discord or a local console to kiro-cli agents speaking ACP over stdio, one agent per platform and one session per chat.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(configPath, logLevel)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/kgw/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newConfigCmd(app),
		newSecretCmd(app),
		newPolicyCmd(app),
		newProbeCmd(app),
	)

	return rootCmd
}
