package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

func newSecretCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage adapter credentials in the secret store chain",
		Long:  "KEY defaults to the Discord bot token key (discord.token_secret).",
	}

	cmd.AddCommand(newSecretSetCmd(app), newSecretGetCmd(app), newSecretRemoveCmd(app))

	return cmd
}

func (a *app) secretKey(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.Discord.TokenSecret
}

func newSecretSetCmd(app *app) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set [KEY]",
		Short: "Store a secret (reads the value from stdin without --value)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("value") {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					value = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read secret value: %w", err)
				}
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("secret value is empty")
			}

			store, err := app.secretStore()
			if err != nil {
				return err
			}
			key := app.secretKey(args)
			if err := store.Put(cmd.Context(), key, value); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Secret value")

	return cmd
}

func newSecretGetCmd(app *app) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Show a secret, masked unless --reveal is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.secretStore()
			if err != nil {
				return err
			}
			value, err := store.Get(cmd.Context(), app.secretKey(args))
			if err != nil {
				return err
			}
			if !reveal {
				value = maskSecret(value)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the full value")

	return cmd
}

func newSecretRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm [KEY]",
		Aliases: []string{"remove"},
		Short:   "Remove a secret from every writable store",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.secretStore()
			if err != nil {
				return err
			}
			key := app.secretKey(args)
			if err := store.Delete(cmd.Context(), key); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
			return err
		},
	}
}

func maskSecret(value string) string {
	count := utf8.RuneCountInString(value)
	if count <= 8 {
		return strings.Repeat("*", count)
	}
	runes := []rune(value)
	return string(runes[:4]) + strings.Repeat("*", count-4)
}
