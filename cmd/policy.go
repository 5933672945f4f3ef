package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/adapters/render/card"
	"github.com/bnema/kiro-chat-gateway/internal/application"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/spf13/cobra"
)

func newPolicyCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the Discord access policy file",
	}

	cmd.AddCommand(newPolicyInitCmd(app), newPolicyCheckCmd(app))

	return cmd
}

func newPolicyInitCmd(app *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter policy from the configured admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := app.policyRepository()
			if err != nil {
				return err
			}

			_, err = repo.Load(cmd.Context())
			switch {
			case err == nil && !force:
				return fmt.Errorf("policy file %s already exists (use --force to overwrite)", repo.Path())
			case err != nil && !errors.Is(err, domain.ErrPolicyNotFound) && !force:
				return err
			}

			policy, source, err := application.ResolveAccessPolicy(cmd.Context(), nil, app.policyFallback())
			if err != nil {
				return err
			}
			if err := repo.Save(cmd.Context(), policy); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s policy to %s\n", source, repo.Path())
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing policy file")

	return cmd
}

func newPolicyCheckCmd(app *app) *cobra.Command {
	var userID string
	var guildID string
	var channelID string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the access policy for a user",
		Long:  "Without --guild the check is for a direct message.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if guildID == "" && channelID != "" {
				return errors.New("--channel requires --guild")
			}

			repo, err := app.policyRepository()
			if err != nil {
				return err
			}
			policy, source, err := application.ResolveAccessPolicy(cmd.Context(), repo, app.policyFallback())
			if err != nil {
				return err
			}

			var decision domain.AccessDecision
			lines := []string{}
			if guildID == "" {
				decision = policy.CheckDirect(userID)
				lines = append(lines, "direct message from "+userID)
			} else {
				decision = policy.CheckGuild(guildID, channelID, userID)
				lines = append(lines, fmt.Sprintf("guild %s channel %s user %s", guildID, channelID, userID))
				lines = append(lines, "mention required: "+yesNo(policy.RequireMention(guildID, channelID)))
			}
			lines = append(lines, "reason: "+decision.Reason)

			title := "denied"
			if decision.Allowed {
				title = "allowed"
			}
			meta := "source: " + string(source)
			if source == application.PolicySourceFile {
				meta += " (" + repo.Path() + ")"
			}

			rendered, err := card.Render(card.Card{
				Title:   title,
				Meta:    meta,
				Content: strings.Join(lines, "\n"),
			}, card.RenderOptions{Plain: true})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Discord user ID")
	cmd.Flags().StringVar(&guildID, "guild", "", "Guild ID (omit for a direct message)")
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel ID")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
