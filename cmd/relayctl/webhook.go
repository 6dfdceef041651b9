package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

// allowedUpdates are the update kinds the relay handles.
var allowedUpdates = []string{"message", "edited_message", "message_reaction"}

func init() {
	webhookCmd := &cobra.Command{Use: "webhook", Short: "Register or remove a bot webhook"}

	var base, prefix, secret string
	var owner int64
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Point the bot at <base>/<prefix>/<owner>/<token>",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := botClient()
			if err != nil {
				return err
			}
			return runWebhookSet(cmd.Context(), client, base, prefix, owner, secret, cmd.OutOrStdout())
		},
	}
	setCmd.Flags().StringVarP(&base, "url", "u", "", "Public base URL of the relay (required)")
	setCmd.Flags().StringVar(&prefix, "prefix", "webhook", "Webhook path prefix")
	setCmd.Flags().Int64VarP(&owner, "owner", "o", 0, "Owner user id (required)")
	setCmd.Flags().StringVarP(&secret, "secret", "s", "", "Secret token Telegram echoes back")
	_ = setCmd.MarkFlagRequired("url")
	_ = setCmd.MarkFlagRequired("owner")
	webhookCmd.AddCommand(setCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the bot webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := botClient()
			if err != nil {
				return err
			}
			if err := client.DeleteWebhook(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	webhookCmd.AddCommand(deleteCmd)

	rootCmd.AddCommand(webhookCmd)
}

// webhookURL joins the relay route for one bot.
func webhookURL(base, prefix string, owner int64, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid --url %q", base)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("--url must use https, Telegram rejects %q", u.Scheme)
	}
	u = u.JoinPath(strings.Trim(prefix, "/"), fmt.Sprint(owner), token)
	return u.String(), nil
}

func runWebhookSet(ctx context.Context, client *telegram.Client, base, prefix string, owner int64, secret string, out io.Writer) error {
	if owner <= 0 {
		return fmt.Errorf("--owner required")
	}
	hook, err := webhookURL(base, prefix, owner, client.Token())
	if err != nil {
		return err
	}
	if err := client.SetWebhook(ctx, telegram.SetWebhookParams{
		URL:            hook,
		SecretToken:    secret,
		AllowedUpdates: allowedUpdates,
	}); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	_, _ = fmt.Fprintf(out, "webhook set for bot %d\n", client.BotID())
	return nil
}
