package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pmrelay/pmrelay/internal/logger"
	"github.com/pmrelay/pmrelay/internal/pinrenew"
	"github.com/pmrelay/pmrelay/internal/store/pinned"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

func init() {
	var owner int64
	var maxAgeDays int
	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Re-pin the directory and correlation log of a bot when they are old",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := botClient()
			if err != nil {
				return err
			}
			maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
			return runRenew(cmd.Context(), client, owner, maxAge, logger.Console("relayctl"), cmd.OutOrStdout())
		},
	}
	renewCmd.Flags().Int64VarP(&owner, "owner", "o", 0, "Owner user id (required)")
	renewCmd.Flags().IntVar(&maxAgeDays, "max-age-days", 6, "Renew documents older than this many days")
	_ = renewCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(renewCmd)
}

func runRenew(ctx context.Context, client *telegram.Client, owner int64, maxAge time.Duration, log zerolog.Logger, out io.Writer) error {
	if owner <= 0 {
		return fmt.Errorf("--owner required")
	}
	bot := pinrenew.Bot{ID: client.BotID(), OwnerUID: owner, Docs: pinned.New(client, log)}
	var failed int
	for _, o := range pinrenew.RenewBot(ctx, bot, maxAge, log) {
		switch {
		case o.Err != nil:
			failed++
			_, _ = fmt.Fprintf(out, "%s\terror: %v\n", o.Key, o.Err)
		case o.Renewed:
			_, _ = fmt.Fprintf(out, "%s\trenewed\n", o.Key)
		default:
			_, _ = fmt.Fprintf(out, "%s\tfresh\n", o.Key)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed to renew", failed)
	}
	return nil
}
