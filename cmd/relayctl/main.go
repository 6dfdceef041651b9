package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

var (
	apiFlag   string
	tokenFlag string
	rootCmd   = &cobra.Command{
		Use:   "relayctl",
		Short: "Operator tools for pmrelay bots and their documents",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "https://api.telegram.org", "Telegram Bot API base URL")
	rootCmd.PersistentFlags().StringVarP(&tokenFlag, "token", "t", os.Getenv("PMRELAY_BOT_TOKEN"), "Bot token (defaults to $PMRELAY_BOT_TOKEN)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// botClient returns a client for --token.
func botClient() (*telegram.Client, error) {
	if tokenFlag == "" {
		return nil, fmt.Errorf("--token required")
	}
	if telegram.BotIDFromToken(tokenFlag) == 0 {
		return nil, fmt.Errorf("--token must look like <botId>:<secret>")
	}
	return telegram.New(apiFlag, tokenFlag, 30*time.Second), nil
}
