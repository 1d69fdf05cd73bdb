package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"moltby/internal/config"
)

var (
	apiAddr  string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:           "moltby",
	Short:         "Moltby agent: Telegram bot with scheduled messages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addr := os.Getenv(config.EnvHTTPAddr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", addr, "agent API address (host:port or URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv(config.EnvHTTPToken), "agent API bearer token")

	rootCmd.AddCommand(serveCmd, jobsCmd, botCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
