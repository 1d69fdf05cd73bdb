package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"moltby/internal/config"
	"moltby/internal/session"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Control the Telegram bot of a running agent",
}

func init() {
	botCmd.AddCommand(botStatusCmd, botStartCmd, botStopCmd, botSessionsCmd)
}

var botStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the bot is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Status    string    `json:"status"`
			Username  string    `json:"username"`
			StartTime time.Time `json:"startTime"`
			Uptime    int64     `json:"uptime"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/api/bot/status", nil, &out); err != nil {
			return err
		}
		if out.Status != "running" {
			fmt.Println("Bot is stopped.")
			return nil
		}
		fmt.Printf("Bot @%s running since %s (%s)\n",
			out.Username, humanize.Time(out.StartTime), (time.Duration(out.Uptime) * time.Second).String())
		return nil
	},
}

var (
	startToken string
	startChat  string
)

var botStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bot with a token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tok := startToken
		if tok == "" {
			tok = os.Getenv(config.EnvTelegramToken)
		}
		var out struct {
			Status   string `json:"status"`
			Message  string `json:"message"`
			Username string `json:"username"`
		}
		body := map[string]string{"token": tok, "chatId": startChat}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/api/bot/start", body, &out); err != nil {
			return err
		}
		if out.Username != "" {
			fmt.Printf("%s (@%s)\n", out.Message, out.Username)
			return nil
		}
		fmt.Println(out.Message)
		return nil
	},
}

func init() {
	botStartCmd.Flags().StringVar(&startToken, "bot-token", "", "Telegram bot token (default $"+config.EnvTelegramToken+")")
	botStartCmd.Flags().StringVar(&startChat, "welcome-chat", "", "chat that receives a greeting once connected")
}

var botStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Message string `json:"message"`
		}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/api/bot/stop", nil, &out); err != nil {
			return err
		}
		fmt.Println(out.Message)
		return nil
	},
}

var botSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chats the bot has talked to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Sessions []session.Session `json:"sessions"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/api/bot/sessions", nil, &out); err != nil {
			return err
		}
		if len(out.Sessions) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHAT\tTYPE\tUSER\tMESSAGES\tLAST ACTIVE")
		for _, s := range out.Sessions {
			user := s.Username
			if user == "" {
				user = s.FirstName
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ChatID, s.ChatType, user, humanize.Comma(int64(s.MessageCount)), humanize.Time(s.LastActive))
		}
		return tw.Flush()
	},
}
