package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"moltby/internal/app"
	"moltby/internal/config"
)

var (
	serveConfig string
	serveEnv    []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent (bot, scheduler and HTTP API)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(serveEnv...); err != nil {
			return fmt.Errorf("load env: %w", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(serveConfig)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start: %w", err)
		}

		select {
		case <-ctx.Done():
		case <-a.Done():
		}
		reason := app.StopSignal
		if ctx.Err() == nil {
			reason = app.StopFatalError
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		stopErr := a.Stop(stopCtx, reason)
		return errors.Join(a.Err(), stopErr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "./config.yaml", "path to config file (json or yaml)")
	serveCmd.Flags().StringSliceVar(&serveEnv, "env", []string{".env"}, "dotenv files to load before reading config")
}
