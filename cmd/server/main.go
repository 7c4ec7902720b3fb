package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/channelpulse/device-sync-service/internal/app"
	"github.com/channelpulse/device-sync-service/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "device-sync-service",
		Short:         "Trial quota and device sync backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), cleanupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func cleanupCmd() *cobra.Command {
	var trialRetention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deactivate expired sessions and delete stale trial records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Cleanup(ctx, trialRetention)
		},
	}
	cmd.Flags().DurationVar(&trialRetention, "trial-retention", 90*24*time.Hour, "delete unconverted trial records idle longer than this")
	return cmd
}
