package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mailchat_server/config"
	"mailchat_server/internal/bootstrap"
	"mailchat_server/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Maintenance commands for the mail chat server",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			level := logger.LevelWarn
			if verbose {
				level = logger.LevelDebug
			}
			logger.Init(logger.Config{Level: level, Output: os.Stderr, Service: "chatctl", Console: true})
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newResolveCmd(), newImportCmd(), newMigrateCmd())
	return root
}

// commandContext is canceled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// withDependencies loads config and wires the full pipeline for fn.
func withDependencies(cmd *cobra.Command, fn func(ctx context.Context, d *bootstrap.Dependencies) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	d, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, d)
}
