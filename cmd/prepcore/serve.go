package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/config"
	"github.com/ferralab/prepcore/internal/system"
)

func newServeCommand(configPath *string) *cobra.Command {
	var simulated bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if simulated {
				cfg.Motion.Simulated = true
				cfg.Instrument.Simulated = true
			}

			lifecycle, err := system.NewLifecycleManager(cfg, logger)
			if err != nil {
				return err
			}

			if err := lifecycle.Start(); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			logger.Info("Shutdown signal received")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return lifecycle.Shutdown(ctx)
		},
	}
	cmd.Flags().BoolVar(&simulated, "simulated", false, "Run against simulated stage and power source")

	return cmd
}
