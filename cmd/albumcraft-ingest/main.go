package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"
)

const defaultConfigPath = "./config/config.yml"

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "albumcraft-ingest",
		Short:         "Batch photo ingestion service for albums",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newLimitsCmd(&configPath),
		newIngestCmd(&configPath),
	)

	return root
}
