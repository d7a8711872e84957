package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/harun/agentapi/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent HTTP API",
	Long: `Start the agent HTTP API and block until SIGINT or SIGTERM.
The server refuses to start when no reasoning engine credential is configured.
Edits to the config file reload the log level and agent defaults in place.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	zl := log.GetZerolog()
	if err := d.WatchConfig(loader); err != nil {
		zl.Warn().Err(err).Str("path", loader.GetConfigPath()).Msg("Config hot reload disabled")
	}

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	zl.Info().Msg("Shutdown signal received")

	return d.Stop()
}
