package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon: think loop, dreaming, chat channels and HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	})
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
		setupLogging(cmd.ErrOrStderr())
	}

	b, err := brain.Open(cfg.BrainPath)
	if err != nil {
		return fmt.Errorf("open brain %s: %w", cfg.BrainPath, err)
	}
	defer b.Close()
	slog.Info("entity starting", "version", version, "brain", cfg.BrainPath, "memories", b.Stats().Memories)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, b, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("entity stopped")
	return nil
}
