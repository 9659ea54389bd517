// Package cli implements the entity command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	brainPath  string
	logLevel   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "entity",
	Short:         "An autonomous entity with memory, moods and sleep",
	Long:          "Runs an entity that thinks on its own, remembers, consolidates memories while it rests and talks over Matrix or HTTP.",
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $ENTITY_CONFIG_PATH)")
	RootCmd.PersistentFlags().StringVarP(&brainPath, "brain", "b", "", "Brain directory (default: config brain_path)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text or json")
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func setupLogging(w io.Writer) {
	level := logLevel
	if level == "" {
		level = os.Getenv("ENTITY_LOG_LEVEL")
	}
	cfg := daemon.Config{LogLevel: level}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

func loadConfig() (*daemon.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("ENTITY_CONFIG_PATH")
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if brainPath != "" {
		cfg.BrainPath = brainPath
	}
	return cfg, nil
}

// withDaemon opens the brain, builds a one-shot daemon and hands it to fn.
func withDaemon(ctx context.Context, fn func(*daemon.Daemon) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := brain.Open(cfg.BrainPath)
	if err != nil {
		return fmt.Errorf("open brain %s: %w", cfg.BrainPath, err)
	}
	defer b.Close()

	d, err := daemon.New(ctx, b, cfg, daemon.Oneshot())
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

// output prints v as indented JSON, or text when the format is text.
func output(cmd *cobra.Command, v any, text string) error {
	w := cmd.OutOrStdout()
	if formatFlag == "json" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
