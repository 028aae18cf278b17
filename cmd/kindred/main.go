// Command kindred places companion voice calls from the command line and
// serves the health and metrics endpoints for deployments.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kindred/internal/config"
	"github.com/MrWong99/kindred/internal/observe"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds state shared by all subcommands.
type cli struct {
	configPath string
	out        io.Writer
	level      slog.LevelVar
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "kindred",
		Short:         "kindred - real-time voice calls with AI companions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		c.newCallCmd(),
		c.newMemoryCmd(),
		c.newServeCmd(),
	)
	return root
}

// loadConfig reads the config file and installs the process logger.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", c.configPath)
		}
		return nil, err
	}
	c.level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &c.level})))
	return cfg, nil
}

// initTelemetry installs the OpenTelemetry providers and returns their
// shutdown func.
func initTelemetry(ctx context.Context) (func(), error) {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kindred"})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}, nil
}
