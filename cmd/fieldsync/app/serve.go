package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/stacklok/fieldsync/internal/app"
	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/telemetry"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync agent",
		Long: `Run the sync agent: the local status API, the connectivity monitor and the
automatic sync scheduler.

Send SIGUSR1 to signal that the application came to the foreground; this makes the
scheduler evaluate whether an automatic pass is due.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides api.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithDeviceID(cfg.Device.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts, err := agentOptions(cmd, cfg, tel)
	if err != nil {
		return err
	}

	agent, err := app.NewAgent(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- agent.Start()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				_ = agent.Stop(defaultGracefulTimeout)
				return err
			}
			return nil
		case sig := <-signals:
			if sig == unix.SIGUSR1 {
				slog.Info("Foreground signal received")
				agent.Engine().Foreground.Emit()
				continue
			}
			slog.Info("Shutdown signal received", "signal", sig.String())
			if err := agent.Stop(defaultGracefulTimeout); err != nil {
				return err
			}
			return <-errCh
		}
	}
}

func agentOptions(cmd *cobra.Command, cfg *config.Config, tel *telemetry.Telemetry) ([]app.Option, error) {
	opts := []app.Option{app.WithConfig(cfg)}

	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return nil, fmt.Errorf("failed to get address flag: %w", err)
	}
	if address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	if cfg.MetricsEnabled() {
		opts = append(opts,
			app.WithMeterProvider(tel.MeterProvider()),
			app.WithMetricsHandler(tel.MetricsHandler()),
		)
	}
	if cfg.Telemetry.TracingEnabled() {
		opts = append(opts, app.WithTracerProvider(tel.TracerProvider()))
	}
	return opts, nil
}
