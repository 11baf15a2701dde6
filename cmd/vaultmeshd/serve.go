package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/vaultmesh/vaultmesh/internal/app"
	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/syncapi"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the sync API server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting vaultmeshd", slog.String("version", version))
	defer closeContainer(ctx, container, logger)

	syncServer, err := container.SyncServer()
	if err != nil {
		return fmt.Errorf("failed to initialize sync server: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 2)
	go func() {
		if err := syncServer.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("sync server error: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return shutdownServers(context.Background(), syncServer, metricsServer)
	case err := <-serverErr:
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		if shutErr := shutdownServers(context.Background(), syncServer, metricsServer); shutErr != nil {
			return errors.Join(err, shutErr)
		}
		return err
	}
}

func shutdownServers(ctx context.Context, syncServer *syncapi.Server, metricsServer *syncapi.MetricsServer) error {
	var errs []error
	if err := syncServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync server shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func closeContainer(ctx context.Context, container *app.Container, logger *slog.Logger) {
	if err := container.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}
