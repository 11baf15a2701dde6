package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/vaultmesh/vaultmesh/internal/app"
	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/serveridentity"
)

func keybagCommand() *cli.Command {
	return &cli.Command{
		Name:  "keybag",
		Usage: "Manage the server's own sync-client identity",
		Commands: []*cli.Command{
			keybagExportCommand(),
			keybagImportCommand(),
		},
	}
}

func keybagExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Generate a fresh server identity and write it to a password-wrapped file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Required: true,
				Usage:    "Path to write the identity blob to",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runKeybagExport(ctx, cmd.String("out"))
		},
	}
}

func runKeybagExport(ctx context.Context, path string) error {
	cfg := config.Load()
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(ctx, container, logger)

	bag, _, _, err := serveridentity.New()
	if err != nil {
		return fmt.Errorf("failed to generate server identity: %w", err)
	}

	blob, err := serveridentity.Save(ctx, bag, container.ServerIdentityConfig(), nil)
	if err != nil {
		return fmt.Errorf("failed to encrypt server identity: %w", err)
	}

	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write server identity to %s: %w", path, err)
	}

	logger.Info("server identity exported", slog.String("path", path))
	return nil
}

func keybagImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Verify a server identity file can be unlocked with the configured password or KMS key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "in",
				Required: true,
				Usage:    "Path to read the identity blob from",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runKeybagImport(ctx, cmd.String("in"))
		},
	}
}

func runKeybagImport(ctx context.Context, path string) error {
	cfg := config.Load()
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(ctx, container, logger)

	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read server identity from %s: %w", path, err)
	}

	bag, err := serveridentity.Load(ctx, blob, container.ServerIdentityConfig(), nil)
	if err != nil {
		return fmt.Errorf("failed to unlock server identity: %w", err)
	}

	if _, err := serveridentity.SigningKey(bag); err != nil {
		return fmt.Errorf("server identity has no usable signing key: %w", err)
	}
	if _, err := serveridentity.EnvelopeKey(bag); err != nil {
		return fmt.Errorf("server identity has no usable envelope key: %w", err)
	}

	logger.Info("server identity verified", slog.String("path", path))
	return nil
}
