// Package main provides the vaultmeshd entry point: a multi-tenant sync
// server with CLI subcommands for running it and administering tenants.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "vaultmeshd",
		Usage:   "VaultMesh multi-tenant sync server",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			createTenantCommand(),
			keybagCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
