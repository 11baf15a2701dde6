package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/vaultmesh/vaultmesh/internal/app"
	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/tenantregistry"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

func createTenantCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-tenant",
		Usage: "Provision a new tenant in the registry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant-id",
				Required: true,
				Usage:    "Tenant identifier, lowercased",
			},
			&cli.StringFlag{
				Name:  "admin-public-key",
				Value: "",
				Usage: "Base64-encoded Ed25519 admin public key; a fresh keypair is generated and printed if omitted",
			},
			&cli.StringFlag{
				Name:  "cas-backend",
				Value: "bolt",
				Usage: "Default CAS backend for this tenant's databases (inmemory or bolt)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runCreateTenant(ctx, cmd.String("tenant-id"), cmd.String("admin-public-key"), cmd.String("cas-backend"))
		},
	}
}

func runCreateTenant(ctx context.Context, tenantID, adminPublicKeyB64, casBackend string) error {
	cfg := config.Load()
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(ctx, container, logger)

	adminPub, generatedPriv, err := resolveAdminKey(adminPublicKeyB64)
	if err != nil {
		return err
	}

	tenantRepo, err := container.TenantRepository()
	if err != nil {
		return fmt.Errorf("failed to get tenant repository: %w", err)
	}

	tenant := tenantregistry.NewTenant(tenantID, adminPub, casBackend)
	if err := tenantRepo.Create(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	fmt.Printf("tenant_id=%s\n", tenant.TenantID)
	fmt.Printf("admin_public_key=%s\n", base64.StdEncoding.EncodeToString(adminPub))
	if generatedPriv != nil {
		fmt.Printf("admin_private_key=%s\n", base64.StdEncoding.EncodeToString(generatedPriv))
		fmt.Println("# store the private key securely now; it is not persisted by vaultmeshd")
	}

	logger.Info("tenant created", slog.String("tenant_id", tenant.TenantID))
	return nil
}

// resolveAdminKey decodes an explicitly-supplied admin public key, or
// generates a fresh keypair if none was given. The returned private key is
// non-nil only in the generated case: vaultmeshd never holds a tenant's
// admin private key otherwise.
func resolveAdminKey(adminPublicKeyB64 string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if adminPublicKeyB64 == "" {
		pub, priv, err := vaultcrypto.GenerateSigningKey()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate admin keypair: %w", err)
		}
		return pub, priv, nil
	}

	raw, err := base64.StdEncoding.DecodeString(adminPublicKeyB64)
	if err != nil {
		return nil, nil, fmt.Errorf("admin-public-key is not valid base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("admin-public-key must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil, nil
}
