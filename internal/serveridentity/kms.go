package serveridentity

import (
	"context"
	"fmt"

	"gocloud.dev/secrets"

	// hashivault is the only external KMS driver wired for this build; see
	// DESIGN.md for why awskms/azurekeyvault/gcpkms/localsecrets are not
	// registered here. base64key:// needs no driver import, it's built
	// into gocloud.dev/secrets itself.
	_ "gocloud.dev/secrets/hashivault"
)

// gocloudKMSService implements KMSService on top of gocloud.dev/secrets.
// *secrets.Keeper already satisfies KMSKeeper.
type gocloudKMSService struct{}

// NewGoCloudKMSService returns a KMSService backed by gocloud.dev/secrets.
func NewGoCloudKMSService() KMSService {
	return &gocloudKMSService{}
}

func (k *gocloudKMSService) OpenKeeper(ctx context.Context, keyURI string) (KMSKeeper, error) {
	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	return keeper, nil
}
