package authsession

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// fakeResolver is an in-memory KeyResolver: username -> public key, plus a
// revoked set, standing in for a directory+tenantregistry pairing.
type fakeResolver struct {
	keys    map[string]ed25519.PublicKey
	revoked map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{keys: make(map[string]ed25519.PublicKey), revoked: make(map[string]bool)}
}

func (r *fakeResolver) ResolveKey(ctx context.Context, username string) (ed25519.PublicKey, error) {
	pub, ok := r.keys[username]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return pub, nil
}

func (r *fakeResolver) IsTrusted(ctx context.Context, pub ed25519.PublicKey, at time.Time) (bool, error) {
	for username, k := range r.keys {
		if k.Equal(pub) {
			return !r.revoked[username], nil
		}
	}
	return false, nil
}

func TestChallengeAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, challengeID)

	sig := ed25519.Sign(priv, []byte(challengeID))
	token, err := m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	username, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestChallengeUnknownUsername(t *testing.T) {
	m := NewManager(newFakeResolver())
	_, err := m.Challenge(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestAuthenticateWithWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)

	sig := ed25519.Sign(wrongPriv, []byte(challengeID))
	_, err = m.Authenticate(ctx, challengeID, sig)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignature)
}

func TestAuthenticateChallengeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(challengeID))

	_, err = m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, challengeID, sig)
	assert.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestAuthenticateExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver, WithChallengeTTL(time.Millisecond))

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	sig := ed25519.Sign(priv, []byte(challengeID))
	_, err = m.Authenticate(ctx, challengeID, sig)
	assert.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestAuthenticateRevokedUser(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	resolver.revoked["alice"] = true
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(challengeID))

	_, err = m.Authenticate(ctx, challengeID, sig)
	assert.ErrorIs(t, err, apperrors.ErrUserRevoked)
}

func TestValidateTokenUnknown(t *testing.T) {
	m := NewManager(newFakeResolver())
	_, err := m.ValidateToken("no-such-token")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver, WithSessionTTL(time.Millisecond))

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(challengeID))
	token, err := m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestSessionTokenReusableUntilExpiry(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(challengeID))
	token, err := m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		username, err := m.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", username)
	}
}

func TestRevokeInvalidatesSessionImmediately(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(challengeID))
	token, err := m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)

	m.Revoke(token)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver, WithRateLimit(0.001, 1))

	_, err = m.Challenge(ctx, "alice")
	require.NoError(t, err)

	_, err = m.Challenge(ctx, "alice")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSignChallengeMatchesAuthenticate(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver := newFakeResolver()
	resolver.keys["alice"] = pub
	m := NewManager(resolver)

	challengeID, err := m.Challenge(ctx, "alice")
	require.NoError(t, err)

	sigB64 := SignChallenge(priv, challengeID)
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, challengeID, sig)
	require.NoError(t, err)
}
