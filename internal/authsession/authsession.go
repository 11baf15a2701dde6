// Package authsession implements the challenge/response handshake and
// bearer-session bookkeeping used to authenticate a sync client against a
// tenant: issue an opaque challenge for a username, verify an Ed25519
// signature over it against the directory's trusted key set, and hand back
// a reusable session token.
package authsession

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// Default expiries per the server-side auth handshake: a challenge answered
// after DefaultChallengeTTL is rejected as expired; a session token is
// reusable for DefaultSessionTTL from issuance.
const (
	DefaultChallengeTTL = 10 * time.Minute
	DefaultSessionTTL   = 15 * time.Minute

	// opaqueIDBytes yields a 256-bit identifier, comfortably above the
	// spec's 128-bit minimum for challenge and session ids.
	opaqueIDBytes = 32
)

// KeyResolver maps a username to the Ed25519 public key the tenant's
// directory currently has on file for them, and reports whether that key is
// presently trusted. Implementations typically wrap internal/tenantregistry
// (username → public key) and internal/directory (trust state).
type KeyResolver interface {
	ResolveKey(ctx context.Context, username string) (ed25519.PublicKey, error)
	IsTrusted(ctx context.Context, pub ed25519.PublicKey, at time.Time) (bool, error)
}

type challengeState struct {
	username  string
	pub       ed25519.PublicKey
	expiresAt time.Time
}

type sessionState struct {
	username  string
	expiresAt time.Time
}

// Manager holds the per-tenant auth state: outstanding challenges, live
// session tokens, and a per-username rate limiter guarding both. One Manager
// serves one tenant.
type Manager struct {
	resolver     KeyResolver
	challengeTTL time.Duration
	sessionTTL   time.Duration

	mu         sync.Mutex
	challenges map[string]*challengeState
	sessions   map[string]*sessionState

	limiters *rateLimiterStore
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithChallengeTTL overrides DefaultChallengeTTL.
func WithChallengeTTL(d time.Duration) Option {
	return func(m *Manager) { m.challengeTTL = d }
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(d time.Duration) Option {
	return func(m *Manager) { m.sessionTTL = d }
}

// WithRateLimit caps challenge/authenticate attempts per username to rps
// requests per second with the given burst, rejecting the rest with
// apperrors.ErrUnauthorized. Disabled (unlimited) unless supplied.
func WithRateLimit(rps float64, burst int) Option {
	return func(m *Manager) { m.limiters = newRateLimiterStore(rps, burst) }
}

// NewManager constructs a Manager backed by resolver.
func NewManager(resolver KeyResolver, opts ...Option) *Manager {
	m := &Manager{
		resolver:     resolver,
		challengeTTL: DefaultChallengeTTL,
		sessionTTL:   DefaultSessionTTL,
		challenges:   make(map[string]*challengeState),
		sessions:     make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Challenge issues a fresh opaque challenge id for username. The directory
// lookup happens now (not at Authenticate time) so an unknown username is
// rejected immediately, matching the wire protocol's 404 UserNotFound.
func (m *Manager) Challenge(ctx context.Context, username string) (string, error) {
	if m.limiters != nil && !m.limiters.allow(username) {
		return "", apperrors.ErrUnauthorized
	}

	pub, err := m.resolver.ResolveKey(ctx, username)
	if err != nil {
		return "", err
	}

	id, err := newOpaqueID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.challenges[id] = &challengeState{
		username:  username,
		pub:       pub,
		expiresAt: time.Now().Add(m.challengeTTL),
	}
	m.mu.Unlock()
	return id, nil
}

// Authenticate consumes challengeID (single-use, regardless of outcome) and
// verifies signature as an Ed25519 signature over the challenge id bytes by
// the key the directory had on file when the challenge was issued. On
// success it returns a fresh bearer session token.
func (m *Manager) Authenticate(ctx context.Context, challengeID string, signature []byte) (string, error) {
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if ok {
		delete(m.challenges, challengeID)
	}
	m.mu.Unlock()

	if !ok {
		return "", apperrors.ErrChallengeExpired
	}
	if m.limiters != nil && !m.limiters.allow(ch.username) {
		return "", apperrors.ErrUnauthorized
	}
	if time.Now().After(ch.expiresAt) {
		return "", apperrors.ErrChallengeExpired
	}

	trusted, err := m.resolver.IsTrusted(ctx, ch.pub, time.Now())
	if err != nil {
		return "", err
	}
	if !trusted {
		return "", apperrors.ErrUserRevoked
	}

	if !ed25519.Verify(ch.pub, []byte(challengeID), signature) {
		return "", apperrors.ErrInvalidSignature
	}

	token, err := newOpaqueID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[token] = &sessionState{
		username:  ch.username,
		expiresAt: time.Now().Add(m.sessionTTL),
	}
	m.mu.Unlock()
	return token, nil
}

// ValidateToken reports the username a live session token was issued for.
// Session tokens are reusable until expiry; an expired or unknown token is
// reported as ErrInvalidToken without distinguishing the two, so a caller
// cannot use expiry timing to enumerate valid-but-stale tokens.
func (m *Manager) ValidateToken(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok {
		return "", apperrors.ErrInvalidToken
	}
	if time.Now().After(sess.expiresAt) {
		delete(m.sessions, token)
		return "", apperrors.ErrInvalidToken
	}
	return sess.username, nil
}

// Revoke invalidates a session token immediately, independent of its expiry.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// SignChallenge is a convenience for clients: sign a challenge id with priv
// and base64-encode the result the way the wire protocol expects it.
func SignChallenge(priv ed25519.PrivateKey, challengeID string) string {
	sig := ed25519.Sign(priv, []byte(challengeID))
	return base64.StdEncoding.EncodeToString(sig)
}

func newOpaqueID() (string, error) {
	b := make([]byte, opaqueIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", apperrors.Wrap(err, "generating opaque id")
	}
	return hex.EncodeToString(b), nil
}

// rateLimiterStore holds one token-bucket limiter per username, cleaned up
// lazily so a long-lived tenant doesn't accumulate one entry per username
// forever after it goes quiet.
type rateLimiterStore struct {
	mu    sync.Mutex
	rps   float64
	burst int
	byKey map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	return &rateLimiterStore{rps: rps, burst: burst, byKey: make(map[string]*limiterEntry)}
}

func (s *rateLimiterStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictStale()

	entry, ok := s.byKey[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.byKey[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

// evictStale drops limiters idle for over an hour. Called with mu held.
func (s *rateLimiterStore) evictStale() {
	threshold := time.Now().Add(-time.Hour)
	for key, entry := range s.byKey {
		if entry.lastAccess.Before(threshold) {
			delete(s.byKey, key)
		}
	}
}
