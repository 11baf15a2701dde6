// Package keybag implements the per-session store of named symmetric keys
// that the entry codec and document facade use to encrypt and decrypt
// entry payloads. Keys are scoped to either a single document or an entire
// tenant, and each name carries a version history so documents can be
// re-keyed without rewriting already-stored entries.
package keybag

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

// Scope distinguishes keys that belong to a single document from keys
// shared across an entire tenant.
type Scope string

const (
	ScopeDoc    Scope = "doc"
	ScopeTenant Scope = "tenant"
)

// minExportBlobSize is the smallest a password-wrapped blob can legally be:
// salt(16) + iv(12) + tag(16), with zero bytes of ciphertext.
const minExportBlobSize = 16 + 12 + 16

type version struct {
	bytes     []byte
	createdAt *time.Time
	seq       int
}

type entry struct {
	scope     Scope
	keyID     string
	tombstone bool
	versions  []version
}

func keyOf(scope Scope, keyID string) string {
	return string(scope) + ":" + keyID
}

// Bag is an in-memory, thread-safe store of named symmetric keys with
// version history. It is owned by a single session and is never shared
// across users.
type Bag struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq int
}

// New returns an empty key bag.
func New() *Bag {
	return &Bag{entries: make(map[string]*entry)}
}

// Set appends a new version of (scope, keyID). createdAt is optional; when
// nil, ordering among untimestamped versions falls back to insertion order.
func (b *Bag) Set(scope Scope, keyID string, key []byte, createdAt *time.Time) error {
	if len(key) != vaultcrypto.KeySize {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "key must be 32 bytes")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[keyOf(scope, keyID)]
	if !ok {
		e = &entry{scope: scope, keyID: keyID}
		b.entries[keyOf(scope, keyID)] = e
	}
	e.tombstone = false

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	b.nextSeq++
	e.versions = append(e.versions, version{bytes: keyCopy, createdAt: createdAt, seq: b.nextSeq})
	return nil
}

// Get returns the newest version of (scope, keyID), or false if absent or
// tombstoned.
func (b *Bag) Get(scope Scope, keyID string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[keyOf(scope, keyID)]
	if !ok || e.tombstone || len(e.versions) == 0 {
		return nil, false
	}
	versions := sortedVersions(e.versions)
	newest := versions[0]
	out := make([]byte, len(newest.bytes))
	copy(out, newest.bytes)
	return out, true
}

// GetAllKeys returns every version of (scope, keyID), newest first.
func (b *Bag) GetAllKeys(scope Scope, keyID string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[keyOf(scope, keyID)]
	if !ok || e.tombstone {
		return nil
	}
	versions := sortedVersions(e.versions)
	out := make([][]byte, len(versions))
	for i, v := range versions {
		cp := make([]byte, len(v.bytes))
		copy(cp, v.bytes)
		out[i] = cp
	}
	return out
}

// sortedVersions returns versions newest-first: timestamped versions sort
// by createdAt descending; untimestamped versions sort after all
// timestamped ones, in reverse insertion order.
func sortedVersions(versions []version) []version {
	out := make([]version, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i], out[j]
		if vi.createdAt != nil && vj.createdAt != nil {
			return vi.createdAt.After(*vj.createdAt)
		}
		if vi.createdAt != nil {
			return true
		}
		if vj.createdAt != nil {
			return false
		}
		return vi.seq > vj.seq
	})
	return out
}

// CreateDocKey generates a fresh 32-byte key, stores it under the doc scope
// with the current time as createdAt, and returns the key bytes.
func (b *Bag) CreateDocKey(keyID string) ([]byte, error) {
	return b.createKey(ScopeDoc, keyID)
}

// CreateTenantKey generates a fresh 32-byte key, stores it under the tenant
// scope, and returns the key bytes.
func (b *Bag) CreateTenantKey(keyID string) ([]byte, error) {
	return b.createKey(ScopeTenant, keyID)
}

func (b *Bag) createKey(scope Scope, keyID string) ([]byte, error) {
	key, err := vaultcrypto.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := b.Set(scope, keyID, key, &now); err != nil {
		return nil, err
	}
	return key, nil
}

// DeleteKey tombstones (scope, keyID): subsequent Get/GetAllKeys calls
// report it absent, but ListKeys still records that the name once existed.
func (b *Bag) DeleteKey(scope Scope, keyID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[keyOf(scope, keyID)]
	if !ok {
		return
	}
	e.tombstone = true
	e.versions = nil
}

// ListKeys returns every non-tombstoned "scope:keyId" name currently held.
func (b *Bag) ListKeys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.entries))
	for k, e := range b.entries {
		if !e.tombstone {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// EncryptAndExportKey password-wraps the newest version of (scope, keyID)
// for out-of-band transfer. The salt is derived deterministically from
// keyID (SHA-256 truncated to 16 bytes) rather than randomly generated, so
// that re-exporting the same key with the same password is reproducible;
// the IV remains random per export.
func (b *Bag) EncryptAndExportKey(scope Scope, keyID, password string) ([]byte, error) {
	key, ok := b.Get(scope, keyID)
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "key %s:%s", scope, keyID)
	}

	salt := saltFromKeyID(keyID)
	derived := vaultcrypto.DeriveKeyFromPassword(password, salt)

	aead, err := vaultcrypto.NewAEAD(derived, vaultcrypto.AESGCM)
	if err != nil {
		return nil, err
	}

	plaintext := encodeSingleKeyPlaintext(key, b.createdAtOf(scope, keyID))
	ciphertext, iv, err := aead.Encrypt(plaintext, nil)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(salt)+len(iv)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

func (b *Bag) createdAtOf(scope Scope, keyID string) *time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[keyOf(scope, keyID)]
	if !ok || len(e.versions) == 0 {
		return nil
	}
	return sortedVersions(e.versions)[0].createdAt
}

// DecryptAndImportKey reverses EncryptAndExportKey, preserving the
// exported createdAt timestamp.
func (b *Bag) DecryptAndImportKey(scope Scope, keyID string, blob []byte, password string) error {
	if len(blob) < minExportBlobSize {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "export blob too short")
	}

	salt := blob[:16]
	iv := blob[16:28]
	ciphertext := blob[28:]

	derived := vaultcrypto.DeriveKeyFromPassword(password, salt)
	aead, err := vaultcrypto.NewAEAD(derived, vaultcrypto.AESGCM)
	if err != nil {
		return err
	}

	plaintext, err := aead.Decrypt(ciphertext, iv, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCorruption, "wrong password or corrupted key export")
	}

	key, createdAt, err := decodeSingleKeyPlaintext(plaintext)
	if err != nil {
		return err
	}

	return b.Set(scope, keyID, key, createdAt)
}

func saltFromKeyID(keyID string) []byte {
	sum := sha256.Sum256([]byte(keyID))
	return sum[:16]
}

func encodeSingleKeyPlaintext(key []byte, createdAt *time.Time) []byte {
	out := make([]byte, 0, 1+8+len(key))
	if createdAt != nil {
		out = append(out, 1)
		out = binary.BigEndian.AppendUint64(out, uint64(createdAt.UnixNano()))
	} else {
		out = append(out, 0)
	}
	out = append(out, key...)
	return out
}

func decodeSingleKeyPlaintext(data []byte) ([]byte, *time.Time, error) {
	if len(data) < 1 {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated key export plaintext")
	}
	hasTimestamp := data[0] == 1
	offset := 1
	var createdAt *time.Time
	if hasTimestamp {
		if len(data) < offset+8 {
			return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated key export timestamp")
		}
		nanos := int64(binary.BigEndian.Uint64(data[offset : offset+8]))
		t := time.Unix(0, nanos).UTC()
		createdAt = &t
		offset += 8
	}
	key := data[offset:]
	if len(key) != vaultcrypto.KeySize {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "invalid key length in export plaintext")
	}
	return key, createdAt, nil
}
