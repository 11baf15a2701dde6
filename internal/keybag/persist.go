package keybag

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

// Save serializes and password-wraps the entire bag: header
// salt(16) || iv(12) || ciphertext || tag(16), key derived via PBKDF2 from
// (password, salt). Tombstoned names are not persisted.
func (b *Bag) Save(password string) ([]byte, error) {
	plaintext := b.encodeBag()

	salt := make([]byte, vaultcrypto.PBKDF2SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, apperrors.Wrap(err, "generate save salt")
	}

	derived := vaultcrypto.DeriveKeyFromPassword(password, salt)
	aead, err := vaultcrypto.NewAEAD(derived, vaultcrypto.AESGCM)
	if err != nil {
		return nil, err
	}

	ciphertext, iv, err := aead.Encrypt(plaintext, nil)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(salt)+len(iv)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Load decrypts and replaces the bag's contents from a blob produced by
// Save. Fails if the blob is shorter than the minimum header size or the
// AEAD tag does not verify.
func Load(data []byte, password string) (*Bag, error) {
	if len(data) < minExportBlobSize {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "key bag blob too short")
	}

	salt := data[:16]
	iv := data[16:28]
	ciphertext := data[28:]

	derived := vaultcrypto.DeriveKeyFromPassword(password, salt)
	aead, err := vaultcrypto.NewAEAD(derived, vaultcrypto.AESGCM)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Decrypt(ciphertext, iv, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "wrong password or corrupted key bag")
	}

	return decodeBag(plaintext)
}

// encodeBag produces the canonical serialization of
// [(scope, keyId, version_bytes, createdAt?)], one record per version,
// length-prefixed throughout.
func (b *Bag) encodeBag() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []byte
	names := make([]string, 0, len(b.entries))
	for k := range b.entries {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		e := b.entries[name]
		if e.tombstone {
			continue
		}
		for _, v := range sortedVersions(e.versions) {
			out = appendLP(out, []byte(e.scope))
			out = appendLP(out, []byte(e.keyID))
			out = appendLP(out, v.bytes)
			if v.createdAt != nil {
				out = append(out, 1)
				out = binary.BigEndian.AppendUint64(out, uint64(v.createdAt.UnixNano()))
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

func decodeBag(data []byte) (*Bag, error) {
	bag := New()

	for len(data) > 0 {
		scopeBytes, rest, err := readLP(data)
		if err != nil {
			return nil, err
		}
		keyIDBytes, rest2, err := readLP(rest)
		if err != nil {
			return nil, err
		}
		keyBytes, rest3, err := readLP(rest2)
		if err != nil {
			return nil, err
		}
		if len(rest3) < 1 {
			return nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated key bag record")
		}
		hasTimestamp := rest3[0] == 1
		rest3 = rest3[1:]

		var createdAt *time.Time
		if hasTimestamp {
			if len(rest3) < 8 {
				return nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated key bag timestamp")
			}
			nanos := int64(binary.BigEndian.Uint64(rest3[:8]))
			t := time.Unix(0, nanos).UTC()
			createdAt = &t
			rest3 = rest3[8:]
		}

		if err := bag.Set(Scope(scopeBytes), string(keyIDBytes), keyBytes, createdAt); err != nil {
			return nil, err
		}

		data = rest3
	}

	return bag, nil
}

func appendLP(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

func readLP(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "truncated field")
	}
	return data[:n], data[n:], nil
}
