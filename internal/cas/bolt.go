package cas

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/entry"
)

var bucketEntries = []byte("entries")

// boltEntry is the on-disk encoding of an entry.Entry. The in-memory
// vaultcrypto types (ed25519.PublicKey, [32]byte) need explicit JSON shapes.
type boltEntry struct {
	ID                 string
	EntryType          entry.Type
	DocID              string
	DependencyIDs      []string
	CreatedAtUnixNano  int64
	CreatedByPublicKey []byte
	DecryptionKeyID    string
	Signature          []byte
	OriginalSize       int64
	EncryptedSize      int64
	ContentHash        []byte
	EncryptedData      []byte
	Nonce              []byte
}

// BoltStore is the "file" backend named by open question 3: a
// bbolt-embedded KV file for durability, with the same in-memory indices
// MemoryStore uses rebuilt from the bucket on open so that reads stay O(1)
// without re-deserializing from disk on every lookup.
type BoltStore struct {
	db  *bolt.DB
	mem *MemoryStore
}

// NewBoltStore opens (creating if absent) a bbolt database file under
// dataDir and replays its entries bucket into a fresh in-memory index.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vaultmesh-cas.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "open cas database file")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, "create entries bucket")
	}

	mem := NewMemoryStore()

	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(_, v []byte) error {
			e, err := decodeBoltEntry(v)
			if err != nil {
				return err
			}
			mem.putOne(e)
			return nil
		})
	}); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, "replay cas entries")
	}

	return &BoltStore{db: db, mem: mem}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutEntries persists entries to bbolt first, then updates the in-memory
// index, so a crash between the two leaves disk and memory divergent in a
// recoverable direction (replay on next open wins).
func (s *BoltStore) PutEntries(ctx context.Context, entries []*entry.Entry) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrCancelled, "put entries")
	}

	s.mem.mu.Lock()
	for _, e := range entries {
		for _, dep := range e.DependencyIDs {
			if _, ok := s.mem.byID[dep]; ok {
				continue
			}
			found := false
			for _, other := range entries {
				if other.ID == dep {
					found = true
					break
				}
			}
			if !found {
				s.mem.mu.Unlock()
				return apperrors.Wrapf(apperrors.ErrDependencyMissing, "entry %s depends on unseen id %s", e.ID, dep)
			}
		}
	}
	s.mem.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, e := range entries {
			data, err := encodeBoltEntry(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, "persist entries")
	}

	s.mem.mu.Lock()
	for _, e := range entries {
		s.mem.putOne(e)
	}
	s.mem.bloomCacheValid = false
	s.mem.mu.Unlock()

	return nil
}

func (s *BoltStore) GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error) {
	return s.mem.GetEntries(ctx, ids)
}

func (s *BoltStore) HasEntries(ctx context.Context, ids []string) (map[string]bool, error) {
	return s.mem.HasEntries(ctx, ids)
}

func (s *BoltStore) GetAllIDs(ctx context.Context) ([]string, error) {
	return s.mem.GetAllIDs(ctx)
}

func (s *BoltStore) FindNewEntries(ctx context.Context, have map[string]bool) ([]Metadata, error) {
	return s.mem.FindNewEntries(ctx, have)
}

func (s *BoltStore) FindNewEntriesForDoc(ctx context.Context, have map[string]bool, docID string) ([]Metadata, error) {
	return s.mem.FindNewEntriesForDoc(ctx, have, docID)
}

func (s *BoltStore) FindEntries(ctx context.Context, filter FindFilter) ([]Metadata, error) {
	return s.mem.FindEntries(ctx, filter)
}

func (s *BoltStore) ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *FindFilter) ([]*entry.Entry, string, bool, error) {
	return s.mem.ScanEntriesSince(ctx, cursor, limit, filter)
}

func (s *BoltStore) ResolveDependencies(ctx context.Context, startID string, opts ResolveOptions) ([]string, error) {
	return s.mem.ResolveDependencies(ctx, startID, opts)
}

func (s *BoltStore) PurgeDocHistory(ctx context.Context, docID string) error {
	s.mem.mu.RLock()
	ids := append([]string(nil), s.mem.byDoc[docID]...)
	s.mem.mu.RUnlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return apperrors.Wrap(err, "purge doc history from disk")
	}

	return s.mem.PurgeDocHistory(ctx, docID)
}

func (s *BoltStore) GetIDBloomSummary(ctx context.Context) (BloomSummary, error) {
	return s.mem.GetIDBloomSummary(ctx)
}

func (s *BoltStore) GetAttachmentChunk(ctx context.Context, chunkID string) ([]byte, error) {
	return s.mem.GetAttachmentChunk(ctx, chunkID)
}

func encodeBoltEntry(e *entry.Entry) ([]byte, error) {
	be := boltEntry{
		ID:                 e.ID,
		EntryType:          e.EntryType,
		DocID:              e.DocID,
		DependencyIDs:      e.DependencyIDs,
		CreatedAtUnixNano:  e.CreatedAt.UnixNano(),
		CreatedByPublicKey: e.CreatedByPublicKey,
		DecryptionKeyID:    e.DecryptionKeyID,
		Signature:          e.Signature,
		OriginalSize:       e.OriginalSize,
		EncryptedSize:      e.EncryptedSize,
		ContentHash:        e.ContentHash[:],
		EncryptedData:      e.EncryptedData,
		Nonce:              e.Nonce,
	}
	data, err := json.Marshal(be)
	if err != nil {
		return nil, apperrors.Wrap(err, "marshal entry")
	}
	return data, nil
}

func decodeBoltEntry(data []byte) (*entry.Entry, error) {
	var be boltEntry
	if err := json.Unmarshal(data, &be); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "unmarshal stored entry")
	}

	var hash [32]byte
	copy(hash[:], be.ContentHash)

	return &entry.Entry{
		ID:                 be.ID,
		EntryType:          be.EntryType,
		DocID:              be.DocID,
		DependencyIDs:      be.DependencyIDs,
		CreatedAt:          time.Unix(0, be.CreatedAtUnixNano).UTC(),
		CreatedByPublicKey: ed25519.PublicKey(be.CreatedByPublicKey),
		DecryptionKeyID:    be.DecryptionKeyID,
		Signature:          be.Signature,
		OriginalSize:       be.OriginalSize,
		EncryptedSize:      be.EncryptedSize,
		ContentHash:        hash,
		EncryptedData:      be.EncryptedData,
		Nonce:              be.Nonce,
	}, nil
}
