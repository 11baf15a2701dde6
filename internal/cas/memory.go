package cas

import (
	"context"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/entry"
)

type contentRef struct {
	ciphertext []byte
	refcount   int
}

// MemoryStore is an in-memory Store implementation, the default backend for
// ephemeral sessions and tests. It is internally thread-safe.
type MemoryStore struct {
	mu sync.RWMutex

	byID          map[string]*entry.Entry
	byDoc         map[string][]string
	byType        map[entry.Type][]string
	byContentHash map[[32]byte]*contentRef
	reverseDeps   map[string][]string

	order []string // ids sorted by (CreatedAt, ID) ascending

	bloomCache      *BloomSummary
	bloomCacheValid bool
	bloomVersion    int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*entry.Entry),
		byDoc:         make(map[string][]string),
		byType:        make(map[entry.Type][]string),
		byContentHash: make(map[[32]byte]*contentRef),
		reverseDeps:   make(map[string][]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

// PutEntries inserts entries idempotently by id. Ciphertext is deduplicated
// by content hash. An entry whose dependency ids are not yet present is
// rejected: ids are content-derived, so a retroactive cycle is impossible
// and this enforces the DAG invariant at write time.
func (s *MemoryStore) PutEntries(ctx context.Context, entries []*entry.Entry) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrCancelled, "put entries")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*entry.Entry, len(entries))
	for _, e := range entries {
		staged[e.ID] = e
	}

	for _, e := range entries {
		for _, dep := range e.DependencyIDs {
			if _, ok := s.byID[dep]; ok {
				continue
			}
			if _, ok := staged[dep]; ok {
				continue
			}
			return apperrors.Wrapf(apperrors.ErrDependencyMissing, "entry %s depends on unseen id %s", e.ID, dep)
		}
	}

	for _, e := range entries {
		s.putOne(e)
	}

	s.bloomCacheValid = false
	return nil
}

func (s *MemoryStore) putOne(e *entry.Entry) {
	if _, exists := s.byID[e.ID]; exists {
		return
	}

	s.byID[e.ID] = e
	s.byDoc[e.DocID] = append(s.byDoc[e.DocID], e.ID)
	s.byType[e.EntryType] = append(s.byType[e.EntryType], e.ID)

	if ref, ok := s.byContentHash[e.ContentHash]; ok {
		ref.refcount++
	} else {
		s.byContentHash[e.ContentHash] = &contentRef{ciphertext: e.EncryptedData, refcount: 1}
	}

	for _, dep := range e.DependencyIDs {
		s.reverseDeps[dep] = append(s.reverseDeps[dep], e.ID)
	}

	idx := sort.Search(len(s.order), func(i int) bool {
		other := s.byID[s.order[i]]
		return orderKey(other).After(orderKey(e)) || (orderKey(other).Equal(orderKey(e)) && s.order[i] > e.ID)
	})
	s.order = append(s.order, "")
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = e.ID
}

func orderKey(e *entry.Entry) time.Time { return e.CreatedAt }

func (s *MemoryStore) GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) HasEntries(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) FindNewEntries(ctx context.Context, have map[string]bool) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metadata
	for id, e := range s.byID {
		if !have[id] {
			out = append(out, metadataOf(e))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindNewEntriesForDoc(ctx context.Context, have map[string]bool, docID string) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metadata
	for _, id := range s.byDoc[docID] {
		if !have[id] {
			out = append(out, metadataOf(s.byID[id]))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindEntries(ctx context.Context, filter FindFilter) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []string
	if filter.EntryType != "" {
		candidates = s.byType[filter.EntryType]
	} else {
		candidates = make([]string, 0, len(s.byID))
		for id := range s.byID {
			candidates = append(candidates, id)
		}
	}

	var out []Metadata
	for _, id := range candidates {
		e := s.byID[id]
		if !filter.FromTs.IsZero() && e.CreatedAt.Before(filter.FromTs) {
			continue
		}
		if !filter.ToTs.IsZero() && e.CreatedAt.After(filter.ToTs) {
			continue
		}
		out = append(out, metadataOf(e))
	}
	return out, nil
}

// ScanEntriesSince walks the store in (createdAt, id) ascending order,
// starting just after cursor (empty cursor means from the beginning).
func (s *MemoryStore) ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *FindFilter) ([]*entry.Entry, string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	startIdx := 0
	if cursor != "" {
		idx, err := decodeCursor(cursor, s.order)
		if err != nil {
			return nil, "", false, err
		}
		startIdx = idx + 1
	}

	var out []*entry.Entry
	i := startIdx
	for ; i < len(s.order) && len(out) < limit; i++ {
		e := s.byID[s.order[i]]
		if filter != nil {
			if filter.EntryType != "" && e.EntryType != filter.EntryType {
				continue
			}
			if !filter.FromTs.IsZero() && e.CreatedAt.Before(filter.FromTs) {
				continue
			}
			if !filter.ToTs.IsZero() && e.CreatedAt.After(filter.ToTs) {
				continue
			}
		}
		out = append(out, e)
	}

	hasMore := i < len(s.order)
	nextCursor := cursor
	if len(out) > 0 {
		lastID := out[len(out)-1].ID
		nextCursor = encodeCursor(lastID)
	}
	return out, nextCursor, hasMore, nil
}

func (s *MemoryStore) ResolveDependencies(ctx context.Context, startID string, opts ResolveOptions) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := make(map[string]bool)
	var out []string

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		e, ok := s.byID[id]
		if !ok {
			return apperrors.Wrapf(apperrors.ErrDependencyMissing, "dependency %s not found", id)
		}

		if opts.StopAtEntryType != "" && e.EntryType == opts.StopAtEntryType {
			out = append(out, id)
			return nil
		}

		for _, dep := range e.DependencyIDs {
			if err := visit(dep); err != nil {
				return err
			}
		}
		out = append(out, id)
		return nil
	}

	if err := visit(startID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) PurgeDocHistory(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byDoc[docID]
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	for _, id := range ids {
		e := s.byID[id]
		if ref, ok := s.byContentHash[e.ContentHash]; ok {
			ref.refcount--
			if ref.refcount <= 0 {
				delete(s.byContentHash, e.ContentHash)
			}
		}
		delete(s.byID, id)
		delete(s.reverseDeps, id)

		typeIDs := s.byType[e.EntryType]
		s.byType[e.EntryType] = removeFromSlice(typeIDs, id)
	}
	delete(s.byDoc, docID)

	newOrder := s.order[:0:0]
	for _, id := range s.order {
		if !idSet[id] {
			newOrder = append(newOrder, id)
		}
	}
	s.order = newOrder
	s.bloomCacheValid = false

	return nil
}

func (s *MemoryStore) GetIDBloomSummary(ctx context.Context) (BloomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bloomCacheValid && s.bloomCache != nil {
		return *s.bloomCache, nil
	}

	filter := newBloomFilter(len(s.byID))
	for id := range s.byID {
		filter.add(id)
	}

	s.bloomVersion++
	summary := BloomSummary{
		Version:      s.bloomVersion,
		TotalIDs:     len(s.byID),
		BitsetBase64: filter.toBase64(),
	}
	s.bloomCache = &summary
	s.bloomCacheValid = true
	return summary, nil
}

func (s *MemoryStore) GetAttachmentChunk(ctx context.Context, chunkID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[chunkID]
	if !ok || e.EntryType != entry.TypeAttachmentChunk {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "attachment chunk %s", chunkID)
	}
	return e.EncryptedData, nil
}

func removeFromSlice(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func encodeCursor(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string, order []string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed cursor")
	}
	id := string(raw)
	for i, oid := range order {
		if oid == id {
			return i, nil
		}
	}
	return -1, apperrors.Wrap(apperrors.ErrInvalidInput, "cursor references unknown entry")
}
