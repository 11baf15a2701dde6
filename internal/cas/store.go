// Package cas implements the content-addressed, append-only store that
// backs every document and attachment in the system: put/get by id,
// existence checks, cursor-based scans, dependency resolution, a bloom
// summary for compact sync diffing, and history compaction.
package cas

import (
	"context"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/entry"
)

// Metadata is the subset of an entry's fields exposed by listing
// operations that should not force callers to pay for ciphertext transfer
// when only identity and ordering are needed.
type Metadata struct {
	ID            string
	EntryType     entry.Type
	DocID         string
	DependencyIDs []string
	CreatedAt     time.Time
}

func metadataOf(e *entry.Entry) Metadata {
	return Metadata{
		ID:            e.ID,
		EntryType:     e.EntryType,
		DocID:         e.DocID,
		DependencyIDs: e.DependencyIDs,
		CreatedAt:     e.CreatedAt,
	}
}

// ResolveOptions configures dependency resolution.
type ResolveOptions struct {
	// StopAtEntryType halts descent when an entry of this type is
	// encountered, inclusive of that entry in the output.
	StopAtEntryType entry.Type
}

// FindFilter narrows findEntries/scanEntriesSince to entries of a given
// type and/or an inclusive [FromTs, ToTs] creation window. A zero field
// means unconstrained.
type FindFilter struct {
	EntryType entry.Type
	FromTs    time.Time
	ToTs      time.Time
}

// BloomSummary is a compact probabilistic digest of GetAllIds. The sync
// engine does not use it; it exchanges exact id sets.
type BloomSummary struct {
	Version     int
	TotalIDs    int
	BitsetBase64 string
}

// Store is the content-addressed store contract shared by every backend
// (in-memory, bbolt-backed "file" store). Implementations are internally
// thread-safe: PutEntries is atomic per call, readers observe either all or
// none of a batch, and index updates take an internal write lock while
// readers take a shared lock.
type Store interface {
	PutEntries(ctx context.Context, entries []*entry.Entry) error
	GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error)
	HasEntries(ctx context.Context, ids []string) (map[string]bool, error)
	GetAllIDs(ctx context.Context) ([]string, error)

	FindNewEntries(ctx context.Context, have map[string]bool) ([]Metadata, error)
	FindNewEntriesForDoc(ctx context.Context, have map[string]bool, docID string) ([]Metadata, error)
	FindEntries(ctx context.Context, filter FindFilter) ([]Metadata, error)

	ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *FindFilter) (entries []*entry.Entry, nextCursor string, hasMore bool, err error)

	ResolveDependencies(ctx context.Context, startID string, opts ResolveOptions) ([]string, error)

	PurgeDocHistory(ctx context.Context, docID string) error

	GetIDBloomSummary(ctx context.Context) (BloomSummary, error)

	GetAttachmentChunk(ctx context.Context, chunkID string) ([]byte, error)

	Close() error
}
