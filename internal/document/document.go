// Package document implements the assembler: folding an unordered batch of
// entries sharing a docId into a materialized Document via Kahn's
// topological sort and a pluggable CRDT merger, plus time-travel and
// cursor-resumable change iteration.
package document

import (
	"context"
	"crypto/ed25519"
	"sort"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
)

// AttachmentRef describes a manifest known to a document at assembly time.
type AttachmentRef struct {
	AttachmentID string
	ChunkIDs     []string
	Size         int64
	MimeType     string
	Filename     string
}

// Document is the materialized, ephemeral view reconstructed from a
// document's entry chain. It is never persisted as a single object.
type Document struct {
	ID           string
	CreatedAt    time.Time
	LastModified time.Time
	IsDeleted    bool
	Data         merger.State
	Attachments  []AttachmentRef

	// FrontierIDs are the ids of entries with no dependent yet applied,
	// i.e. the current heads of the DAG. changeDoc uses these as the
	// dependencyIds of the next doc_change entry.
	FrontierIDs []string
}

// HistoryStep is one entry's effect during iterateDocumentHistory.
type HistoryStep struct {
	Document           Document
	ChangeCreatedAt     time.Time
	ChangeCreatedByKey ed25519.PublicKey
}

// Assembler folds entry batches into documents using a Store for lookups
// and dependency traversal, a KeyBag for decryption, and a Merger for
// doc_change application.
type Assembler struct {
	store  cas.Store
	keys   *keybag.Bag
	merger merger.Merger
}

// New constructs an Assembler.
func New(store cas.Store, keys *keybag.Bag, m merger.Merger) *Assembler {
	return &Assembler{store: store, keys: keys, merger: m}
}

// Merger returns the CRDT merger this assembler was constructed with, so
// callers building on top of it (the docdb facade) can diff and serialize
// state with the same implementation used for folding.
func (a *Assembler) Merger() merger.Merger {
	return a.merger
}

// Assemble builds the current document state for docID from every entry in
// the store belonging to it.
func (a *Assembler) Assemble(ctx context.Context, docID string) (*Document, error) {
	return a.assembleUpTo(ctx, docID, time.Time{})
}

// AssembleAtTimestamp builds the document state as of t: only entries with
// createdAt <= t are folded in.
func (a *Assembler) AssembleAtTimestamp(ctx context.Context, docID string, t time.Time) (*Document, error) {
	return a.assembleUpTo(ctx, docID, t)
}

func (a *Assembler) assembleUpTo(ctx context.Context, docID string, cutoff time.Time) (*Document, error) {
	entries, err := a.entriesForDoc(ctx, docID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "document %s", docID)
	}

	ordered, err := topologicalSort(entries)
	if err != nil {
		return nil, err
	}

	doc, _, err := a.fold(ordered)
	return doc, err
}

func (a *Assembler) entriesForDoc(ctx context.Context, docID string, cutoff time.Time) ([]*entry.Entry, error) {
	allIDs, err := a.store.FindNewEntriesForDoc(ctx, map[string]bool{}, docID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(allIDs))
	for _, m := range allIDs {
		if !cutoff.IsZero() && m.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return a.store.GetEntries(ctx, ids)
}

// topologicalSort performs Kahn's algorithm over the batch's dependency
// edges, restricted to dependencies present in the batch itself, breaking
// ties by (createdAt, id).
func topologicalSort(entries []*entry.Entry) ([]*entry.Entry, error) {
	byID := make(map[string]*entry.Entry, len(entries))
	inDegree := make(map[string]int, len(entries))
	dependents := make(map[string][]string, len(entries))

	for _, e := range entries {
		byID[e.ID] = e
		if _, ok := inDegree[e.ID]; !ok {
			inDegree[e.ID] = 0
		}
	}
	for _, e := range entries {
		for _, dep := range e.DependencyIDs {
			if _, ok := byID[dep]; !ok {
				continue // dependency outside this batch; already applied
			}
			inDegree[e.ID]++
			dependents[dep] = append(dependents[dep], e.ID)
		}
	}

	var frontier []*entry.Entry
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, byID[id])
		}
	}
	sortFrontier(frontier)

	var out []*entry.Entry
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		out = append(out, next)

		var newlyReady []*entry.Entry
		for _, depID := range dependents[next.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				newlyReady = append(newlyReady, byID[depID])
			}
		}
		sortFrontier(newlyReady)
		frontier = mergeSortedFrontiers(frontier, newlyReady)
	}

	if len(out) != len(entries) {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "dependency cycle detected during topological sort")
	}
	return out, nil
}

func sortFrontier(entries []*entry.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func mergeSortedFrontiers(a, b []*entry.Entry) []*entry.Entry {
	out := append(a, b...)
	sortFrontier(out)
	return out
}
