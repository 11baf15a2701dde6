// Package syncengine implements phase 1 of spec §4.G's sync protocol: id
// diffing against a Peer, batched transfer bounded by a payload ceiling,
// progress reporting, cooperative cancellation polled at batch boundaries,
// and bounded retry on transport failures. Phase 0 (the auth handshake) is
// internal/authsession's concern; by the time a Peer reaches this package
// it is already authenticated.
package syncengine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/docdb"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/syncwire"
)

// DefaultMaxPayloadBytes is the default per-batch payload ceiling (spec
// §4.G).
const DefaultMaxPayloadBytes = 50 * 1024 * 1024

// averageEntrySizeEstimate sizes batches by id count without needing the
// actual byte size of entries the engine hasn't fetched yet: attachment
// chunks (the largest regular entry kind) are bounded to 256 KiB by the
// docdb facade, so assuming that size per id is a conservative estimate
// that keeps most batches safely under the ceiling.
const averageEntrySizeEstimate = 256 * 1024

// retryDelays is the bounded backoff sequence of spec §4.G: 3 attempts at
// 50 ms, 200 ms, 1000 ms.
var retryDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 1000 * time.Millisecond}

// Phase names reported in Progress.
const (
	PhasePull = "pull"
	PhasePush = "push"
)

// Progress reports transfer progress after each batch. Total is the number
// of ids known to need transferring as of the start of the sync; it does
// not change mid-sync even if the remote gains more entries concurrently.
type Progress struct {
	Phase       string
	Transferred int
	Total       int
}

// ProgressFunc receives Progress events in order, on the calling goroutine,
// per spec §5's ordering guarantee.
type ProgressFunc func(Progress)

// Result is returned by both PullFrom and PushTo.
type Result struct {
	TransferredEntries int
	Cancelled          bool
}

// Engine drives sync between a local docdb.DB and a Peer.
type Engine struct {
	db              *docdb.DB
	maxPayloadBytes int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxPayloadBytes overrides DefaultMaxPayloadBytes.
func WithMaxPayloadBytes(n int64) Option {
	return func(e *Engine) { e.maxPayloadBytes = n }
}

// New constructs an Engine backed by db.
func New(db *docdb.DB, opts ...Option) *Engine {
	e := &Engine{db: db, maxPayloadBytes: DefaultMaxPayloadBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) batchSize() int {
	n := int(e.maxPayloadBytes / averageEntrySizeEstimate)
	if n < 1 {
		n = 1
	}
	return n
}

// PullFrom fetches entries the local database is missing relative to peer,
// scoped to docID if non-empty, verifying and inserting them via
// docdb.PutVerifiedEntries. Entry-level verification failures
// (InvalidSignature, UnknownSigner, DependencyMissing) abort the sync
// immediately rather than retrying, since they are not transient.
func (e *Engine) PullFrom(ctx context.Context, peer Peer, docID string, onProgress ProgressFunc) (*Result, error) {
	haveIDs, err := e.db.Store().GetAllIDs(ctx)
	if err != nil {
		return nil, err
	}

	var metas []string
	if docID != "" {
		ms, err := peer.FindNewEntriesForDoc(ctx, haveIDs, docID)
		if err != nil {
			return nil, err
		}
		metas = idsOfDTOs(ms)
	} else {
		ms, err := peer.FindNewEntries(ctx, haveIDs)
		if err != nil {
			return nil, err
		}
		metas = idsOfDTOs(ms)
	}

	if len(metas) == 0 {
		return &Result{}, nil
	}

	batches := batchIDs(metas, e.batchSize())
	transferred := 0
	for _, batch := range batches {
		if ctx.Err() != nil {
			return &Result{TransferredEntries: transferred, Cancelled: true}, nil
		}

		entries, err := fetchWithRetry(ctx, func() ([]*entry.Entry, error) {
			return peer.GetEntries(ctx, batch)
		})
		if err != nil {
			return nil, err
		}

		entries, err = e.withResolvedDeps(ctx, peer, entries)
		if err != nil {
			return nil, err
		}

		if err := e.db.PutVerifiedEntries(ctx, entries); err != nil {
			return nil, err
		}

		transferred += len(entries)
		if onProgress != nil {
			onProgress(Progress{Phase: PhasePull, Transferred: transferred, Total: len(metas)})
		}
	}

	return &Result{TransferredEntries: transferred}, nil
}

// withResolvedDeps fetches any dependency of entries that is neither
// already local nor already present in the batch, walking the chain back to
// (at most) the nearest doc_snapshot, and returns entries plus everything
// it had to fetch to make the batch self-contained.
func (e *Engine) withResolvedDeps(ctx context.Context, peer Peer, entries []*entry.Entry) ([]*entry.Entry, error) {
	present := make(map[string]bool, len(entries))
	for _, en := range entries {
		present[en.ID] = true
	}

	var missingDeps []string
	for _, en := range entries {
		for _, dep := range en.DependencyIDs {
			if present[dep] {
				continue
			}
			missingDeps = append(missingDeps, dep)
		}
	}
	if len(missingDeps) == 0 {
		return entries, nil
	}

	have, err := e.db.Store().HasEntries(ctx, missingDeps)
	if err != nil {
		return nil, err
	}

	var toResolve []string
	for _, dep := range missingDeps {
		if !have[dep] {
			toResolve = append(toResolve, dep)
		}
	}
	if len(toResolve) == 0 {
		return entries, nil
	}

	var allIDs []string
	for _, startID := range toResolve {
		ids, err := peer.ResolveDependencies(ctx, startID, resolveOptions())
		if err != nil {
			return nil, err
		}
		allIDs = append(allIDs, ids...)
	}

	var toFetch []string
	for _, id := range allIDs {
		if present[id] {
			continue
		}
		if have[id] {
			continue
		}
		present[id] = true
		toFetch = append(toFetch, id)
	}
	if len(toFetch) == 0 {
		return entries, nil
	}

	fetched, err := fetchWithRetry(ctx, func() ([]*entry.Entry, error) {
		return peer.GetEntries(ctx, toFetch)
	})
	if err != nil {
		return nil, err
	}
	return append(entries, fetched...), nil
}

// PushTo ships entries the peer is missing relative to the local database,
// scoped to docID if non-empty. It does not verify entries itself: that is
// the receiving side's responsibility via its own PutVerifiedEntries.
func (e *Engine) PushTo(ctx context.Context, peer Peer, docID string, onProgress ProgressFunc) (*Result, error) {
	localIDs, err := e.localIDs(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(localIDs) == 0 {
		return &Result{}, nil
	}

	peerHas, err := peer.HasEntries(ctx, localIDs)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range localIDs {
		if !peerHas[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return &Result{}, nil
	}

	batches := batchIDs(missing, e.batchSize())
	transferred := 0
	for _, batch := range batches {
		if ctx.Err() != nil {
			return &Result{TransferredEntries: transferred, Cancelled: true}, nil
		}

		entries, err := e.db.Store().GetEntries(ctx, batch)
		if err != nil {
			return nil, err
		}

		if err := retryVoid(ctx, func() error { return peer.PutEntries(ctx, entries) }); err != nil {
			return nil, err
		}

		transferred += len(entries)
		if onProgress != nil {
			onProgress(Progress{Phase: PhasePush, Transferred: transferred, Total: len(missing)})
		}
	}

	return &Result{TransferredEntries: transferred}, nil
}

func (e *Engine) localIDs(ctx context.Context, docID string) ([]string, error) {
	if docID == "" {
		return e.db.Store().GetAllIDs(ctx)
	}
	// An empty "have" set makes every one of docID's entries come back as
	// "new", which is exactly the full local id list for that document.
	metas, err := e.db.Store().FindNewEntriesForDoc(ctx, map[string]bool{}, docID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	return ids, nil
}

func resolveOptions() cas.ResolveOptions {
	return cas.ResolveOptions{StopAtEntryType: entry.TypeDocSnapshot}
}

func batchIDs(ids []string, size int) [][]string {
	var batches [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}

func idsOfDTOs(metas []syncwire.MetadataDTO) []string {
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	return ids
}

// fetchWithRetry retries a transient transport failure up to len(retryDelays)
// additional times, per spec §4.G's bounded backoff. apperrors.ErrInvalidSignature,
// ErrUnknownSigner, and ErrDependencyMissing are not retried: they indicate
// a batch that will never succeed by trying again.
func fetchWithRetry(ctx context.Context, op func() ([]*entry.Entry, error)) ([]*entry.Entry, error) {
	var result []*entry.Entry
	wrapped := func() error {
		entries, err := op()
		if err != nil {
			if isTerminal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = entries
		return nil
	}
	if err := backoff.Retry(wrapped, backoff.WithContext(newFixedBackoff(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func retryVoid(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && isTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(newFixedBackoff(), ctx))
}

func isTerminal(err error) bool {
	return apperrors.Is(err, apperrors.ErrInvalidSignature) ||
		apperrors.Is(err, apperrors.ErrUnknownSigner) ||
		apperrors.Is(err, apperrors.ErrDependencyMissing)
}

// fixedBackoff replays retryDelays once each, then stops.
type fixedBackoff struct {
	i int
}

func newFixedBackoff() *fixedBackoff {
	return &fixedBackoff{}
}

func (f *fixedBackoff) NextBackOff() time.Duration {
	if f.i >= len(retryDelays) {
		return backoff.Stop
	}
	d := retryDelays[f.i]
	f.i++
	return d
}

func (f *fixedBackoff) Reset() {
	f.i = 0
}
