package syncengine

import (
	"context"
	"encoding/json"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/syncwire"
	"github.com/vaultmesh/vaultmesh/internal/transport"
)

// Peer is everything the sync engine needs from the other side of a sync
// session: the non-auth sync operations of spec §6.1. Authentication
// (challenge/authenticate) happens separately, before a Peer is
// constructed, since its outcome is a bearer token attached to the
// Transport rather than a Peer-level operation.
type Peer interface {
	FindNewEntries(ctx context.Context, haveIDs []string) ([]syncwire.MetadataDTO, error)
	FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]syncwire.MetadataDTO, error)
	GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error)
	PutEntries(ctx context.Context, entries []*entry.Entry) error
	HasEntries(ctx context.Context, ids []string) (map[string]bool, error)
	GetAllIDs(ctx context.Context) ([]string, error)
	ResolveDependencies(ctx context.Context, startID string, opts cas.ResolveOptions) ([]string, error)
}

// LocalPeer adapts a cas.Store directly to Peer, for sync sessions that
// don't cross a process boundary: same-binary multi-tenant hosting, and
// tests that exercise the engine's batching/retry/progress logic without a
// real transport.
type LocalPeer struct {
	store cas.Store
}

// NewLocalPeer wraps store as a Peer.
func NewLocalPeer(store cas.Store) *LocalPeer {
	return &LocalPeer{store: store}
}

func (p *LocalPeer) FindNewEntries(ctx context.Context, haveIDs []string) ([]syncwire.MetadataDTO, error) {
	metas, err := p.store.FindNewEntries(ctx, toSet(haveIDs))
	if err != nil {
		return nil, err
	}
	return toMetadataDTOs(metas), nil
}

func (p *LocalPeer) FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]syncwire.MetadataDTO, error) {
	metas, err := p.store.FindNewEntriesForDoc(ctx, toSet(haveIDs), docID)
	if err != nil {
		return nil, err
	}
	return toMetadataDTOs(metas), nil
}

func (p *LocalPeer) GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error) {
	return p.store.GetEntries(ctx, ids)
}

func (p *LocalPeer) PutEntries(ctx context.Context, entries []*entry.Entry) error {
	return p.store.PutEntries(ctx, entries)
}

func (p *LocalPeer) HasEntries(ctx context.Context, ids []string) (map[string]bool, error) {
	return p.store.HasEntries(ctx, ids)
}

func (p *LocalPeer) GetAllIDs(ctx context.Context) ([]string, error) {
	return p.store.GetAllIDs(ctx)
}

func (p *LocalPeer) ResolveDependencies(ctx context.Context, startID string, opts cas.ResolveOptions) ([]string, error) {
	return p.store.ResolveDependencies(ctx, startID, opts)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func toMetadataDTOs(metas []cas.Metadata) []syncwire.MetadataDTO {
	out := make([]syncwire.MetadataDTO, len(metas))
	for i, m := range metas {
		out[i] = syncwire.MetadataToDTO(m)
	}
	return out
}

// RemotePeer adapts a transport.Transport to Peer using the JSON wire
// shapes of syncwire, implementing the client side of spec §6.1's sync
// endpoints for one remote database.
type RemotePeer struct {
	transport transport.Transport
	dbID      string
}

// NewRemotePeer constructs a RemotePeer for dbID over an already-
// authenticated transport (its bearer token set via an authsession
// handshake).
func NewRemotePeer(t transport.Transport, dbID string) *RemotePeer {
	return &RemotePeer{transport: t, dbID: dbID}
}

func (p *RemotePeer) post(ctx context.Context, path string, reqBody, respBody any) error {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return apperrors.Wrap(err, "encoding request")
	}
	raw, err := p.transport.Request(ctx, path, encoded)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return apperrors.Wrap(err, "decoding response")
	}
	return nil
}

func (p *RemotePeer) FindNewEntries(ctx context.Context, haveIDs []string) ([]syncwire.MetadataDTO, error) {
	var resp syncwire.FindNewEntriesResponse
	err := p.post(ctx, "/sync/findNewEntries", syncwire.FindNewEntriesRequest{DBID: p.dbID, HaveIDs: haveIDs}, &resp)
	return resp.Entries, err
}

func (p *RemotePeer) FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]syncwire.MetadataDTO, error) {
	var resp syncwire.FindNewEntriesResponse
	req := syncwire.FindNewEntriesForDocRequest{DBID: p.dbID, HaveIDs: haveIDs, DocID: docID}
	err := p.post(ctx, "/sync/findNewEntriesForDoc", req, &resp)
	return resp.Entries, err
}

func (p *RemotePeer) GetEntries(ctx context.Context, ids []string) ([]*entry.Entry, error) {
	var resp syncwire.GetEntriesResponse
	if err := p.post(ctx, "/sync/getEntries", syncwire.GetEntriesRequest{DBID: p.dbID, IDs: ids}, &resp); err != nil {
		return nil, err
	}
	entries := make([]*entry.Entry, len(resp.Entries))
	for i, dto := range resp.Entries {
		e, err := syncwire.DTOToEntry(dto)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

func (p *RemotePeer) PutEntries(ctx context.Context, entries []*entry.Entry) error {
	dtos := make([]syncwire.EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = syncwire.EntryToDTO(e)
	}
	var resp syncwire.PutEntriesResponse
	if err := p.post(ctx, "/sync/putEntries", syncwire.PutEntriesRequest{DBID: p.dbID, Entries: dtos}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return apperrors.Wrap(apperrors.ErrTransport, "putEntries reported failure")
	}
	return nil
}

func (p *RemotePeer) HasEntries(ctx context.Context, ids []string) (map[string]bool, error) {
	var resp syncwire.HasEntriesResponse
	if err := p.post(ctx, "/sync/hasEntries", syncwire.HasEntriesRequest{DBID: p.dbID, IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return toSet(resp.IDs), nil
}

func (p *RemotePeer) GetAllIDs(ctx context.Context) ([]string, error) {
	var resp syncwire.GetAllIDsResponse
	err := p.post(ctx, "/sync/getAllIds", syncwire.GetAllIDsRequest{DBID: p.dbID}, &resp)
	return resp.IDs, err
}

func (p *RemotePeer) ResolveDependencies(ctx context.Context, startID string, opts cas.ResolveOptions) ([]string, error) {
	var resp syncwire.ResolveDependenciesResponse
	req := syncwire.ResolveDependenciesRequest{DBID: p.dbID, StartID: startID, StopAtEntryType: string(opts.StopAtEntryType)}
	err := p.post(ctx, "/sync/resolveDependencies", req, &resp)
	return resp.IDs, err
}
