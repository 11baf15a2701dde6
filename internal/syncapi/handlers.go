package syncapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/syncwire"
)

// handlers groups the route handlers over a shared Registry and logger.
// maxBodyBytes enforces §6.1's 50 MB wire payload cap.
type handlers struct {
	registry     Registry
	logger       *slog.Logger
	maxBodyBytes int64
}

// validatable is implemented by every syncwire request DTO's Validate
// method, built on jellydator/validation and the custom rules in
// internal/validation.
type validatable interface {
	Validate() error
}

func (h *handlers) bind(c *gin.Context, dst any) bool {
	body := io.LimitReader(c.Request.Body, h.maxBodyBytes+1)
	raw, err := io.ReadAll(body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return false
	}
	if int64(len(raw)) > h.maxBodyBytes {
		badRequest(c, "request body exceeds maximum payload size")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		badRequest(c, "malformed request body")
		return false
	}
	if v, ok := dst.(validatable); ok {
		if err := v.Validate(); err != nil {
			badRequest(c, err.Error())
			return false
		}
	}
	return true
}

func (h *handlers) challengeHandler(c *gin.Context) {
	var req syncwire.ChallengeRequest
	if !h.bind(c, &req) {
		return
	}

	manager, err := h.registry.AuthManager(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}

	challengeID, err := manager.Challenge(c.Request.Context(), req.Username)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}

	writeJSON(c, http.StatusOK, syncwire.ChallengeResponse{Challenge: challengeID})
}

func (h *handlers) authenticateHandler(c *gin.Context) {
	var req syncwire.AuthenticateRequest
	if !h.bind(c, &req) {
		return
	}

	sig, err := decodeB64(req.SignatureB64)
	if err != nil {
		badRequest(c, "signature_b64 is not valid base64")
		return
	}

	manager, err := h.registry.AuthManager(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}

	token, err := manager.Authenticate(c.Request.Context(), req.Challenge, sig)
	if err != nil {
		// §6.1: auth failure is reported as semantic success:false, not a
		// transport-level error. Every Authenticate error, including the
		// manager's own rate limiting, takes this path.
		writeJSON(c, http.StatusOK, syncwire.AuthenticateResponse{Success: false})
		return
	}

	writeJSON(c, http.StatusOK, syncwire.AuthenticateResponse{Success: true, Token: token})
}

func (h *handlers) findNewEntriesHandler(c *gin.Context) {
	var req syncwire.FindNewEntriesRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	metas, err := db.Store().FindNewEntries(c.Request.Context(), toSet(req.HaveIDs))
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	writeJSON(c, http.StatusOK, syncwire.FindNewEntriesResponse{Entries: toMetadataDTOs(metas)})
}

func (h *handlers) findNewEntriesForDocHandler(c *gin.Context) {
	var req syncwire.FindNewEntriesForDocRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	metas, err := db.Store().FindNewEntriesForDoc(c.Request.Context(), toSet(req.HaveIDs), req.DocID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	writeJSON(c, http.StatusOK, syncwire.FindNewEntriesResponse{Entries: toMetadataDTOs(metas)})
}

func (h *handlers) getEntriesHandler(c *gin.Context) {
	var req syncwire.GetEntriesRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	entries, err := db.Store().GetEntries(c.Request.Context(), req.IDs)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	dtos := make([]syncwire.EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = syncwire.EntryToDTO(e)
	}
	writeJSON(c, http.StatusOK, syncwire.GetEntriesResponse{Entries: dtos})
}

// putEntriesHandler is the one sync endpoint that writes: entries received
// from a remote peer are untrusted until docdb.PutVerifiedEntries checks
// their signature and signer trust, same boundary the sync engine's pull
// path enforces on the client side.
func (h *handlers) putEntriesHandler(c *gin.Context) {
	var req syncwire.PutEntriesRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}

	entries := make([]*entry.Entry, len(req.Entries))
	for i, dto := range req.Entries {
		e, err := syncwire.DTOToEntry(dto)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		entries[i] = e
	}

	if err := db.PutVerifiedEntries(c.Request.Context(), entries); err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	writeJSON(c, http.StatusOK, syncwire.PutEntriesResponse{Success: true})
}

func (h *handlers) hasEntriesHandler(c *gin.Context) {
	var req syncwire.HasEntriesRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	have, err := db.Store().HasEntries(c.Request.Context(), req.IDs)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	ids := make([]string, 0, len(have))
	for id, ok := range have {
		if ok {
			ids = append(ids, id)
		}
	}
	writeJSON(c, http.StatusOK, syncwire.HasEntriesResponse{IDs: ids})
}

func (h *handlers) getAllIDsHandler(c *gin.Context) {
	req := syncwire.GetAllIDsRequest{DBID: c.Query("dbId")}
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	ids, err := db.Store().GetAllIDs(c.Request.Context())
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	writeJSON(c, http.StatusOK, syncwire.GetAllIDsResponse{IDs: ids})
}

func (h *handlers) resolveDependenciesHandler(c *gin.Context) {
	var req syncwire.ResolveDependenciesRequest
	if !h.bind(c, &req) {
		return
	}
	db, err := h.registry.Database(c.Request.Context(), c.Param("tenant"), req.DBID)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	opts := cas.ResolveOptions{StopAtEntryType: entry.Type(req.StopAtEntryType)}
	ids, err := db.Store().ResolveDependencies(c.Request.Context(), req.StartID, opts)
	if err != nil {
		handleErrorGin(c, err, h.logger)
		return
	}
	writeJSON(c, http.StatusOK, syncwire.ResolveDependenciesResponse{IDs: ids})
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

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
