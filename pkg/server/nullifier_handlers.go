package server

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
)

// LedgerHandlers serves the shared nullifier ledger surface: the
// used-nullifiers listing, the public check-nullifier lookup, and the
// admin-authenticated mark-nullifier-used back-channel the external vault
// uses to push pre-emptive usage.
type LedgerHandlers struct {
	repos    *database.Repositories
	adminKey string
	logger   *log.Logger
}

// NewLedgerHandlers constructs the ledger handler set.
func NewLedgerHandlers(repos *database.Repositories, adminKey string, logger *log.Logger) *LedgerHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[LedgerApi] ", log.LstdFlags)
	}
	return &LedgerHandlers{repos: repos, adminKey: adminKey, logger: logger}
}

// HandleListUsedNullifiers handles GET /api/v1/rfq/used-nullifiers.
func (h *LedgerHandlers) HandleListUsedNullifiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	hashes, err := h.repos.Nullifiers.ListUsed(r.Context())
	if err != nil {
		writeAPIError(w, h.logger, apierr.Internal(err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"usedNullifiers": hashes})
}

// HandleCheckNullifier handles GET /api/v1/rfq/check-nullifier/:hash.
func (h *LedgerHandlers) HandleCheckNullifier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/api/v1/rfq/check-nullifier")
	hash = strings.TrimPrefix(hash, "/")
	if hash == "" {
		writeBadRequest(w, h.logger, "nullifier hash is required")
		return
	}

	n, err := h.repos.Nullifiers.Check(r.Context(), hash)
	if err == database.ErrNotFound {
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"isUsed": false})
		return
	}
	if err != nil {
		writeAPIError(w, h.logger, apierr.Internal(err))
		return
	}

	resp := map[string]interface{}{
		"isUsed":     true,
		"entityType": n.Party,
		"status":     n.Status,
		"usedAt":     n.UsedAt,
	}
	if n.QuoteID.Valid {
		resp["quoteId"] = n.QuoteID.UUID
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

type markNullifierUsedBody struct {
	NullifierHash string `json:"nullifierHash"`
}

// HandleMarkNullifierUsed handles POST /api/v1/rfq/mark-nullifier-used, the
// vault's back-channel to preemptively block RFQ acceptance of a deposit
// note it is about to withdraw externally. Admin-authenticated.
func (h *LedgerHandlers) HandleMarkNullifierUsed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	if !isAuthorizedAdmin(r, h.adminKey) {
		writeAPIError(w, h.logger, apierr.New(apierr.KindNotWhitelisted, "admin authentication required"))
		return
	}

	var body markNullifierUsedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}
	if body.NullifierHash == "" {
		writeBadRequest(w, h.logger, "nullifierHash is required")
		return
	}

	if err := h.repos.Nullifiers.MarkExternalUsed(r.Context(), body.NullifierHash); err != nil {
		if err == database.ErrAlreadyUsed {
			writeAPIError(w, h.logger, apierr.New(apierr.KindNullifierUsed, "nullifier already recorded"))
			return
		}
		writeAPIError(w, h.logger, apierr.Internal(err))
		return
	}
	writeCreated(w, h.logger, map[string]interface{}{"nullifierHash": body.NullifierHash, "status": "settled"})
}

// isAuthorizedAdmin checks the shared admin key header in constant time. An
// empty configured key never authorizes a request.
func isAuthorizedAdmin(r *http.Request, adminKey string) bool {
	if adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Key")), []byte(adminKey)) == 1
}
