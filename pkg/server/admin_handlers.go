package server

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/whitelist"
)

// AdminHandlers serves permissioned-mode whitelist management, authenticated
// by the shared admin key header.
type AdminHandlers struct {
	gate     *whitelist.Gate
	repo     *database.WhitelistRepository
	adminKey string
	logger   *log.Logger
}

// NewAdminHandlers constructs the admin handler set.
func NewAdminHandlers(gate *whitelist.Gate, repo *database.WhitelistRepository, adminKey string, logger *log.Logger) *AdminHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[AdminApi] ", log.LstdFlags)
	}
	return &AdminHandlers{gate: gate, repo: repo, adminKey: adminKey, logger: logger}
}

type whitelistBody struct {
	PublicKey string `json:"publicKey"`
}

// HandleWhitelist handles POST/DELETE /admin/whitelist.
func (h *AdminHandlers) HandleWhitelist(w http.ResponseWriter, r *http.Request) {
	if !isAuthorizedAdmin(r, h.adminKey) {
		writeAPIError(w, h.logger, apierr.New(apierr.KindNotWhitelisted, "admin authentication required"))
		return
	}

	var body whitelistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := h.repo.Add(r.Context(), pk); err != nil {
			writeAPIError(w, h.logger, apierr.Internal(err))
			return
		}
		h.gate.Add(pk)
		writeCreated(w, h.logger, map[string]interface{}{"publicKey": hex.EncodeToString(pk), "whitelisted": true})
	case http.MethodDelete:
		if err := h.repo.Remove(r.Context(), pk); err != nil {
			writeAPIError(w, h.logger, apierr.Internal(err))
			return
		}
		h.gate.Remove(pk)
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"publicKey": hex.EncodeToString(pk), "whitelisted": false})
	default:
		writeMethodNotAllowed(w, h.logger)
	}
}
