package server

import (
	"log"
	"net/http"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/vaultclient"
)

// ObservabilityHandlers serves operator-facing endpoints supplementing the
// core RFQ surface: circuit breaker state and unresolved settlement legs.
type ObservabilityHandlers struct {
	vault  *vaultclient.Client
	repos  *database.Repositories
	logger *log.Logger
}

// NewObservabilityHandlers constructs the observability handler set.
func NewObservabilityHandlers(vault *vaultclient.Client, repos *database.Repositories, logger *log.Logger) *ObservabilityHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ObsApi] ", log.LstdFlags)
	}
	return &ObservabilityHandlers{vault: vault, repos: repos, logger: logger}
}

// HandleVaultHealth handles GET /api/v1/rfq/vault/health, reporting the
// circuit breaker state per chain so operators can see degraded vault
// endpoints without tailing logs.
func (h *ObservabilityHandlers) HandleVaultHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"chains": h.vault.BreakerSnapshots()})
}

// HandlePartialSettlements handles GET /api/v1/rfq/settlements/partial,
// listing accepted quotes whose maker-side leg never reached settled so an
// operator can reconcile manually.
func (h *ObservabilityHandlers) HandlePartialSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	rows, err := h.repos.Quotes.ListPartialSettlements(r.Context())
	if err != nil {
		writeAPIError(w, h.logger, apierr.Internal(err))
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]interface{}{
			"quoteId":        row.QuoteID,
			"quoteRequestId": row.RequestID,
			"makerNullifier": row.MakerNullifier,
			"filledAt":       row.FilledAt,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"partialSettlements": out})
}
