package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/rfq-core/pkg/apierr"
)

// envelope is the shared JSON response shape for every RFQ endpoint.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logger.Printf("encode response: %v", err)
	}
}

func writeCreated(w http.ResponseWriter, logger *log.Logger, data interface{}) {
	writeJSON(w, logger, http.StatusCreated, data)
}

// writeAPIError renders a *apierr.Error into the failure envelope, mapping
// its Kind to an HTTP status per the error taxonomy.
func writeAPIError(w http.ResponseWriter, logger *log.Logger, err *apierr.Error) {
	status := statusForKind(err.Kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := envelope{Success: false, Error: &errorBody{
		Code:    string(err.Kind),
		Message: err.Message,
		Details: err.Details,
	}}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		logger.Printf("encode error response: %v", encErr)
	}
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindValidation, apierr.KindSignatureInvalid:
		return http.StatusBadRequest
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict, apierr.KindStaleState, apierr.KindNullifierUsed, apierr.KindSignatureReused:
		return http.StatusConflict
	case apierr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apierr.KindVaultUnavailable:
		return http.StatusServiceUnavailable
	case apierr.KindSettlementPartial:
		// No standard status maps cleanly to "one leg settled, one pending
		// reconciliation"; 207 Multi-Status is the closest partial-success
		// code and is what the operator tooling keys off of.
		return http.StatusMultiStatus
	case apierr.KindNotWhitelisted:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeMethodNotAllowed(w http.ResponseWriter, logger *log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	body := envelope{Success: false, Error: &errorBody{Code: "method_not_allowed", Message: "method not allowed"}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Printf("encode error response: %v", err)
	}
}

func writeBadRequest(w http.ResponseWriter, logger *log.Logger, message string) {
	writeAPIError(w, logger, apierr.New(apierr.KindValidation, message))
}
