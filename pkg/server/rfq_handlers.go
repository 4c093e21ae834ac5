// Package server is the API Surface (C10): request validation, hex/JSON
// decoding, and error-kind-to-status mapping for the RFQ components. It
// MUST NOT replicate state-machine logic — every handler is a thin
// translator over pkg/rfq and pkg/messaging.
package server

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/messaging"
	"github.com/certen/rfq-core/pkg/rfq"
)

// RFQHandlers serves the /api/v1/rfq/* surface.
type RFQHandlers struct {
	engine  *rfq.Engine
	relay   *messaging.Relay
	repos   *database.Repositories
	logger  *log.Logger
}

// NewRFQHandlers constructs the RFQ handler set.
func NewRFQHandlers(engine *rfq.Engine, relay *messaging.Relay, repos *database.Repositories, logger *log.Logger) *RFQHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[RFQApi] ", log.LstdFlags)
	}
	return &RFQHandlers{engine: engine, relay: relay, repos: repos, logger: logger}
}

func decodeHex(field, s string) ([]byte, *apierr.Error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apierr.Newf(apierr.KindValidation, "%s must be lowercase hex: %v", field, err)
	}
	return b, nil
}

func parseUUIDFromPath(prefix, path string) (uuid.UUID, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.UUID{}, "", false
	}
	tail := ""
	if len(parts) == 2 {
		tail = parts[1]
	}
	return id, tail, true
}

// --- quote-request -------------------------------------------------------

type createQuoteRequestBody struct {
	AssetPair  string `json:"assetPair"`
	Direction  string `json:"direction"`
	Amount     string `json:"amount"`
	Timeout    int64  `json:"timeout"`
	Signature  string `json:"signature"`
	PublicKey  string `json:"publicKey"`
	Message    string `json:"message"`
	Commitment string `json:"commitment,omitempty"`
	ChainID    string `json:"chainId,omitempty"`
}

// HandleCreateQuoteRequest handles POST /api/v1/rfq/quote-request.
func (h *RFQHandlers) HandleCreateQuoteRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, h.logger)
		return
	}

	var body createQuoteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}

	sig, apiErr := decodeHex("signature", body.Signature)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	direction := database.Direction(strings.ToLower(body.Direction))
	if direction != database.DirectionBuy && direction != database.DirectionSell {
		writeBadRequest(w, h.logger, "direction must be buy or sell")
		return
	}
	if body.Timeout <= 0 {
		writeBadRequest(w, h.logger, "timeout must be a positive number of milliseconds")
		return
	}

	out, apiErr := h.engine.CreateRequest(r.Context(), rfq.CreateRequestInput{
		AssetPair:     body.AssetPair,
		Direction:     direction,
		Amount:        body.Amount,
		ExpiresAt:     time.Now().Add(time.Duration(body.Timeout) * time.Millisecond),
		Signature:     sig,
		PublicKey:     pk,
		SignedMessage: []byte(body.Message),
		Commitment:    body.Commitment,
		ChainID:       body.ChainID,
	})
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	writeCreated(w, h.logger, map[string]interface{}{
		"quoteRequestId": out.RequestID,
		"stealthAddress": hex.EncodeToString(out.StealthAddress),
		"commitment":     body.Amount,
		"expiresAt":      out.ExpiresAt,
	})
}

// HandleListQuoteRequests handles GET /api/v1/rfq/quote-requests.
func (h *RFQHandlers) HandleListQuoteRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	list, apiErr := h.engine.ListActiveRequests(r.Context())
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		out = append(out, requestView(item))
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"quoteRequests": out})
}

// HandleQuoteRequestByID dispatches GET /api/v1/rfq/quote-request/:id and
// POST .../cancel by path shape, mirroring the teacher's prefix-trim routing.
func (h *RFQHandlers) HandleQuoteRequestByID(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := parseUUIDFromPath("/api/v1/rfq/quote-request", r.URL.Path)
	if !ok {
		writeBadRequest(w, h.logger, "invalid quote request id")
		return
	}

	switch {
	case tail == "" && r.Method == http.MethodGet:
		h.handleGetQuoteRequest(w, r, id)
	case tail == "cancel" && r.Method == http.MethodPost:
		h.handleCancelQuoteRequest(w, r, id)
	case tail == "quotes" && r.Method == http.MethodGet:
		h.handleListQuotes(w, r, id)
	case tail == "messages" && r.Method == http.MethodGet:
		h.handleGetMessages(w, r, id)
	default:
		writeMethodNotAllowed(w, h.logger)
	}
}

func (h *RFQHandlers) handleGetQuoteRequest(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	item, apiErr := h.engine.GetRequest(r.Context(), id)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, requestView(item))
}

type cancelRequestBody struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

func (h *RFQHandlers) handleCancelQuoteRequest(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var body cancelRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}
	sig, apiErr := decodeHex("signature", body.Signature)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	if apiErr := h.engine.CancelRequest(r.Context(), rfq.CancelRequestInput{RequestID: id, Signature: sig, PublicKey: pk}); apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"quoteRequestId": id, "status": "cancelled"})
}

func requestView(item *rfq.RequestWithQuoteCount) map[string]interface{} {
	req := item.Request
	return map[string]interface{}{
		"quoteRequestId": req.RequestID,
		"assetPair":      req.AssetPair,
		"direction":      req.Direction,
		"amount":         req.Amount,
		"createdAt":      req.CreatedAt,
		"expiresAt":      req.ExpiresAt,
		"stealthAddress": hex.EncodeToString(req.StealthAddress),
		"status":         req.Status,
		"quote_count":    item.QuoteCount,
	}
}

// --- quote -----------------------------------------------------------------

type submitQuoteBody struct {
	QuoteRequestID uuid.UUID `json:"quoteRequestId"`
	Price          string    `json:"price"`
	ExpirationTime int64     `json:"expirationTime"`
	Signature      string    `json:"signature"`
	PublicKey      string    `json:"publicKey"`
	WalletAddress  string    `json:"walletAddress"`
	Commitment     string    `json:"commitment,omitempty"`
	NullifierHash  string    `json:"nullifierHash,omitempty"`
	ChainID        string    `json:"chainId,omitempty"`
}

// HandleSubmitQuote handles POST /api/v1/rfq/quote.
func (h *RFQHandlers) HandleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	var body submitQuoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}
	sig, apiErr := decodeHex("signature", body.Signature)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	if body.ExpirationTime <= 0 {
		writeBadRequest(w, h.logger, "expirationTime must be a future unix millis timestamp")
		return
	}

	out, apiErr := h.engine.SubmitQuote(r.Context(), rfq.SubmitQuoteInput{
		RequestID:              body.QuoteRequestID,
		Price:                  body.Price,
		ExpiresAt:              time.UnixMilli(body.ExpirationTime),
		Signature:              sig,
		PublicKey:              pk,
		MakerSettlementAddress: body.WalletAddress,
		MakerCommitment:        body.Commitment,
		MakerNullifierHash:     body.NullifierHash,
		ChainID:                body.ChainID,
	})
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	writeCreated(w, h.logger, map[string]interface{}{
		"quoteId":         out.QuoteID,
		"priceCommitment": body.Price,
		"expiresAt":       out.ExpiresAt,
	})
}

func (h *RFQHandlers) handleListQuotes(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	quotes, apiErr := h.engine.ListQuotes(r.Context(), requestID)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	out := make([]map[string]interface{}, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, map[string]interface{}{
			"quoteId":                  q.QuoteID,
			"price":                    q.Price,
			"marketMakerPublicKey":     hex.EncodeToString(q.MarketMakerPublicKey),
			"marketMakerAddress":       q.MarketMakerSettlementAddress,
			"marketMakerCommitment":    nullStringOrEmpty(q.MarketMakerCommitment),
			"marketMakerNullifierHash": nullStringOrEmpty(q.MarketMakerNullifierHash),
			"expiresAt":                q.ExpiresAt,
			"status":                   q.Status,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"quotes": out})
}

type acceptQuoteBody struct {
	Signature               string `json:"signature"`
	PublicKey               string `json:"publicKey"`
	TakerCommitment         string `json:"takerCommitment"`
	TakerAddress            string `json:"takerAddress"`
	TakerNullifierHash      string `json:"takerNullifierHash"`
	MarketMakerCommitment   string `json:"marketMakerCommitment,omitempty"`
	MarketMakerNullifierHash string `json:"marketMakerNullifierHash,omitempty"`
	ChainID                 string `json:"chainId"`
}

// HandleAcceptQuote handles POST /api/v1/rfq/quote/:id/accept.
func (h *RFQHandlers) HandleAcceptQuote(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := parseUUIDFromPath("/api/v1/rfq/quote", r.URL.Path)
	if !ok || tail != "accept" {
		writeBadRequest(w, h.logger, "invalid quote id")
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, h.logger)
		return
	}

	var body acceptQuoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}
	sig, apiErr := decodeHex("signature", body.Signature)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	out, apiErr := h.engine.AcceptQuote(r.Context(), rfq.AcceptQuoteInput{
		QuoteID:            id,
		Signature:          sig,
		PublicKey:          pk,
		ChainID:            body.ChainID,
		TakerCommitment:    body.TakerCommitment,
		TakerAddress:       body.TakerAddress,
		TakerNullifierHash: body.TakerNullifierHash,
		MakerCommitment:    body.MarketMakerCommitment,
		MakerNullifierHash: body.MarketMakerNullifierHash,
	})
	if apiErr != nil && apiErr.Kind != apierr.KindSettlementPartial {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	data := map[string]interface{}{
		"quoteId":        out.QuoteID,
		"quoteRequestId": out.RequestID,
		"nullifier":      out.SettlementNullifier,
		"txHash":         out.TxHashA,
	}
	if out.TxHashB != "" {
		data["txHash"] = out.TxHashB
		data["takerTxHash"] = out.TxHashA
		data["makerTxHash"] = out.TxHashB
	}
	if out.ZKCompressed {
		data["zkCompressed"] = out.ZKCompressed
		data["compressionSignature"] = out.CompressionSignature
	}

	if apiErr != nil {
		// settlement_partial: leg (a) settled, leg (b) unresolved. Surface
		// what did settle as error detail so operators can reconcile
		// without a second round trip.
		writeAPIError(w, h.logger, apiErr.WithDetails(data))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, data)
}

func nullStringOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
