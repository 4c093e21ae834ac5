// Package rfq implements the RFQ State Machine (C7): quote request
// lifecycle, quote submission, acceptance, and lazy expiry. This is the
// largest component — it orchestrates the Signature Engine (C1), Privacy
// Primitives (C2), Nullifier & Commitment Ledger (C3), Whitelist Gate (C4),
// and Settlement Coordinator (C6) but never replicates their logic.
package rfq

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/ethereum"
	"github.com/certen/rfq-core/pkg/firestore"
	"github.com/certen/rfq-core/pkg/metrics"
	"github.com/certen/rfq-core/pkg/privacy"
	"github.com/certen/rfq-core/pkg/settlement"
	"github.com/certen/rfq-core/pkg/vaultclient"
	"github.com/certen/rfq-core/pkg/whitelist"
	"github.com/certen/rfq-core/pkg/wots"
)

const maxRequestLifetime = 24 * time.Hour

// Engine is the RFQ state machine.
type Engine struct {
	repos       *database.Repositories
	gate        *whitelist.Gate
	vault       *vaultclient.Client
	coordinator *settlement.Coordinator
	sync        *firestore.SyncService
	logger      *log.Logger
	metrics     *metrics.Collector
}

// New constructs an Engine over its dependencies. sync may be nil, in which
// case board/audit mirroring is skipped entirely.
func New(repos *database.Repositories, gate *whitelist.Gate, vault *vaultclient.Client, coordinator *settlement.Coordinator, sync *firestore.SyncService, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RFQ] ", log.LstdFlags)
	}
	return &Engine{repos: repos, gate: gate, vault: vault, coordinator: coordinator, sync: sync, logger: logger}
}

// WithMetrics attaches a Prometheus collector that records signature
// verification outcomes. Safe to leave unset; outcomes are simply unobserved.
func (e *Engine) WithMetrics(collector *metrics.Collector) *Engine {
	e.metrics = collector
	return e
}

func (e *Engine) recordVerification(operation string, valid bool) {
	if e.metrics != nil {
		e.metrics.RecordSignatureVerification(operation, valid)
	}
}

func (e *Engine) syncEnabled() bool {
	return e.sync != nil && e.sync.IsEnabled()
}

// CreateRequestInput carries the validated fields of a create_request call.
type CreateRequestInput struct {
	AssetPair      string
	Direction      database.Direction
	Amount         string
	ExpiresAt      time.Time
	Signature      []byte
	PublicKey      []byte
	SignedMessage  []byte
	Commitment     string // optional
	ChainID        string // optional
}

// CreateRequestOutput is returned to the API surface on success.
type CreateRequestOutput struct {
	RequestID      uuid.UUID
	StealthAddress []byte
	ExpiresAt      time.Time
}

// CreateRequest implements create_request per spec §4.7.
func (e *Engine) CreateRequest(ctx context.Context, in CreateRequestInput) (*CreateRequestOutput, *apierr.Error) {
	now := time.Now()
	if !in.ExpiresAt.After(now) {
		return nil, apierr.New(apierr.KindValidation, "expiresAt must be strictly in the future")
	}
	if in.ExpiresAt.After(now.Add(maxRequestLifetime)) {
		return nil, apierr.New(apierr.KindValidation, "expiresAt must be within 24h of now")
	}
	if !strings.HasPrefix(string(in.SignedMessage), "create_quote_request:") {
		return nil, apierr.New(apierr.KindValidation, "signed message must begin with create_quote_request:")
	}

	result, verifyErr := wots.Verify(in.SignedMessage, in.Signature, in.PublicKey)
	if verifyErr != nil {
		e.recordVerification("create_quote_request", false)
		return nil, verifyErr
	}
	e.recordVerification("create_quote_request", true)

	sigHash := privacy.Fingerprint(result.SignatureHash[:])
	if err := e.repos.Signatures.Reserve(ctx, &database.UsedSignature{
		SignatureHash: sigHash,
		OperationKind: database.OpCreateQuoteRequest,
		PublicKey:     in.PublicKey,
	}); err != nil {
		if err == database.ErrAlreadyUsed {
			return nil, apierr.New(apierr.KindSignatureReused, "signature already used")
		}
		return nil, apierr.Internal(err)
	}

	if in.Commitment != "" && in.ChainID != "" {
		if err := e.checkSufficientBalance(ctx, in.Commitment, in.ChainID, in.Amount); err != nil {
			return nil, err
		}
	}

	stealthAddr, err := privacy.DeriveStealthAddress()
	if err != nil {
		return nil, apierr.Internal(err)
	}

	req := &database.QuoteRequest{
		AssetPair:      in.AssetPair,
		Direction:      in.Direction,
		Amount:         in.Amount,
		ExpiresAt:      in.ExpiresAt,
		StealthAddress: stealthAddr,
		TakerPublicKey: in.PublicKey,
	}
	created, err := e.repos.Requests.Create(ctx, req)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if e.syncEnabled() {
		e.sync.RequestCreated(ctx, created.RequestID.String(), created.AssetPair, string(created.Direction), string(created.Status))
	}

	return &CreateRequestOutput{RequestID: created.RequestID, StealthAddress: created.StealthAddress, ExpiresAt: created.ExpiresAt}, nil
}

func (e *Engine) checkSufficientBalance(ctx context.Context, commitment, chainID, requiredAmount string) *apierr.Error {
	summary, vaultErr := e.vault.QueryBalance(ctx, commitment, chainID)
	if vaultErr != nil {
		return mapVaultErr(vaultErr)
	}
	if !amountAtLeast(summary.Balance, requiredAmount) {
		return apierr.New(apierr.KindInsufficientBalance, "vault balance insufficient for requested amount")
	}
	return nil
}

// RequestWithQuoteCount pairs a request with the count of its currently
// active, non-expired quotes.
type RequestWithQuoteCount struct {
	Request    *database.QuoteRequest
	QuoteCount int64
}

// ListActiveRequests implements list_active_requests.
func (e *Engine) ListActiveRequests(ctx context.Context) ([]*RequestWithQuoteCount, *apierr.Error) {
	reqs, err := e.repos.Requests.ListActive(ctx)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	out := make([]*RequestWithQuoteCount, 0, len(reqs))
	for _, r := range reqs {
		count, err := e.repos.Quotes.CountActiveByRequest(ctx, r.RequestID)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &RequestWithQuoteCount{Request: r, QuoteCount: count})
	}
	return out, nil
}

// GetRequest implements get_request: lazy-expires then returns the request
// plus its active quote count.
func (e *Engine) GetRequest(ctx context.Context, requestID uuid.UUID) (*RequestWithQuoteCount, *apierr.Error) {
	if err := e.lazilyExpireRequest(ctx, requestID); err != nil {
		return nil, err
	}
	req, err := e.repos.Requests.Get(ctx, requestID)
	if err != nil {
		if err == database.ErrRequestNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return nil, apierr.Internal(err)
	}
	count, err := e.repos.Quotes.CountActiveByRequest(ctx, requestID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return &RequestWithQuoteCount{Request: req, QuoteCount: count}, nil
}

func (e *Engine) lazilyExpireRequest(ctx context.Context, requestID uuid.UUID) *apierr.Error {
	expired, err := e.repos.Requests.ExpireStale(ctx, requestID)
	if err != nil {
		return apierr.Internal(err)
	}
	if expired && e.syncEnabled() {
		e.sync.RequestExpired(ctx, requestID.String())
	}
	return nil
}

// CancelRequestInput carries the validated fields of a cancel_request call.
type CancelRequestInput struct {
	RequestID uuid.UUID
	Signature []byte
	PublicKey []byte
}

// CancelRequest implements cancel_request per spec §4.7. The signing public
// key is intentionally not checked against taker_public_key: authorization
// is by knowledge of request_id plus a fresh valid WOTS+ signature.
func (e *Engine) CancelRequest(ctx context.Context, in CancelRequestInput) *apierr.Error {
	message := []byte(fmt.Sprintf("cancel_quote_request:%s", in.RequestID))

	req, err := e.repos.Requests.Get(ctx, in.RequestID)
	if err != nil {
		if err == database.ErrRequestNotFound {
			return apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return apierr.Internal(err)
	}

	// Any registered public key may cancel; we still need a valid public
	// key to verify against — use the one supplied by the caller.
	result, verifyErr := wots.Verify(message, in.Signature, in.PublicKey)
	if verifyErr != nil {
		e.recordVerification("cancel_quote_request", false)
		return verifyErr
	}
	e.recordVerification("cancel_quote_request", true)

	sigHash := privacy.Fingerprint(result.SignatureHash[:])
	if err := e.repos.Signatures.Reserve(ctx, &database.UsedSignature{
		SignatureHash: sigHash,
		OperationKind: database.OpCancelQuoteRequest,
		PublicKey:     in.PublicKey,
	}); err != nil {
		if err == database.ErrAlreadyUsed {
			return apierr.New(apierr.KindSignatureReused, "signature already used")
		}
		return apierr.Internal(err)
	}

	if req.Status == database.RequestStatusFilled || req.Status == database.RequestStatusCancelled {
		return apierr.New(apierr.KindStaleState, "request is no longer cancellable")
	}

	if err := e.repos.Requests.Cancel(ctx, in.RequestID); err != nil {
		if err == database.ErrConflict {
			return apierr.New(apierr.KindStaleState, "request is no longer cancellable")
		}
		return apierr.Internal(err)
	}
	if e.syncEnabled() {
		e.sync.RequestCancelled(ctx, in.RequestID.String())
	}
	return nil
}

// SubmitQuoteInput carries the validated fields of a submit_quote call.
type SubmitQuoteInput struct {
	RequestID              uuid.UUID
	Price                  string
	ExpiresAt              time.Time
	Signature              []byte
	PublicKey              []byte
	MakerSettlementAddress string
	MakerCommitment        string
	MakerNullifierHash     string
	ChainID                string
}

// SubmitQuoteOutput is returned to the API surface on success.
type SubmitQuoteOutput struct {
	QuoteID   uuid.UUID
	ExpiresAt time.Time
}

// SubmitQuote implements submit_quote per spec §4.7.
func (e *Engine) SubmitQuote(ctx context.Context, in SubmitQuoteInput) (*SubmitQuoteOutput, *apierr.Error) {
	if !e.gate.IsWhitelisted(in.PublicKey) {
		return nil, apierr.New(apierr.KindNotWhitelisted, "market maker is not whitelisted")
	}

	if err := e.lazilyExpireRequest(ctx, in.RequestID); err != nil {
		return nil, err
	}
	req, err := e.repos.Requests.Get(ctx, in.RequestID)
	if err != nil {
		if err == database.ErrRequestNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return nil, apierr.Internal(err)
	}
	if req.Status != database.RequestStatusActive {
		return nil, apierr.New(apierr.KindStaleState, "quote request is not active")
	}

	now := time.Now()
	if !in.ExpiresAt.After(now) {
		return nil, apierr.New(apierr.KindValidation, "expiresAt must be strictly in the future")
	}
	if in.ExpiresAt.After(req.ExpiresAt) {
		return nil, apierr.New(apierr.KindValidation, "expiresAt must not exceed the quote request's expiry")
	}

	message := []byte(fmt.Sprintf("submit_quote:%s:%s:%d", in.RequestID, in.Price, in.ExpiresAt.UnixMilli()))
	result, verifyErr := wots.Verify(message, in.Signature, in.PublicKey)
	if verifyErr != nil {
		e.recordVerification("submit_quote", false)
		return nil, verifyErr
	}
	e.recordVerification("submit_quote", true)

	sigHash := privacy.Fingerprint(result.SignatureHash[:])
	if err := e.repos.Signatures.Reserve(ctx, &database.UsedSignature{
		SignatureHash: sigHash,
		OperationKind: database.OpSubmitQuote,
		PublicKey:     in.PublicKey,
	}); err != nil {
		if err == database.ErrAlreadyUsed {
			return nil, apierr.New(apierr.KindSignatureReused, "signature already used")
		}
		return nil, apierr.Internal(err)
	}

	if in.MakerNullifierHash != "" {
		if n, err := e.repos.Nullifiers.Check(ctx, in.MakerNullifierHash); err == nil && n != nil {
			return nil, apierr.New(apierr.KindNullifierUsed, "maker nullifier already used")
		} else if err != nil && err != database.ErrNotFound {
			return nil, apierr.Internal(err)
		}
	}
	if in.MakerCommitment != "" {
		if _, err := e.repos.Commitments.Check(ctx, in.MakerCommitment); err == nil {
			return nil, apierr.New(apierr.KindConflict, "maker commitment already reserved by an active quote")
		} else if err != database.ErrNotFound {
			return nil, apierr.Internal(err)
		}
	}

	if in.MakerCommitment != "" && in.ChainID != "" {
		if err := e.checkSufficientBalance(ctx, in.MakerCommitment, in.ChainID, in.Price); err != nil {
			return nil, err
		}
	}
	if in.MakerSettlementAddress != "" && ethereum.IsEVMChain(in.ChainID) {
		normalized, err := ethereum.NormalizeAddress(in.MakerSettlementAddress)
		if err != nil {
			return nil, apierr.New(apierr.KindValidation, "makerSettlementAddress is not a valid EVM address")
		}
		in.MakerSettlementAddress = normalized
	}

	quote := &database.Quote{
		RequestID:                    in.RequestID,
		Price:                        in.Price,
		MarketMakerPublicKey:         in.PublicKey,
		MarketMakerSettlementAddress: in.MakerSettlementAddress,
		ExpiresAt:                    in.ExpiresAt,
	}
	if in.MakerCommitment != "" {
		quote.MarketMakerCommitment.String, quote.MarketMakerCommitment.Valid = in.MakerCommitment, true
	}
	if in.MakerNullifierHash != "" {
		quote.MarketMakerNullifierHash.String, quote.MarketMakerNullifierHash.Valid = in.MakerNullifierHash, true
	}

	created, err := e.repos.Quotes.Create(ctx, quote)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if e.syncEnabled() {
		e.sync.QuoteSubmitted(ctx, in.RequestID.String(), created.QuoteID.String(), created.Price, string(created.Status))
	}

	return &SubmitQuoteOutput{QuoteID: created.QuoteID, ExpiresAt: created.ExpiresAt}, nil
}

// ListQuotes implements list_quotes, lazily expiring stale entries first.
func (e *Engine) ListQuotes(ctx context.Context, requestID uuid.UUID) ([]*database.Quote, *apierr.Error) {
	quotes, err := e.repos.Quotes.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	now := time.Now()
	out := make([]*database.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Status == database.QuoteStatusActive && !q.ExpiresAt.After(now) {
			_ = e.repos.Quotes.ExpireStale(ctx, q.QuoteID)
			q.Status = database.QuoteStatusExpired
		}
		if q.Status == database.QuoteStatusExpired {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// AcceptQuoteInput carries the validated fields of an accept_quote call.
type AcceptQuoteInput struct {
	QuoteID            uuid.UUID
	Signature          []byte
	PublicKey          []byte
	ChainID            string
	TakerCommitment    string
	TakerAddress       string
	TakerNullifierHash string
	MakerCommitment    string // optional override
	MakerNullifierHash string // optional override
}

// AcceptQuoteOutput is returned to the API surface on success or
// settlement_partial.
type AcceptQuoteOutput struct {
	QuoteID             uuid.UUID
	RequestID           uuid.UUID
	SettlementNullifier string
	TxHashA             string
	TxHashB             string
	ZKCompressed        bool
	CompressionSignature string
}

// AcceptQuote implements accept_quote per spec §4.7.
func (e *Engine) AcceptQuote(ctx context.Context, in AcceptQuoteInput) (*AcceptQuoteOutput, *apierr.Error) {
	quote, err := e.repos.Quotes.Get(ctx, in.QuoteID)
	if err != nil {
		if err == database.ErrQuoteNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote not found")
		}
		return nil, apierr.Internal(err)
	}
	if quote.Status != database.QuoteStatusActive {
		return nil, apierr.New(apierr.KindStaleState, "quote is not active")
	}
	if !quote.ExpiresAt.After(time.Now()) {
		_ = e.repos.Quotes.ExpireStale(ctx, quote.QuoteID)
		return nil, apierr.New(apierr.KindStaleState, "quote has expired")
	}

	req, err := e.repos.Requests.Get(ctx, quote.RequestID)
	if err != nil {
		if err == database.ErrRequestNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return nil, apierr.Internal(err)
	}
	if req.Status != database.RequestStatusActive {
		return nil, apierr.New(apierr.KindStaleState, "quote request is not active")
	}

	message := []byte(fmt.Sprintf("accept_quote:%s", in.QuoteID))
	result, verifyErr := wots.Verify(message, in.Signature, in.PublicKey)
	if verifyErr != nil {
		e.recordVerification("accept_quote", false)
		return nil, verifyErr
	}
	e.recordVerification("accept_quote", true)

	sigHash := privacy.Fingerprint(result.SignatureHash[:])
	if err := e.repos.Signatures.Reserve(ctx, &database.UsedSignature{
		SignatureHash: sigHash,
		OperationKind: database.OpAcceptQuote,
		PublicKey:     in.PublicKey,
	}); err != nil {
		if err == database.ErrAlreadyUsed {
			return nil, apierr.New(apierr.KindSignatureReused, "signature already used")
		}
		return nil, apierr.Internal(err)
	}

	if in.TakerCommitment == "" || in.TakerAddress == "" || in.TakerNullifierHash == "" || in.ChainID == "" {
		return nil, apierr.New(apierr.KindValidation, "takerCommitment, takerAddress, takerNullifierHash, and chainId are required")
	}
	if ethereum.IsEVMChain(in.ChainID) {
		normalized, err := ethereum.NormalizeAddress(in.TakerAddress)
		if err != nil {
			return nil, apierr.New(apierr.KindValidation, "takerAddress is not a valid EVM address")
		}
		in.TakerAddress = normalized
		if quote.MarketMakerSettlementAddress != "" && ethereum.SameAddress(in.TakerAddress, quote.MarketMakerSettlementAddress) {
			return nil, apierr.New(apierr.KindValidation, "takerAddress must differ from the maker settlement address")
		}
	}

	makerCommitment := in.MakerCommitment
	if makerCommitment == "" {
		makerCommitment = quote.MarketMakerCommitment.String
	}
	makerNullifier := in.MakerNullifierHash
	if makerNullifier == "" {
		makerNullifier = quote.MarketMakerNullifierHash.String
	}
	if makerCommitment == "" || makerNullifier == "" {
		return nil, apierr.New(apierr.KindValidation, "marketMakerCommitment and marketMakerNullifierHash are required")
	}

	if n, err := e.repos.Nullifiers.Check(ctx, in.TakerNullifierHash); err == nil && n != nil {
		return nil, apierr.New(apierr.KindNullifierUsed, "taker nullifier already used")
	} else if err != nil && err != database.ErrNotFound {
		return nil, apierr.Internal(err)
	}

	settlementNullifier, nErr := privacy.GenerateNullifier()
	if nErr != nil {
		return nil, apierr.Internal(nErr)
	}
	settlementNullifierHex := privacy.Fingerprint(settlementNullifier)

	// Critical section: linearized by the compare-and-set on
	// (request.status = active). At most one acceptance per request
	// succeeds; losers see CONFLICT and must never reach the vault.
	if err := e.repos.AcceptQuote(ctx, in.QuoteID, req.RequestID, settlementNullifierHex); err != nil {
		switch err {
		case database.ErrRequestConflict:
			return nil, apierr.New(apierr.KindConflict, "another acceptance already filled this request")
		case database.ErrQuoteConflict:
			return nil, apierr.New(apierr.KindConflict, "quote is no longer active")
		default:
			return nil, apierr.Internal(err)
		}
	}
	if e.syncEnabled() {
		e.sync.QuoteAccepted(ctx, req.RequestID.String(), in.QuoteID.String())
	}

	settleIn := toSettlementInput(quote, req, in, makerCommitment, makerNullifier)
	record, settleErr := e.coordinator.Settle(ctx, settleIn)
	if settleErr != nil {
		switch settleErr.Kind {
		case apierr.KindSettlementPartial:
			out := &AcceptQuoteOutput{
				QuoteID: in.QuoteID, RequestID: req.RequestID, SettlementNullifier: settlementNullifierHex,
			}
			if record != nil {
				out.TxHashA = record.TxHashA
			}
			if e.syncEnabled() {
				e.sync.SettlementPartial(ctx, req.RequestID.String(), in.QuoteID.String(), settleErr.Message)
			}
			return out, settleErr
		case apierr.KindInsufficientBalance, apierr.KindNullifierUsed, apierr.KindValidation, apierr.KindVaultUnavailable:
			// No leg executed: compensate the DB-side fill back to active.
			_ = e.repos.Requests.RevertToActive(ctx, req.RequestID)
			return nil, settleErr
		default:
			return nil, settleErr
		}
	}
	if e.syncEnabled() {
		e.sync.SettlementCompleted(ctx, req.RequestID.String(), in.QuoteID.String(), record.TxHashA, record.TxHashB)
	}

	return &AcceptQuoteOutput{
		QuoteID: in.QuoteID, RequestID: req.RequestID, SettlementNullifier: settlementNullifierHex,
		TxHashA: record.TxHashA, TxHashB: record.TxHashB,
		ZKCompressed: record.ZKCompressed, CompressionSignature: record.CompressionSignature,
	}, nil
}

func toSettlementInput(quote *database.Quote, req *database.QuoteRequest, in AcceptQuoteInput, makerCommitment, makerNullifier string) settlement.Input {
	baseAsset, quoteAsset := splitAssetPair(req.AssetPair)
	return settlement.Input{
		QuoteID:         in.QuoteID,
		Direction:       req.Direction,
		BaseToken:       baseAsset,
		QuoteToken:      quoteAsset,
		BaseAmount:      req.Amount,
		PriceTotal:      quote.Price,
		ChainID:         in.ChainID,
		TakerCommitment: in.TakerCommitment,
		TakerNullifier:  in.TakerNullifierHash,
		TakerAddress:    in.TakerAddress,
		MakerCommitment: makerCommitment,
		MakerNullifier:  makerNullifier,
		MakerAddress:    quote.MarketMakerSettlementAddress,
	}
}

func splitAssetPair(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair, ""
	}
	return parts[0], parts[1]
}

func mapVaultErr(err *vaultclient.Error) *apierr.Error {
	switch err.Category {
	case vaultclient.CategoryInsufficientBalance:
		return apierr.New(apierr.KindInsufficientBalance, err.Message)
	case vaultclient.CategoryNullifierUsedExternally:
		return apierr.New(apierr.KindNullifierUsed, err.Message)
	case vaultclient.CategoryTransient:
		return apierr.New(apierr.KindVaultUnavailable, err.Message)
	default:
		return apierr.New(apierr.KindValidation, err.Message)
	}
}

// amountAtLeast compares two non-negative decimal-integer strings without
// overflowing int64, since amounts are denominated in each chain's smallest
// unit and may exceed it.
func amountAtLeast(balance, required string) bool {
	balance = strings.TrimLeft(balance, "0")
	required = strings.TrimLeft(required, "0")
	if len(balance) != len(required) {
		return len(balance) > len(required)
	}
	return balance >= required
}
