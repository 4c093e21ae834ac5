// Package settlement implements the Settlement Coordinator (C6): it drives
// the two-legged atomic swap between a taker's and a maker's privacy-vault
// deposits once a quote has been accepted.
package settlement

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/commitment"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/metrics"
	"github.com/certen/rfq-core/pkg/vaultclient"
)

// Input captures everything the coordinator needs to drive one settlement,
// assembled by the RFQ state machine from the accepted quote and request.
type Input struct {
	QuoteID uuid.UUID

	Direction database.Direction
	BaseToken string
	QuoteToken string
	BaseAmount string // base-token smallest unit
	PriceTotal string // quote-token smallest unit, total (not per-unit)
	ChainID    string

	TakerCommitment    string
	TakerNullifier     string
	TakerAddress       string
	MakerCommitment    string
	MakerNullifier     string
	MakerAddress       string
}

// Record is the combined outcome of a settlement attempt.
type Record struct {
	TxHashA              string
	TxHashB              string
	ZKCompressed         bool
	CompressionSignature string
}

// Coordinator drives settlement given a vault client and the shared
// nullifier/commitment ledger.
type Coordinator struct {
	repos  *database.Repositories
	vault   *vaultclient.Client
	logger  *log.Logger
	metrics *metrics.Collector

	maxLegBRetries int
}

// New creates a settlement coordinator.
func New(repos *database.Repositories, vault *vaultclient.Client, maxLegBRetries int, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Settlement] ", log.LstdFlags)
	}
	if maxLegBRetries < 1 {
		maxLegBRetries = 1
	}
	return &Coordinator{repos: repos, vault: vault, maxLegBRetries: maxLegBRetries, logger: logger}
}

// WithMetrics attaches a Prometheus collector that records settlement
// outcomes. Safe to leave unset; outcomes are simply unobserved.
func (c *Coordinator) WithMetrics(collector *metrics.Collector) *Coordinator {
	c.metrics = collector
	return c
}

func (c *Coordinator) recordOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordSettlementOutcome(outcome)
	}
}

// legAmounts computes (paymentAmount, paymentToken, assetAmount, assetToken)
// from trade direction, per spec §4.6 step 1. buy: taker receives base,
// pays price_total of quote; sell: inverse.
func legAmounts(in Input) (paymentAmount, paymentToken, assetAmount, assetToken string) {
	if in.Direction == database.DirectionBuy {
		return in.PriceTotal, in.QuoteToken, in.BaseAmount, in.BaseToken
	}
	return in.BaseAmount, in.BaseToken, in.PriceTotal, in.QuoteToken
}

// Settle executes the two-legged swap. It assumes the caller has already
// committed the request/quote "filled" transition in its own transaction;
// this function only ever moves the settlement forward or reports a
// categorized failure — it never retries the DB-side fill.
func (c *Coordinator) Settle(ctx context.Context, in Input) (*Record, *apierr.Error) {
	quoteIDNull := uuid.NullUUID{UUID: in.QuoteID, Valid: true}

	if err := c.repos.Nullifiers.MarkUsed(ctx, in.TakerNullifier, quoteIDNull, database.PartyTaker, database.StatusPending); err != nil {
		return nil, mapReservationErr(err)
	}
	if err := c.repos.Nullifiers.MarkUsed(ctx, in.MakerNullifier, quoteIDNull, database.PartyMaker, database.StatusPending); err != nil {
		_ = c.repos.Nullifiers.UpdateStatus(ctx, in.TakerNullifier, database.StatusCancelled)
		return nil, mapReservationErr(err)
	}
	if err := c.repos.Commitments.MarkUsed(ctx, &database.UsedCommitment{
		Commitment: in.TakerCommitment, QuoteID: in.QuoteID, Party: database.PartyTaker, Status: database.StatusActive,
	}); err != nil {
		c.releaseReservations(ctx, in)
		return nil, mapReservationErr(err)
	}
	if err := c.repos.Commitments.MarkUsed(ctx, &database.UsedCommitment{
		Commitment: in.MakerCommitment, QuoteID: in.QuoteID, Party: database.PartyMaker, Status: database.StatusActive,
	}); err != nil {
		c.releaseReservations(ctx, in)
		return nil, mapReservationErr(err)
	}

	paymentAmount, paymentToken, assetAmount, assetToken := legAmounts(in)

	legA, vaultErr := c.vault.ExecuteSettlementLeg(ctx, vaultclient.SettlementLegRequest{
		FromCommitment: in.TakerCommitment,
		FromNullifier:  in.TakerNullifier,
		ToAddress:      in.MakerAddress,
		Amount:         paymentAmount,
		Token:          paymentToken,
		ChainID:        in.ChainID,
	})
	if vaultErr != nil {
		c.releaseReservations(ctx, in)
		c.recordOutcome("failed")
		return nil, mapVaultErr(vaultErr)
	}

	legBIdempotencyKey := commitment.HashHex(
		[]byte(in.QuoteID.String()), []byte(in.MakerCommitment), []byte(in.MakerNullifier), []byte(assetAmount),
	)

	var legB *vaultclient.SettlementLegResult
	for attempt := 0; attempt < c.maxLegBRetries; attempt++ {
		legB, vaultErr = c.vault.ExecuteSettlementLeg(ctx, vaultclient.SettlementLegRequest{
			FromCommitment: in.MakerCommitment,
			FromNullifier:  in.MakerNullifier,
			ToAddress:      in.TakerAddress,
			Amount:         assetAmount,
			Token:          assetToken,
			ChainID:        in.ChainID,
			IdempotencyKey: legBIdempotencyKey,
		})
		if vaultErr == nil {
			break
		}
		if vaultErr.Category != vaultclient.CategoryTransient {
			break
		}
	}

	if vaultErr != nil {
		// Leg (a) already moved funds: the taker side is irreversibly
		// settled. Record that and surface the trade for reconciliation
		// instead of inventing a reverse transfer we cannot perform.
		_ = c.repos.Nullifiers.UpdateStatus(ctx, in.TakerNullifier, database.StatusSettled)
		_ = c.repos.Commitments.UpdateStatus(ctx, in.TakerCommitment, database.StatusSettled)
		c.logger.Printf("settlement leg b unresolved for quote %s after %d attempts: %v", in.QuoteID, c.maxLegBRetries, vaultErr)
		c.recordOutcome("partial")
		return &Record{TxHashA: legA.TxHash}, apierr.New(apierr.KindSettlementPartial, "leg b unresolved after retries, pending operator reconciliation")
	}

	_ = c.repos.Nullifiers.UpdateStatus(ctx, in.TakerNullifier, database.StatusSettled)
	_ = c.repos.Nullifiers.UpdateStatus(ctx, in.MakerNullifier, database.StatusSettled)
	_ = c.repos.Commitments.UpdateStatus(ctx, in.TakerCommitment, database.StatusSettled)
	_ = c.repos.Commitments.UpdateStatus(ctx, in.MakerCommitment, database.StatusSettled)

	c.recordOutcome("settled")
	return &Record{
		TxHashA:              legA.TxHash,
		TxHashB:              legB.TxHash,
		ZKCompressed:         legB.ZKCompressed,
		CompressionSignature: legB.CompressionSignature,
	}, nil
}

func (c *Coordinator) releaseReservations(ctx context.Context, in Input) {
	_ = c.repos.Nullifiers.UpdateStatus(ctx, in.TakerNullifier, database.StatusCancelled)
	_ = c.repos.Nullifiers.UpdateStatus(ctx, in.MakerNullifier, database.StatusCancelled)
	_ = c.repos.Commitments.UpdateStatus(ctx, in.TakerCommitment, database.StatusCancelled)
	_ = c.repos.Commitments.UpdateStatus(ctx, in.MakerCommitment, database.StatusCancelled)
}

func mapReservationErr(err error) *apierr.Error {
	if err == database.ErrAlreadyUsed {
		return apierr.New(apierr.KindNullifierUsed, "nullifier or commitment already reserved")
	}
	return apierr.Internal(err)
}

func mapVaultErr(err *vaultclient.Error) *apierr.Error {
	switch err.Category {
	case vaultclient.CategoryInsufficientBalance:
		return apierr.New(apierr.KindInsufficientBalance, err.Message)
	case vaultclient.CategoryNullifierUsedExternally:
		return apierr.New(apierr.KindNullifierUsed, err.Message)
	case vaultclient.CategoryTransient:
		return apierr.New(apierr.KindVaultUnavailable, err.Message)
	case vaultclient.CategoryValidation:
		return apierr.New(apierr.KindValidation, err.Message)
	default:
		return apierr.New(apierr.KindInternal, err.Message)
	}
}
