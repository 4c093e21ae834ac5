// Copyright 2025 Certen Protocol
//
// Audit Trail Service
// Hash-chained audit trail for RFQ lifecycle events, for compliance and
// dispute forensics.

package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"
)

// AuditTrailService appends hash-chained lifecycle events to a quote
// request's audit log. Each entry's EntryHash commits to the previous
// entry's hash, so a gap or edit in the chain is detectable by
// recomputing hashes forward from the first entry.
type AuditTrailService struct {
	client *Client
	logger *log.Logger
}

// AuditTrailConfig configures an AuditTrailService.
type AuditTrailConfig struct {
	Client *Client
	Logger *log.Logger
}

// NewAuditTrailService constructs an AuditTrailService.
func NewAuditTrailService(cfg *AuditTrailConfig) (*AuditTrailService, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[AuditTrail] ", log.LstdFlags)
	}
	return &AuditTrailService{client: cfg.Client, logger: cfg.Logger}, nil
}

// IsEnabled reports whether the underlying Firestore client is active.
func (a *AuditTrailService) IsEnabled() bool {
	return a.client != nil && a.client.IsEnabled()
}

// RecordRequestCreated logs a quote request's creation.
func (a *AuditTrailService) RecordRequestCreated(ctx context.Context, requestID, assetPair, direction string) error {
	return a.append(ctx, requestID, auditParams{
		Phase:  "request_created",
		Action: "quote request created",
		Details: map[string]interface{}{
			"assetPair": assetPair,
			"direction": direction,
		},
	})
}

// RecordQuoteSubmitted logs a maker's quote submission.
func (a *AuditTrailService) RecordQuoteSubmitted(ctx context.Context, requestID, quoteID, price string) error {
	return a.append(ctx, requestID, auditParams{
		Phase:  "quote_submitted",
		Action: "maker submitted a quote",
		Details: map[string]interface{}{
			"quoteId": quoteID,
			"price":   price,
		},
	})
}

// RecordQuoteAccepted logs a taker's acceptance, before settlement begins.
func (a *AuditTrailService) RecordQuoteAccepted(ctx context.Context, requestID, quoteID string) error {
	return a.append(ctx, requestID, auditParams{
		Phase:   "quote_accepted",
		Action:  "taker accepted quote, settlement initiated",
		Details: map[string]interface{}{"quoteId": quoteID},
	})
}

// RecordSettlementLeg logs one leg of a two-leg settlement reaching the
// external vault's settled state.
func (a *AuditTrailService) RecordSettlementLeg(ctx context.Context, requestID, quoteID, party, txHash string) error {
	phase := "settlement_leg_a"
	if party == "maker" {
		phase = "settlement_leg_b"
	}
	return a.append(ctx, requestID, auditParams{
		Phase:  phase,
		Action: fmt.Sprintf("%s leg settled", party),
		Details: map[string]interface{}{
			"quoteId": quoteID,
			"txHash":  txHash,
		},
	})
}

// RecordSettlementPartial logs a settlement that completed one leg but
// left the other leg unresolved, requiring operator reconciliation.
func (a *AuditTrailService) RecordSettlementPartial(ctx context.Context, requestID, quoteID, reason string) error {
	return a.append(ctx, requestID, auditParams{
		Phase:  "settlement_partial",
		Action: "settlement partially completed, maker leg outstanding",
		Details: map[string]interface{}{
			"quoteId": quoteID,
			"reason":  reason,
		},
	})
}

// RecordRequestCancelled logs a taker-initiated cancellation.
func (a *AuditTrailService) RecordRequestCancelled(ctx context.Context, requestID string) error {
	return a.append(ctx, requestID, auditParams{Phase: "request_cancelled", Action: "quote request cancelled"})
}

// RecordRequestExpired logs lazy expiry of a stale quote request.
func (a *AuditTrailService) RecordRequestExpired(ctx context.Context, requestID string) error {
	return a.append(ctx, requestID, auditParams{Phase: "request_expired", Action: "quote request expired"})
}

type auditParams struct {
	Phase   string
	Action  string
	Details map[string]interface{}
}

func (a *AuditTrailService) append(ctx context.Context, requestID string, p auditParams) error {
	if !a.IsEnabled() {
		return nil
	}

	prev, err := a.client.GetLatestAuditEntry(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to read audit chain head: %w", err)
	}
	previousHash := ""
	if prev != nil {
		previousHash = prev.EntryHash
	}

	entry := &AuditTrailEntry{
		RequestID:    requestID,
		Phase:        p.Phase,
		Action:       p.Action,
		Actor:        "rfq-core",
		ActorType:    "service",
		Timestamp:    time.Now(),
		PreviousHash: previousHash,
		Details:      p.Details,
	}
	preimage, err := entry.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}
	sum := sha256.Sum256(preimage)
	entry.EntryHash = hex.EncodeToString(sum[:])

	if err := a.client.CreateAuditEntry(ctx, requestID, entry); err != nil {
		a.logger.Printf("failed to append audit entry for request %s phase %s: %v", requestID, p.Phase, err)
		return err
	}
	return nil
}
