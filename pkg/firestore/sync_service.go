// Copyright 2025 Certen Protocol
//
// Firestore Sync Service
// Syncs RFQ board state to Firestore for real-time UI updates

package firestore

import (
	"context"
	"fmt"
	"log"
	"time"
)

// SyncService is the single entry point RFQ state-machine callers use to
// mirror lifecycle events to the live board and the audit trail. Every
// method is safe to call even when Firestore sync is disabled.
type SyncService struct {
	client *Client
	audit  *AuditTrailService
	logger *log.Logger
}

// SyncServiceConfig configures a SyncService.
type SyncServiceConfig struct {
	Client *Client
	Logger *log.Logger
}

// NewSyncService constructs a SyncService backed by client.
func NewSyncService(cfg *SyncServiceConfig) (*SyncService, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[FirestoreSync] ", log.LstdFlags)
	}
	audit, err := NewAuditTrailService(&AuditTrailConfig{Client: cfg.Client, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	return &SyncService{client: cfg.Client, audit: audit, logger: cfg.Logger}, nil
}

// IsEnabled reports whether the underlying Firestore client is active.
func (s *SyncService) IsEnabled() bool {
	return s.client != nil && s.client.IsEnabled()
}

// RequestCreated mirrors a new quote request to the board and audit trail.
func (s *SyncService) RequestCreated(ctx context.Context, requestID, assetPair, direction, status string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		EventType: EventRequestCreated,
		AssetPair: assetPair,
		Status:    status,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"direction": direction},
	})
	if err := s.audit.RecordRequestCreated(ctx, requestID, assetPair, direction); err != nil {
		s.logger.Printf("audit sync failed for request_created %s: %v", requestID, err)
	}
}

// QuoteSubmitted mirrors a new quote against an open request.
func (s *SyncService) QuoteSubmitted(ctx context.Context, requestID, quoteID, price, status string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		QuoteID:   quoteID,
		EventType: EventQuoteSubmitted,
		Status:    status,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"price": price},
	})
	if err := s.audit.RecordQuoteSubmitted(ctx, requestID, quoteID, price); err != nil {
		s.logger.Printf("audit sync failed for quote_submitted %s: %v", quoteID, err)
	}
}

// QuoteAccepted mirrors a taker's acceptance before settlement executes.
func (s *SyncService) QuoteAccepted(ctx context.Context, requestID, quoteID string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		QuoteID:   quoteID,
		EventType: EventQuoteAccepted,
		Status:    "filled",
		Timestamp: time.Now(),
	})
	if err := s.audit.RecordQuoteAccepted(ctx, requestID, quoteID); err != nil {
		s.logger.Printf("audit sync failed for quote_accepted %s: %v", quoteID, err)
	}
}

// SettlementCompleted mirrors a fully settled acceptance, with both legs'
// transaction identifiers from the external vault.
func (s *SyncService) SettlementCompleted(ctx context.Context, requestID, quoteID, txHashA, txHashB string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		QuoteID:   quoteID,
		EventType: EventSettlementDone,
		Status:    "settled",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"takerTxHash": txHashA,
			"makerTxHash": txHashB,
		},
	})
	if err := s.audit.RecordSettlementLeg(ctx, requestID, quoteID, "taker", txHashA); err != nil {
		s.logger.Printf("audit sync failed for settlement leg a %s: %v", quoteID, err)
	}
	if err := s.audit.RecordSettlementLeg(ctx, requestID, quoteID, "maker", txHashB); err != nil {
		s.logger.Printf("audit sync failed for settlement leg b %s: %v", quoteID, err)
	}
}

// SettlementPartial mirrors a settlement that resolved the taker leg but
// left the maker leg outstanding after retries were exhausted.
func (s *SyncService) SettlementPartial(ctx context.Context, requestID, quoteID, reason string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		QuoteID:   quoteID,
		EventType: EventSettlementPartial,
		Status:    "partial",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"reason": reason},
	})
	if err := s.audit.RecordSettlementPartial(ctx, requestID, quoteID, reason); err != nil {
		s.logger.Printf("audit sync failed for settlement_partial %s: %v", quoteID, err)
	}
}

// RequestCancelled mirrors a cancelled quote request.
func (s *SyncService) RequestCancelled(ctx context.Context, requestID string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		EventType: EventRequestCancelled,
		Status:    "cancelled",
		Timestamp: time.Now(),
	})
	if err := s.audit.RecordRequestCancelled(ctx, requestID); err != nil {
		s.logger.Printf("audit sync failed for request_cancelled %s: %v", requestID, err)
	}
}

// RequestExpired mirrors a lazily-expired quote request.
func (s *SyncService) RequestExpired(ctx context.Context, requestID string) {
	s.publish(ctx, requestID, &BoardSnapshot{
		RequestID: requestID,
		EventType: EventRequestExpired,
		Status:    "expired",
		Timestamp: time.Now(),
	})
	if err := s.audit.RecordRequestExpired(ctx, requestID); err != nil {
		s.logger.Printf("audit sync failed for request_expired %s: %v", requestID, err)
	}
}

func (s *SyncService) publish(ctx context.Context, requestID string, snap *BoardSnapshot) {
	if err := s.client.PublishBoardEvent(ctx, requestID, snap); err != nil {
		s.logger.Printf("board sync failed for request %s event %s: %v", requestID, snap.EventType, err)
	}
}
