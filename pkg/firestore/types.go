// Package firestore mirrors RFQ board state into Firestore so front-ends
// can subscribe to a live quote-request/quote feed instead of polling the
// HTTP API, and keeps a hash-chained audit trail of lifecycle events per
// quote request. It is entirely optional: every write is a no-op when the
// client is constructed with Enabled=false, so the core never depends on
// reachability of Google Cloud.
package firestore

import (
	"encoding/json"
	"time"
)

// BoardEventType classifies an RFQ lifecycle event mirrored to the board.
type BoardEventType string

const (
	EventRequestCreated    BoardEventType = "request_created"
	EventRequestCancelled  BoardEventType = "request_cancelled"
	EventRequestExpired    BoardEventType = "request_expired"
	EventQuoteSubmitted    BoardEventType = "quote_submitted"
	EventQuoteAccepted     BoardEventType = "quote_accepted"
	EventSettlementPartial BoardEventType = "settlement_partial"
	EventSettlementDone    BoardEventType = "settlement_completed"
)

// BoardSnapshot is the document written under
// rfq-board/{requestID}/events/{eventID} for real-time UI subscriptions.
// It carries only data already public on the HTTP surface; no private
// commitments, nullifiers, or signatures are ever mirrored.
type BoardSnapshot struct {
	EventID   string         `json:"eventId" firestore:"-"`
	RequestID string         `json:"requestId" firestore:"requestId"`
	QuoteID   string         `json:"quoteId,omitempty" firestore:"quoteId,omitempty"`
	EventType BoardEventType `json:"eventType" firestore:"eventType"`
	AssetPair string         `json:"assetPair,omitempty" firestore:"assetPair,omitempty"`
	Status    string         `json:"status" firestore:"status"`
	Timestamp time.Time      `json:"timestamp" firestore:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty" firestore:"data,omitempty"`
}

// AuditTrailEntry is one hash-chained event in a quote request's append-only
// audit log, written under rfq-audit/{requestID}/entries/{entryID}.
type AuditTrailEntry struct {
	EntryID   string `json:"entryId" firestore:"-"`
	RequestID string `json:"requestId" firestore:"requestId"`

	Phase  string `json:"phase" firestore:"phase"`
	Action string `json:"action" firestore:"action"`

	Actor     string `json:"actor" firestore:"actor"`
	ActorType string `json:"actorType" firestore:"actorType"`

	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`

	PreviousHash string `json:"previousHash" firestore:"previousHash"`
	EntryHash    string `json:"entryHash" firestore:"entryHash"`

	Details map[string]interface{} `json:"details,omitempty" firestore:"details,omitempty"`
}

// AuditPhases names the phases a quote request's audit trail can record.
var AuditPhases = map[string]string{
	"request_created":   "Quote Request Created",
	"quote_submitted":   "Quote Submitted",
	"quote_accepted":    "Quote Accepted",
	"settlement_leg_a":  "Taker Leg Settled",
	"settlement_leg_b":  "Maker Leg Settled",
	"settlement_partial": "Settlement Partially Completed",
	"request_cancelled": "Quote Request Cancelled",
	"request_expired":   "Quote Request Expired",
}

// ToJSON serializes the entry with EntryHash zeroed (PreviousHash is kept),
// used as the canonical preimage for EntryHash so the hash commits to
// everything else.
func (a *AuditTrailEntry) ToJSON() ([]byte, error) {
	clone := *a
	clone.EntryHash = ""
	return json.Marshal(clone)
}
