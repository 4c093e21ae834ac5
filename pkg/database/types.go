package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle status of a QuoteRequest.
type RequestStatus string

const (
	RequestStatusActive    RequestStatus = "active"
	RequestStatusExpired   RequestStatus = "expired"
	RequestStatusFilled    RequestStatus = "filled"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Direction is the side of a quote request.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// QuoteRequest is a taker-issued request for a price.
type QuoteRequest struct {
	RequestID          uuid.UUID
	AssetPair          string
	Direction          Direction
	Amount             string // decimal integer in smallest unit, stored as text to avoid overflow
	CreatedAt          time.Time
	ExpiresAt          time.Time
	StealthAddress     []byte
	TakerPublicKey     []byte
	Status             RequestStatus
	SettlementNullifier sql.NullString
}

// QuoteStatus is the lifecycle status of a Quote.
type QuoteStatus string

const (
	QuoteStatusActive   QuoteStatus = "active"
	QuoteStatusExpired  QuoteStatus = "expired"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
)

// Quote is a maker-issued response offering a total price for a request.
type Quote struct {
	QuoteID                     uuid.UUID
	RequestID                   uuid.UUID
	Price                       string // total price, smallest unit, decimal text
	MarketMakerPublicKey        []byte
	MarketMakerSettlementAddress string
	MarketMakerCommitment       sql.NullString
	MarketMakerNullifierHash    sql.NullString
	CreatedAt                   time.Time
	ExpiresAt                   time.Time
	Status                      QuoteStatus
}

// OperationKind names the signed operation a UsedSignature row was reserved for.
type OperationKind string

const (
	OpCreateQuoteRequest OperationKind = "create_quote_request"
	OpCancelQuoteRequest OperationKind = "cancel_quote_request"
	OpSubmitQuote        OperationKind = "submit_quote"
	OpAcceptQuote        OperationKind = "accept_quote"
	OpSendMessage        OperationKind = "send_message"
)

// UsedSignature is an insert-only anti-reuse record for one-time signatures.
type UsedSignature struct {
	SignatureHash string
	UsedAt        time.Time
	OperationKind OperationKind
	PublicKey     []byte
}

// NullifierParty identifies which party a nullifier/commitment row belongs to.
type NullifierParty string

const (
	PartyTaker  NullifierParty = "taker"
	PartyMaker  NullifierParty = "maker"
	PartyManual NullifierParty = "manual"
)

// LedgerStatus is the shared status vocabulary for nullifier and commitment rows.
type LedgerStatus string

const (
	StatusPending   LedgerStatus = "pending"
	StatusActive    LedgerStatus = "active"
	StatusSettled   LedgerStatus = "settled"
	StatusExpired   LedgerStatus = "expired"
	StatusCancelled LedgerStatus = "cancelled"
)

// UsedNullifier tracks consumption of a deposit-note nullifier.
type UsedNullifier struct {
	NullifierHash string
	QuoteID       uuid.NullUUID
	Party         NullifierParty
	Status        LedgerStatus
	UsedAt        time.Time
}

// UsedCommitment tracks consumption of a deposit-note commitment.
type UsedCommitment struct {
	Commitment string
	QuoteID    uuid.UUID
	Party      NullifierParty
	Status     LedgerStatus
}

// Message is an insert-only store-and-forward encrypted message between
// the parties of a quote request.
type Message struct {
	MessageID               uuid.UUID
	RequestID                uuid.UUID
	SenderPublicKey           []byte
	RecipientStealthAddress   []byte
	EncryptedPayload          []byte
	CreatedAt                 time.Time
	Signature                 []byte
}
