// Package database provides the repository layer backing the RFQ core's
// persistence adapter (C9): transactional access to quote requests, quotes,
// and the anti-reuse signature/nullifier/commitment ledgers.
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repositories holds all repository instances for a single database client.
type Repositories struct {
	Client      *Client
	Requests    *RequestRepository
	Quotes      *QuoteRepository
	Signatures  *SignatureRepository
	Nullifiers  *NullifierRepository
	Commitments *CommitmentRepository
	Messages    *MessageRepository
	Whitelist   *WhitelistRepository
}

// NewRepositories creates all repositories sharing the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Client:      client,
		Requests:    NewRequestRepository(client),
		Quotes:      NewQuoteRepository(client),
		Signatures:  NewSignatureRepository(client),
		Nullifiers:  NewNullifierRepository(client),
		Commitments: NewCommitmentRepository(client),
		Messages:    NewMessageRepository(client),
		Whitelist:   NewWhitelistRepository(client),
	}
}

// AcceptQuote is the accept_quote critical section (spec §4.7/§5): it fills
// the request with the settlement nullifier and accepts the quote while
// rejecting every other active quote on the same request, all inside one
// transaction. This is the linearization point that guarantees at most one
// acceptance per request ever reaches the settlement coordinator; the RFQ
// engine never opens a transaction itself, it only calls this method.
//
// ErrRequestConflict means another acceptance already filled the request.
// ErrQuoteConflict means the request fill succeeded but the quote itself was
// no longer active (already accepted/rejected/expired) — both are races the
// caller should surface as a stale-state error, not retry.
func (r *Repositories) AcceptQuote(ctx context.Context, quoteID, requestID uuid.UUID, settlementNullifierHex string) error {
	tx, err := r.Client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin accept_quote transaction: %w", err)
	}

	if err := TxFillIfActive(ctx, tx, requestID, settlementNullifierHex); err != nil {
		_ = tx.Rollback()
		if err == ErrConflict {
			return ErrRequestConflict
		}
		return err
	}
	if err := TxAcceptAndRejectSiblings(ctx, tx, quoteID, requestID); err != nil {
		_ = tx.Rollback()
		if err == ErrConflict {
			return ErrQuoteConflict
		}
		return err
	}
	return tx.Commit()
}
