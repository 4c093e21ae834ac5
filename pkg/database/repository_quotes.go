package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuoteRepository handles quotes CRUD and lazy status transitions.
type QuoteRepository struct {
	client *Client
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(client *Client) *QuoteRepository {
	return &QuoteRepository{client: client}
}

const selectQuoteCols = `
	SELECT quote_id, request_id, price, market_maker_public_key,
		market_maker_settlement_address, market_maker_commitment,
		market_maker_nullifier_hash, created_at, expires_at, status
	FROM quotes`

func scanQuote(row interface{ Scan(...interface{}) error }, q *Quote) error {
	return row.Scan(
		&q.QuoteID, &q.RequestID, &q.Price, &q.MarketMakerPublicKey,
		&q.MarketMakerSettlementAddress, &q.MarketMakerCommitment,
		&q.MarketMakerNullifierHash, &q.CreatedAt, &q.ExpiresAt, &q.Status,
	)
}

// Create inserts a new active quote.
func (r *QuoteRepository) Create(ctx context.Context, q *Quote) (*Quote, error) {
	q.QuoteID = uuid.New()
	q.CreatedAt = time.Now()
	q.Status = QuoteStatusActive

	query := `
		INSERT INTO quotes (
			quote_id, request_id, price, market_maker_public_key,
			market_maker_settlement_address, market_maker_commitment,
			market_maker_nullifier_hash, created_at, expires_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING quote_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		q.QuoteID, q.RequestID, q.Price, q.MarketMakerPublicKey,
		q.MarketMakerSettlementAddress, q.MarketMakerCommitment,
		q.MarketMakerNullifierHash, q.CreatedAt, q.ExpiresAt, q.Status,
	).Scan(&q.QuoteID, &q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}

	return q, nil
}

// Get retrieves a single quote by id.
func (r *QuoteRepository) Get(ctx context.Context, quoteID uuid.UUID) (*Quote, error) {
	query := selectQuoteCols + ` WHERE quote_id = $1`
	q := &Quote{}
	err := scanQuote(r.client.QueryRowContext(ctx, query, quoteID), q)
	if err == sql.ErrNoRows {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

// ListByRequest returns all quotes for a request ordered by creation time.
func (r *QuoteRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Quote, error) {
	query := selectQuoteCols + ` WHERE request_id = $1 ORDER BY created_at ASC`
	rows, err := r.client.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list quotes by request: %w", err)
	}
	defer rows.Close()

	var out []*Quote
	for rows.Next() {
		q := &Quote{}
		if err := scanQuote(rows, q); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountActiveByRequest returns the number of currently active, non-expired
// quotes on a request, used to annotate list_active_requests.
func (r *QuoteRepository) CountActiveByRequest(ctx context.Context, requestID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM quotes WHERE request_id = $1 AND status = $2 AND expires_at > $3`
	var count int64
	err := r.client.QueryRowContext(ctx, query, requestID, QuoteStatusActive, time.Now()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active quotes: %w", err)
	}
	return count, nil
}

// ExpireStale transitions an active quote past its expiry to expired.
func (r *QuoteRepository) ExpireStale(ctx context.Context, quoteID uuid.UUID) error {
	query := `UPDATE quotes SET status = $2 WHERE quote_id = $1 AND status = $3 AND expires_at <= $4`
	_, err := r.client.ExecContext(ctx, query, quoteID, QuoteStatusExpired, QuoteStatusActive, time.Now())
	if err != nil {
		return fmt.Errorf("expire quote: %w", err)
	}
	return nil
}

// PartialSettlement is one row of the reconciliation listing: an accepted
// quote whose request is filled but whose maker-side nullifier never
// reached settled.
type PartialSettlement struct {
	QuoteID        uuid.UUID
	RequestID      uuid.UUID
	MakerNullifier string
	FilledAt       time.Time
}

// ListPartialSettlements finds accepted quotes on filled requests whose
// maker nullifier is still pending, the operator reconciliation surface for
// settlement_partial outcomes.
func (r *QuoteRepository) ListPartialSettlements(ctx context.Context) ([]*PartialSettlement, error) {
	query := `
		SELECT q.quote_id, q.request_id, n.nullifier_hash, q.created_at
		FROM quotes q
		JOIN quote_requests r ON r.request_id = q.request_id
		JOIN used_nullifiers n ON n.quote_id = q.quote_id AND n.party = $1
		WHERE q.status = $2 AND r.status = $3 AND n.status = $4
		ORDER BY q.created_at ASC`

	rows, err := r.client.QueryContext(ctx, query, PartyMaker, QuoteStatusAccepted, RequestStatusFilled, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list partial settlements: %w", err)
	}
	defer rows.Close()

	var out []*PartialSettlement
	for rows.Next() {
		p := &PartialSettlement{}
		if err := rows.Scan(&p.QuoteID, &p.RequestID, &p.MakerNullifier, &p.FilledAt); err != nil {
			return nil, fmt.Errorf("scan partial settlement: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TxAcceptAndRejectSiblings accepts one quote and rejects every other active
// quote on the same request, inside the caller's transaction.
func TxAcceptAndRejectSiblings(ctx context.Context, tx *Tx, quoteID, requestID uuid.UUID) error {
	accept := `UPDATE quotes SET status = $2 WHERE quote_id = $1 AND status = $3`
	result, err := tx.Tx().ExecContext(ctx, accept, quoteID, QuoteStatusAccepted, QuoteStatusActive)
	if err != nil {
		return fmt.Errorf("accept quote: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}

	reject := `UPDATE quotes SET status = $2 WHERE request_id = $1 AND status = $3 AND quote_id != $4`
	if _, err := tx.Tx().ExecContext(ctx, reject, requestID, QuoteStatusRejected, QuoteStatusActive, quoteID); err != nil {
		return fmt.Errorf("reject sibling quotes: %w", err)
	}
	return nil
}
