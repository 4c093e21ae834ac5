package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestRepository handles quote_requests CRUD and lazy status transitions.
type RequestRepository struct {
	client *Client
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(client *Client) *RequestRepository {
	return &RequestRepository{client: client}
}

// Create inserts a new active quote request.
func (r *RequestRepository) Create(ctx context.Context, req *QuoteRequest) (*QuoteRequest, error) {
	req.RequestID = uuid.New()
	req.CreatedAt = time.Now()
	req.Status = RequestStatusActive

	query := `
		INSERT INTO quote_requests (
			request_id, asset_pair, direction, amount, created_at, expires_at,
			stealth_address, taker_public_key, status, settlement_nullifier
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING request_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		req.RequestID, req.AssetPair, req.Direction, req.Amount, req.CreatedAt, req.ExpiresAt,
		req.StealthAddress, req.TakerPublicKey, req.Status, req.SettlementNullifier,
	).Scan(&req.RequestID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}

	return req, nil
}

func scanRequest(row interface{ Scan(...interface{}) error }, req *QuoteRequest) error {
	return row.Scan(
		&req.RequestID, &req.AssetPair, &req.Direction, &req.Amount, &req.CreatedAt, &req.ExpiresAt,
		&req.StealthAddress, &req.TakerPublicKey, &req.Status, &req.SettlementNullifier,
	)
}

const selectRequestCols = `
	SELECT request_id, asset_pair, direction, amount, created_at, expires_at,
		stealth_address, taker_public_key, status, settlement_nullifier
	FROM quote_requests`

// Get retrieves a single request by id.
func (r *RequestRepository) Get(ctx context.Context, requestID uuid.UUID) (*QuoteRequest, error) {
	query := selectRequestCols + ` WHERE request_id = $1`
	req := &QuoteRequest{}
	err := scanRequest(r.client.QueryRowContext(ctx, query, requestID), req)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote request: %w", err)
	}
	return req, nil
}

// ListActive returns requests with status active and expires_at in the future.
// Lazily-expired rows are excluded from the result but not mutated here; call
// ExpireStale to persist the transition.
func (r *RequestRepository) ListActive(ctx context.Context) ([]*QuoteRequest, error) {
	query := selectRequestCols + ` WHERE status = $1 AND expires_at > $2 ORDER BY created_at DESC`
	rows, err := r.client.QueryContext(ctx, query, RequestStatusActive, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list active quote requests: %w", err)
	}
	defer rows.Close()

	var out []*QuoteRequest
	for rows.Next() {
		req := &QuoteRequest{}
		if err := scanRequest(rows, req); err != nil {
			return nil, fmt.Errorf("scan quote request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CountActive returns the number of requests currently in active status,
// including any that are stale but not yet lazily expired.
func (r *RequestRepository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM quote_requests WHERE status = $1`
	var n int
	if err := r.client.QueryRowContext(ctx, query, RequestStatusActive).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active quote requests: %w", err)
	}
	return n, nil
}

// ExpireStale transitions an active request past its expiry to expired.
// It is a no-op (zero rows affected) if the request has already moved to a
// different status, which lazy-expiry callers treat as success. The
// returned bool reports whether this call was the one that expired it.
func (r *RequestRepository) ExpireStale(ctx context.Context, requestID uuid.UUID) (bool, error) {
	query := `UPDATE quote_requests SET status = $2 WHERE request_id = $1 AND status = $3 AND expires_at <= $4`
	result, err := r.client.ExecContext(ctx, query, requestID, RequestStatusExpired, RequestStatusActive, time.Now())
	if err != nil {
		return false, fmt.Errorf("expire quote request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire quote request: %w", err)
	}
	return n > 0, nil
}

// Cancel transitions an active request to cancelled. Returns ErrConflict if
// the request is not in a cancellable state.
func (r *RequestRepository) Cancel(ctx context.Context, requestID uuid.UUID) error {
	query := `UPDATE quote_requests SET status = $2 WHERE request_id = $1 AND status = $3`
	result, err := r.client.ExecContext(ctx, query, requestID, RequestStatusCancelled, RequestStatusActive)
	if err != nil {
		return fmt.Errorf("cancel quote request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// FillIfActive atomically transitions a request from active to filled with a
// settlement nullifier attached. It is the compare-and-set that linearizes
// concurrent acceptance attempts; see TxFillIfActive for the transactional
// variant used inside accept_quote's critical section.
func (r *RequestRepository) FillIfActive(ctx context.Context, requestID uuid.UUID, settlementNullifier string) error {
	query := `UPDATE quote_requests SET status = $2, settlement_nullifier = $3 WHERE request_id = $1 AND status = $4`
	result, err := r.client.ExecContext(ctx, query, requestID, RequestStatusFilled, settlementNullifier, RequestStatusActive)
	if err != nil {
		return fmt.Errorf("fill quote request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// RevertToActive compensates a filled transition when settlement fails before
// any leg executed.
func (r *RequestRepository) RevertToActive(ctx context.Context, requestID uuid.UUID) error {
	query := `UPDATE quote_requests SET status = $2, settlement_nullifier = NULL WHERE request_id = $1 AND status = $3`
	_, err := r.client.ExecContext(ctx, query, requestID, RequestStatusActive, RequestStatusFilled)
	if err != nil {
		return fmt.Errorf("revert quote request: %w", err)
	}
	return nil
}

// TxFillIfActive is the in-transaction form of FillIfActive, used inside the
// single critical section that also transitions the accepted quote and
// rejects its siblings.
func TxFillIfActive(ctx context.Context, tx *Tx, requestID uuid.UUID, settlementNullifier string) error {
	query := `UPDATE quote_requests SET status = $2, settlement_nullifier = $3 WHERE request_id = $1 AND status = $4`
	result, err := tx.Tx().ExecContext(ctx, query, requestID, RequestStatusFilled, settlementNullifier, RequestStatusActive)
	if err != nil {
		return fmt.Errorf("fill quote request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	return nil
}
