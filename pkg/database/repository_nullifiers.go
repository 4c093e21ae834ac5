package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NullifierRepository is the append-only ledger of consumed deposit-note
// nullifiers, shared conceptually with the external privacy vault.
type NullifierRepository struct {
	client *Client
}

// NewNullifierRepository creates a new nullifier repository.
func NewNullifierRepository(client *Client) *NullifierRepository {
	return &NullifierRepository{client: client}
}

// Check returns the current row for a nullifier hash, or ErrNotFound.
func (r *NullifierRepository) Check(ctx context.Context, hash string) (*UsedNullifier, error) {
	query := `SELECT nullifier_hash, quote_id, party, status, used_at FROM used_nullifiers WHERE nullifier_hash = $1`
	n := &UsedNullifier{}
	err := r.client.QueryRowContext(ctx, query, hash).Scan(&n.NullifierHash, &n.QuoteID, &n.Party, &n.Status, &n.UsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check nullifier: %w", err)
	}
	return n, nil
}

// MarkUsed inserts a nullifier row. Returns ErrAlreadyUsed on conflict.
func (r *NullifierRepository) MarkUsed(ctx context.Context, hash string, quoteID uuid.NullUUID, party NullifierParty, status LedgerStatus) error {
	query := `
		INSERT INTO used_nullifiers (nullifier_hash, quote_id, party, status, used_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.client.ExecContext(ctx, query, hash, quoteID, party, status, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("mark nullifier used: %w", err)
	}
	return nil
}

// MarkExternalUsed records a nullifier consumed by a withdrawal at the
// external vault, outside of any RFQ acceptance. It is the only write path
// the vault's back-channel (mark-nullifier-used) is permitted to drive.
func (r *NullifierRepository) MarkExternalUsed(ctx context.Context, hash string) error {
	return r.MarkUsed(ctx, hash, uuid.NullUUID{}, PartyManual, StatusSettled)
}

// UpdateStatus transitions an existing row, e.g. pending -> settled or
// active -> cancelled/expired.
func (r *NullifierRepository) UpdateStatus(ctx context.Context, hash string, status LedgerStatus) error {
	query := `UPDATE used_nullifiers SET status = $2 WHERE nullifier_hash = $1`
	_, err := r.client.ExecContext(ctx, query, hash, status)
	if err != nil {
		return fmt.Errorf("update nullifier status: %w", err)
	}
	return nil
}

// ListUsed returns every nullifier hash currently pending or settled.
func (r *NullifierRepository) ListUsed(ctx context.Context) ([]string, error) {
	query := `SELECT nullifier_hash FROM used_nullifiers WHERE status IN ($1, $2)`
	rows, err := r.client.QueryContext(ctx, query, StatusPending, StatusSettled)
	if err != nil {
		return nil, fmt.Errorf("list used nullifiers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan nullifier: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TxMarkUsed is the in-transaction form of MarkUsed.
func TxMarkUsed(ctx context.Context, tx *Tx, hash string, quoteID uuid.NullUUID, party NullifierParty, status LedgerStatus) error {
	query := `
		INSERT INTO used_nullifiers (nullifier_hash, quote_id, party, status, used_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := tx.Tx().ExecContext(ctx, query, hash, quoteID, party, status, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("mark nullifier used: %w", err)
	}
	return nil
}

// TxUpdateStatus is the in-transaction form of UpdateStatus.
func TxUpdateStatus(ctx context.Context, tx *Tx, hash string, status LedgerStatus) error {
	query := `UPDATE used_nullifiers SET status = $2 WHERE nullifier_hash = $1`
	_, err := tx.Tx().ExecContext(ctx, query, hash, status)
	if err != nil {
		return fmt.Errorf("update nullifier status: %w", err)
	}
	return nil
}
