package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CommitmentRepository is the append-only ledger of consumed deposit-note
// commitments, mirroring NullifierRepository.
type CommitmentRepository struct {
	client *Client
}

// NewCommitmentRepository creates a new commitment repository.
func NewCommitmentRepository(client *Client) *CommitmentRepository {
	return &CommitmentRepository{client: client}
}

// Check returns the row for a commitment if it is active or pending; other
// statuses are reported as not found since they no longer block reuse.
func (r *CommitmentRepository) Check(ctx context.Context, commitment string) (*UsedCommitment, error) {
	query := `SELECT commitment, quote_id, party, status FROM used_commitments WHERE commitment = $1 AND status IN ($2, $3)`
	c := &UsedCommitment{}
	err := r.client.QueryRowContext(ctx, query, commitment, StatusActive, StatusPending).Scan(&c.Commitment, &c.QuoteID, &c.Party, &c.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check commitment: %w", err)
	}
	return c, nil
}

// MarkUsed inserts a commitment row. Returns ErrAlreadyUsed on conflict.
func (r *CommitmentRepository) MarkUsed(ctx context.Context, c *UsedCommitment) error {
	query := `INSERT INTO used_commitments (commitment, quote_id, party, status) VALUES ($1, $2, $3, $4)`
	_, err := r.client.ExecContext(ctx, query, c.Commitment, c.QuoteID, c.Party, c.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("mark commitment used: %w", err)
	}
	return nil
}

// UpdateStatus transitions an existing row, e.g. active -> settled.
func (r *CommitmentRepository) UpdateStatus(ctx context.Context, commitment string, status LedgerStatus) error {
	query := `UPDATE used_commitments SET status = $2 WHERE commitment = $1`
	_, err := r.client.ExecContext(ctx, query, commitment, status)
	if err != nil {
		return fmt.Errorf("update commitment status: %w", err)
	}
	return nil
}

// TxMarkCommitmentUsed is the in-transaction form of MarkUsed.
func TxMarkCommitmentUsed(ctx context.Context, tx *Tx, c *UsedCommitment) error {
	query := `INSERT INTO used_commitments (commitment, quote_id, party, status) VALUES ($1, $2, $3, $4)`
	_, err := tx.Tx().ExecContext(ctx, query, c.Commitment, c.QuoteID, c.Party, c.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("mark commitment used: %w", err)
	}
	return nil
}

// TxUpdateCommitmentStatus is the in-transaction form of UpdateStatus.
func TxUpdateCommitmentStatus(ctx context.Context, tx *Tx, commitment string, status LedgerStatus) error {
	query := `UPDATE used_commitments SET status = $2 WHERE commitment = $1`
	_, err := tx.Tx().ExecContext(ctx, query, commitment, status)
	if err != nil {
		return fmt.Errorf("update commitment status: %w", err)
	}
	return nil
}
