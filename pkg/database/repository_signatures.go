package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SignatureRepository enforces the one-time-signature anti-reuse invariant.
type SignatureRepository struct {
	client *Client
}

// NewSignatureRepository creates a new signature repository.
func NewSignatureRepository(client *Client) *SignatureRepository {
	return &SignatureRepository{client: client}
}

// Reserve inserts a UsedSignature row. It returns ErrAlreadyUsed if the
// signature_hash already exists — the sole mechanism by which reuse (the
// system's only form of hostile WOTS+ behavior) is detected.
func (r *SignatureRepository) Reserve(ctx context.Context, sig *UsedSignature) error {
	sig.UsedAt = time.Now()
	query := `
		INSERT INTO used_signatures (signature_hash, used_at, operation_kind, public_key)
		VALUES ($1, $2, $3, $4)`

	_, err := r.client.ExecContext(ctx, query, sig.SignatureHash, sig.UsedAt, sig.OperationKind, sig.PublicKey)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("reserve signature: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// the signal a conflicting insert races another reservation.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == "23505"
}
