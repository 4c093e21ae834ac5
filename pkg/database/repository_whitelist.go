package database

import (
	"context"
	"fmt"
)

// WhitelistRepository persists permissioned-mode market-maker admissions so
// the in-memory gate (pkg/whitelist) can be rehydrated across restarts.
type WhitelistRepository struct {
	client *Client
}

// NewWhitelistRepository creates a new whitelist repository.
func NewWhitelistRepository(client *Client) *WhitelistRepository {
	return &WhitelistRepository{client: client}
}

// Add admits a public key, idempotently.
func (r *WhitelistRepository) Add(ctx context.Context, publicKey []byte) error {
	query := `INSERT INTO whitelisted_makers (public_key) VALUES ($1) ON CONFLICT DO NOTHING`
	if _, err := r.client.ExecContext(ctx, query, publicKey); err != nil {
		return fmt.Errorf("whitelist add: %w", err)
	}
	return nil
}

// Remove revokes a public key.
func (r *WhitelistRepository) Remove(ctx context.Context, publicKey []byte) error {
	query := `DELETE FROM whitelisted_makers WHERE public_key = $1`
	if _, err := r.client.ExecContext(ctx, query, publicKey); err != nil {
		return fmt.Errorf("whitelist remove: %w", err)
	}
	return nil
}

// ListAll returns every admitted public key, used to hydrate the in-memory
// gate at startup.
func (r *WhitelistRepository) ListAll(ctx context.Context) ([][]byte, error) {
	query := `SELECT public_key FROM whitelisted_makers`
	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("whitelist list: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var pk []byte
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scan whitelist row: %w", err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}
