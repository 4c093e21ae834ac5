package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageRepository stores the insert-only, store-and-forward messages
// exchanged between the parties of a quote request.
type MessageRepository struct {
	client *Client
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(client *Client) *MessageRepository {
	return &MessageRepository{client: client}
}

// Create inserts a message. The payload is opaque ciphertext and is never
// inspected.
func (r *MessageRepository) Create(ctx context.Context, m *Message) (*Message, error) {
	m.MessageID = uuid.New()
	m.CreatedAt = time.Now()

	query := `
		INSERT INTO messages (
			message_id, request_id, sender_public_key, recipient_stealth_address,
			encrypted_payload, created_at, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING message_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		m.MessageID, m.RequestID, m.SenderPublicKey, m.RecipientStealthAddress,
		m.EncryptedPayload, m.CreatedAt, m.Signature,
	).Scan(&m.MessageID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// ListByRequest returns every message for a request, ordered by creation time.
func (r *MessageRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Message, error) {
	query := `
		SELECT message_id, request_id, sender_public_key, recipient_stealth_address,
			encrypted_payload, created_at, signature
		FROM messages
		WHERE request_id = $1
		ORDER BY created_at ASC`

	rows, err := r.client.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list messages by request: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.MessageID, &m.RequestID, &m.SenderPublicKey, &m.RecipientStealthAddress,
			&m.EncryptedPayload, &m.CreatedAt, &m.Signature); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
