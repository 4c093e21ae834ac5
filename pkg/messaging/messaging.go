// Package messaging implements the Messaging Relay (C8): store-and-forward
// encrypted exchange between a request's taker and the market makers that
// have quoted on it. The relay never decrypts payloads; it only verifies
// the sender holds a fresh one-time signature and relays ciphertext.
package messaging

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/privacy"
	"github.com/certen/rfq-core/pkg/wots"
)

// Relay is the messaging relay over the request/quote store.
type Relay struct {
	repos  *database.Repositories
	logger *log.Logger
}

// New constructs a Relay.
func New(repos *database.Repositories, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.New(log.Writer(), "[Messaging] ", log.LstdFlags)
	}
	return &Relay{repos: repos, logger: logger}
}

// SendMessageInput carries the validated fields of a send_message call.
type SendMessageInput struct {
	RequestID               uuid.UUID
	RecipientStealthAddress []byte
	EncryptedPayload        []byte
	Signature               []byte
	PublicKey               []byte
}

// SendMessage implements send_message per spec §4.8. The request must exist
// (any status — messages may continue after a fill, e.g. settlement
// coordination) and the payload must not be empty.
func (r *Relay) SendMessage(ctx context.Context, in SendMessageInput) (*database.Message, *apierr.Error) {
	if len(in.EncryptedPayload) == 0 {
		return nil, apierr.New(apierr.KindValidation, "encryptedPayload must not be empty")
	}
	if len(in.RecipientStealthAddress) == 0 {
		return nil, apierr.New(apierr.KindValidation, "recipientStealthAddress is required")
	}

	if _, err := r.repos.Requests.Get(ctx, in.RequestID); err != nil {
		if err == database.ErrRequestNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return nil, apierr.Internal(err)
	}

	message := []byte(fmt.Sprintf("send_message:%s:%s:%s", in.RequestID,
		privacy.Fingerprint(in.RecipientStealthAddress), privacy.Fingerprint(in.EncryptedPayload)))

	result, verifyErr := wots.Verify(message, in.Signature, in.PublicKey)
	if verifyErr != nil {
		return nil, verifyErr
	}

	sigHash := privacy.Fingerprint(result.SignatureHash[:])
	if err := r.repos.Signatures.Reserve(ctx, &database.UsedSignature{
		SignatureHash: sigHash,
		OperationKind: database.OpSendMessage,
		PublicKey:     in.PublicKey,
	}); err != nil {
		if err == database.ErrAlreadyUsed {
			return nil, apierr.New(apierr.KindSignatureReused, "signature already used")
		}
		return nil, apierr.Internal(err)
	}

	msg := &database.Message{
		RequestID:               in.RequestID,
		SenderPublicKey:         in.PublicKey,
		RecipientStealthAddress: in.RecipientStealthAddress,
		EncryptedPayload:        in.EncryptedPayload,
		Signature:               in.Signature,
	}
	created, err := r.repos.Messages.Create(ctx, msg)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return created, nil
}

// GetMessages implements get_messages: all messages on a request ordered by
// arrival time, oldest first.
func (r *Relay) GetMessages(ctx context.Context, requestID uuid.UUID) ([]*database.Message, *apierr.Error) {
	if _, err := r.repos.Requests.Get(ctx, requestID); err != nil {
		if err == database.ErrRequestNotFound {
			return nil, apierr.New(apierr.KindNotFound, "quote request not found")
		}
		return nil, apierr.Internal(err)
	}
	msgs, err := r.repos.Messages.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return msgs, nil
}
