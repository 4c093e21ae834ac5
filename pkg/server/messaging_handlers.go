package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/messaging"
)

type sendMessageBody struct {
	QuoteRequestID          uuid.UUID `json:"quoteRequestId"`
	RecipientStealthAddress string    `json:"recipientStealthAddress"`
	EncryptedContent        string    `json:"encryptedContent"`
	Signature               string    `json:"signature"`
	PublicKey               string    `json:"publicKey"`
}

// HandleSendMessage handles POST /api/v1/rfq/message.
func (h *RFQHandlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, h.logger)
		return
	}
	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, h.logger, "invalid JSON body")
		return
	}

	recipient, apiErr := decodeHex("recipientStealthAddress", body.RecipientStealthAddress)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	payload, apiErr := decodeHex("encryptedContent", body.EncryptedContent)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	sig, apiErr := decodeHex("signature", body.Signature)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	pk, apiErr := decodeHex("publicKey", body.PublicKey)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}

	msg, apiErr := h.relay.SendMessage(r.Context(), messaging.SendMessageInput{
		RequestID:               body.QuoteRequestID,
		RecipientStealthAddress: recipient,
		EncryptedPayload:        payload,
		Signature:               sig,
		PublicKey:               pk,
	})
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	writeCreated(w, h.logger, map[string]interface{}{"messageId": msg.MessageID})
}

func (h *RFQHandlers) handleGetMessages(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	msgs, apiErr := h.relay.GetMessages(r.Context(), requestID)
	if apiErr != nil {
		writeAPIError(w, h.logger, apiErr)
		return
	}
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]interface{}{
			"messageId":               m.MessageID,
			"quoteRequestId":          m.RequestID,
			"senderPublicKey":         hex.EncodeToString(m.SenderPublicKey),
			"recipientStealthAddress": hex.EncodeToString(m.RecipientStealthAddress),
			"encryptedContent":        hex.EncodeToString(m.EncryptedPayload),
			"createdAt":               m.CreatedAt,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"messages": out})
}
