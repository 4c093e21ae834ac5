package wots

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/certen/rfq-core/pkg/apierr"
)

// sign builds a valid (signature, publicKey) pair for message using a
// freshly generated one-time keypair, mirroring what a client-side signer
// would produce. It exists only to exercise Verify in tests.
func sign(t *testing.T, message []byte) (signature, publicKey []byte) {
	t.Helper()

	pubSeed := make([]byte, pubSeedSize)
	rand2 := make([]byte, rand2Size)
	if _, err := rand.Read(pubSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(rand2); err != nil {
		t.Fatal(err)
	}

	secret := make([]byte, chainCount*chainValueSize)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}

	messageHash := sha256.Sum256(message)
	chunks := expandChunks(messageHash)

	signature = make([]byte, 0, SignatureSize)
	pk := make([]byte, 0, reconstructedPK)
	for i := 0; i < chainCount; i++ {
		secretChunk := secret[i*chainValueSize : (i+1)*chainValueSize]
		chunkValue := int(chunks[i])
		sigChunk := chainHash(pubSeed, rand2, i, chunkValue, secretChunk)
		pkChunk := chainHash(pubSeed, rand2, i, 255-chunkValue, sigChunk)
		signature = append(signature, sigChunk...)
		pk = append(pk, pkChunk...)
	}

	publicKey = append(append(pk, pubSeed...), rand2...)
	return signature, publicKey
}

func TestVerifyValidSignature(t *testing.T) {
	message := []byte("create_quote_request:SOL/USDC:buy:2000000000")
	signature, publicKey := sign(t, message)

	result, apiErr := Verify(message, signature, publicKey)
	if apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	if !result.Valid {
		t.Fatal("expected signature to verify")
	}
	if result.SignatureHash == ([32]byte{}) {
		t.Fatal("expected a non-zero signature hash")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	message := []byte("cancel_quote_request:abc123")
	signature, publicKey := sign(t, message)

	result, apiErr := Verify([]byte("cancel_quote_request:abc124"), signature, publicKey)
	if apiErr == nil {
		t.Fatal("expected verification failure for tampered message")
	}
	if apiErr.Kind != apierr.KindSignatureInvalid {
		t.Fatalf("expected signature_invalid, got %s", apiErr.Kind)
	}
	if result.Valid {
		t.Fatal("expected invalid result")
	}
}

func TestVerifyRejectsWrongLengths(t *testing.T) {
	message := []byte("accept_quote:abc")
	signature, publicKey := sign(t, message)

	if _, apiErr := Verify(message, signature[:SignatureSize-1], publicKey); apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatal("expected validation error for short signature")
	}
	if _, apiErr := Verify(message, signature, publicKey[:PublicKeySize-1]); apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatal("expected validation error for short public key")
	}
}

func TestVerifyIsDeterministic(t *testing.T) {
	message := []byte("submit_quote:req-1:300000000:999999999")
	signature, publicKey := sign(t, message)

	r1, _ := Verify(message, signature, publicKey)
	r2, _ := Verify(message, signature, publicKey)
	if !bytes.Equal(r1.SignatureHash[:], r2.SignatureHash[:]) {
		t.Fatal("signature hash must be deterministic")
	}
}
