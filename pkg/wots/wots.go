// Package wots implements verification of WOTS+ (Winternitz One-Time
// Signature Plus) signatures, the post-quantum one-time primitive every RFQ
// operation is authorized with. One keypair is valid for exactly one
// message; reuse detection lives in the signature ledger (pkg/database),
// not here — this package is a pure function over byte slices.
package wots

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/certen/rfq-core/pkg/apierr"
)

const (
	// SignatureSize is the fixed length of a WOTS+ signature in bytes.
	SignatureSize = 2144
	// PublicKeySize is the fixed length of a WOTS+ address: 2144 bytes of
	// reconstructable public key material plus a 32-byte pub_seed and a
	// 32-byte rand2.
	PublicKeySize = 2208

	chainValueSize  = 32 // blake2b-256 output size per chain
	chainCount      = 67 // SignatureSize / chainValueSize
	digestChunks    = 64
	checksumChunks  = 3
	pubSeedSize     = 32
	rand2Size       = 32
	reconstructedPK = chainCount * chainValueSize
)

// Result is the outcome of a Verify call.
type Result struct {
	Valid         bool
	SignatureHash [32]byte
}

// Verify checks a WOTS+ signature over message_bytes against public_key_bytes.
// It never panics on untrusted input: malformed lengths are reported as
// apierr.KindValidation, and a failed reconstruction is apierr.KindSignatureInvalid.
// signature_hash is always computed, even when the result is invalid, since
// callers only consult it on success.
func Verify(message, signature, publicKey []byte) (Result, *apierr.Error) {
	sigHash := sha256.Sum256(signature)
	result := Result{SignatureHash: sigHash}

	if len(signature) != SignatureSize {
		return result, apierr.Newf(apierr.KindValidation, "signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	if len(publicKey) != PublicKeySize {
		return result, apierr.Newf(apierr.KindValidation, "public key must be %d bytes, got %d", PublicKeySize, len(publicKey))
	}

	pubSeed := publicKey[reconstructedPK : reconstructedPK+pubSeedSize]
	rand2 := publicKey[reconstructedPK+pubSeedSize : reconstructedPK+pubSeedSize+rand2Size]
	wantPK := publicKey[:reconstructedPK]

	messageHash := sha256.Sum256(message)
	chunks := expandChunks(messageHash)

	gotPK := make([]byte, 0, reconstructedPK)
	for i := 0; i < chainCount; i++ {
		sigChunk := signature[i*chainValueSize : (i+1)*chainValueSize]
		steps := 255 - int(chunks[i])
		gotPK = append(gotPK, chainHash(pubSeed, rand2, i, steps, sigChunk)...)
	}

	if subtle.ConstantTimeCompare(gotPK, wantPK) != 1 {
		result.Valid = false
		return result, apierr.New(apierr.KindSignatureInvalid, "signature does not reconstruct the supplied public key")
	}

	result.Valid = true
	return result, nil
}

// expandChunks derives the 67 base-256 chain positions (64 message digits
// plus a 3-digit checksum) from a 32-byte SHA-256 message digest.
func expandChunks(messageHash [32]byte) [chainCount]byte {
	second := sha256.Sum256(messageHash[:])

	var digest [digestChunks]byte
	copy(digest[:32], messageHash[:])
	copy(digest[32:], second[:])

	var checksum uint32
	for _, b := range digest {
		checksum += uint32(255 - b)
	}

	var chunks [chainCount]byte
	copy(chunks[:digestChunks], digest[:])
	var checksumBytes [4]byte
	binary.BigEndian.PutUint32(checksumBytes[:], checksum)
	copy(chunks[digestChunks:], checksumBytes[1:1+checksumChunks])
	return chunks
}

// chainHash applies the WOTS+ hash chain `steps` times over `value`, keyed
// by pub_seed, rand2, and the chain's position so that identical values in
// different chain slots never collide.
func chainHash(pubSeed, rand2 []byte, chainIndex, steps int, value []byte) []byte {
	cur := value
	for s := 0; s < steps; s++ {
		cur = chainStep(pubSeed, rand2, chainIndex, s, cur)
	}
	return cur
}

func chainStep(pubSeed, rand2 []byte, chainIndex, step int, value []byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an invalid key length, and we pass none.
		panic(fmt.Sprintf("wots: blake2b init: %v", err))
	}
	h.Write(pubSeed)
	h.Write(rand2)
	var idx [8]byte
	binary.BigEndian.PutUint32(idx[:4], uint32(chainIndex))
	binary.BigEndian.PutUint32(idx[4:], uint32(step))
	h.Write(idx[:])
	h.Write(value)
	return h.Sum(nil)
}
