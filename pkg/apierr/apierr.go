// Package apierr implements the semantic error taxonomy shared by every
// RFQ core component. Components return a *Error instead of constructing
// HTTP status codes themselves; the API surface (C10) is the single place
// that maps a Kind to a status code.
package apierr

import "fmt"

// Kind is a semantic error category, independent of transport.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindSignatureInvalid   Kind = "signature_invalid"
	KindSignatureReused    Kind = "signature_reused"
	KindNotWhitelisted     Kind = "not_whitelisted"
	KindNotFound           Kind = "not_found"
	KindStaleState         Kind = "stale_state"
	KindConflict           Kind = "conflict"
	KindNullifierUsed      Kind = "nullifier_used"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindVaultUnavailable   Kind = "vault_unavailable"
	KindSettlementPartial  Kind = "settlement_partial"
	KindInternal           Kind = "internal"
)

// Error is the typed error every component constructs and the API surface
// renders into the JSON error envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail fields, returning the same error
// for chaining at the call site.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Internal wraps an unexpected lower-level error as KindInternal. Every
// unhandled error in the system must pass through here before reaching a
// caller — there are no silent catches.
func Internal(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// As extracts an *Error from a generic error, falling back to KindInternal
// for anything that isn't already typed.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return Internal(err)
}
