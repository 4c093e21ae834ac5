// Package database provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns.

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrRequestNotFound is returned when a quote request is not found
	ErrRequestNotFound = errors.New("quote request not found")

	// ErrQuoteNotFound is returned when a quote is not found
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrAlreadyUsed is returned on a uniqueness conflict for a signature,
	// nullifier, or commitment row.
	ErrAlreadyUsed = errors.New("already used")

	// ErrConflict is returned when a compare-and-set transition loses its race.
	ErrConflict = errors.New("conflict")

	// ErrRequestConflict is returned by AcceptQuote when another acceptance
	// already filled the request before this one reached the critical section.
	ErrRequestConflict = errors.New("request already filled by another acceptance")

	// ErrQuoteConflict is returned by AcceptQuote when the quote itself is no
	// longer active (already accepted, rejected, or expired) even though the
	// request fill succeeded.
	ErrQuoteConflict = errors.New("quote no longer active")
)
