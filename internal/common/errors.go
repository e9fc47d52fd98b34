// Package common defines sentinel errors shared by the escrow node and the
// trustee node. Callers should use errors.Is to match these values; the
// state-conflict variants wrap ErrStateConflict so they match both.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Request errors. Never retried.
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")

	// Proof gate.
	ErrProofInvalid = errors.New("proof invalid")

	// Ledger state conflicts.
	ErrStateConflict       = errors.New("state conflict")
	ErrSlotsExhausted      = fmt.Errorf("%w: slots exhausted", ErrStateConflict)
	ErrAlreadyRepaid       = fmt.Errorf("%w: already repaid", ErrStateConflict)
	ErrDeadlinePassed      = fmt.Errorf("%w: deadline passed", ErrStateConflict)
	ErrDeadlineNotReached  = fmt.Errorf("%w: deadline not reached", ErrStateConflict)
	ErrAlreadyDefaulted    = fmt.Errorf("%w: already defaulted", ErrStateConflict)
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrTransientNetwork    = errors.New("transient network error")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrPartialDistribution = errors.New("partial distribution")

	// Reveal guard rails.
	ErrAlreadyRevealed  = errors.New("already revealed")
	ErrRevealInProgress = errors.New("reveal in progress")

	// Vault errors. Fatal for the attempt.
	ErrDecryptionFailed = errors.New("decryption failed")

	// Auth.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Permanent reports whether retrying the operation that returned err cannot
// succeed. Background workers drop such jobs instead of rescheduling them.
func Permanent(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrForbidden,
		ErrNotFound,
		ErrStateConflict,
		ErrInvariantViolation,
		ErrAlreadyRevealed,
		ErrRevealInProgress,
		ErrDecryptionFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
