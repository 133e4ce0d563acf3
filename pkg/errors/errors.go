// Package errors provides common domain error types for the lexext engine.
//
// This package defines sentinel errors for common domain conditions like
// "invalid document" or "circuit open" that can be used across all packages.
// Using typed errors enables consistent error handling patterns with
// errors.Is() checks.
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNilDocument indicates a missing document text at the extraction boundary.
	ErrNilDocument = errors.New("document text is nil")

	// ErrCircuitOpen indicates the LLM circuit breaker is open and rejecting calls.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRateLimited indicates the request was rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates an operation exceeded its time budget.
	ErrTimeout = errors.New("timeout")

	// ErrMalformedResponse indicates the LLM response could not be parsed,
	// even after repair.
	ErrMalformedResponse = errors.New("malformed response")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsCircuitOpen reports whether any error in err's chain is ErrCircuitOpen.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether any error in err's chain is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsMalformedResponse reports whether any error in err's chain is ErrMalformedResponse.
func IsMalformedResponse(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}
