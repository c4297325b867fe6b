package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the input failed domain validation.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates the record is in a state that forbids the operation.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientCredits is the terminal, non-retryable billing failure.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
