package errors

import (
	"errors"
)

// Sentinel errors for the pipeline error taxonomy
var (
	// ErrBudgetExceeded - tenant token budget exhausted (soft stop, not a crash)
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrReviewRejected - a reviewer rejected a phase output (soft stop)
	ErrReviewRejected = errors.New("review rejected")

	// ErrTransient - retryable failure (5xx, network, timeout)
	ErrTransient = errors.New("transient error")

	// ErrTerminal - non-retryable generation failure (4xx class)
	ErrTerminal = errors.New("terminal error")

	// ErrContextSource - per-source context gathering failure, absorbed into the findings fragment
	ErrContextSource = errors.New("context source error")

	// ErrPersistence - best-effort write failure, logged but never blocks the answer
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - invalid input
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict - conflicting concurrent update
	ErrConflict = errors.New("conflict")

	// ErrInternal - internal error (generic message plus opaque code for the caller)
	ErrInternal = errors.New("internal error")
)
