package model

import "errors"

// Error taxonomy. Components wrap these with fmt.Errorf("%w: ...") so the
// API boundary can map each class to a status code with errors.Is.
var (
	// ErrValidation: malformed input (bad amount, bad side, unknown asset).
	// Rejected synchronously, no state change.
	ErrValidation = errors.New("validation error")

	// ErrState: operation not legal in the current lifecycle state
	// (contest not active, full, already joined).
	ErrState = errors.New("state error")

	// ErrSignature: invalid, stale or replayed trade signature.
	ErrSignature = errors.New("signature error")

	// ErrInsufficientFunds: fund ledger could not lock the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockExpired / ErrLockUsed: odds lock reuse or expiry.
	ErrLockExpired = errors.New("odds lock expired")
	ErrLockUsed    = errors.New("odds lock already used")

	// ErrSettlementConflict: re-entrant settlement trigger. Callers treat
	// this as a no-op.
	ErrSettlementConflict = errors.New("settlement already performed")

	// ErrNotFound: unknown contest, bet or lock id.
	ErrNotFound = errors.New("not found")
)
