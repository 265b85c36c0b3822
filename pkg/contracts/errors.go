package contracts

import "errors"

// The error taxonomy of the escrow service. Every mutating operation fails
// with exactly one of these, wrapped with context via fmt.Errorf("…: %w").
// Callers distinguish members with errors.Is; the HTTP surface maps each to
// a machine-readable code via ErrorCode.
var (
	// ErrUnauthorized is returned when a role or identity check fails.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrAlreadyInitialized is returned on re-entrant initialization.
	ErrAlreadyInitialized = errors.New("escrow: already initialized")
	// ErrDuplicateCommitment is returned when a commitment id is already present.
	ErrDuplicateCommitment = errors.New("escrow: duplicate commitment")
	// ErrNotFound is returned when a record or role is absent.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidTransition is returned when a record is not in the expected state.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
	// ErrInvalidPreimage is returned when a preimage does not hash to the lock.
	ErrInvalidPreimage = errors.New("escrow: invalid preimage")
	// ErrExpired is returned when completion is attempted past expiry.
	ErrExpired = errors.New("escrow: expired")
	// ErrNotYetExpired is returned when refund is attempted before expiry.
	ErrNotYetExpired = errors.New("escrow: not yet expired")
	// ErrInsufficientBalance is returned when a ledger debit would overdraw.
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	// ErrInvalidParameters is returned on malformed or out-of-bounds inputs.
	ErrInvalidParameters = errors.New("escrow: invalid parameters")
	// ErrArithmeticOverflow is returned when amount arithmetic would wrap.
	ErrArithmeticOverflow = errors.New("escrow: arithmetic overflow")
)

// ErrorCode returns the stable machine-readable code for a taxonomy member,
// or "INTERNAL" for anything outside the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrAlreadyInitialized):
		return "ALREADY_INITIALIZED"
	case errors.Is(err, ErrDuplicateCommitment):
		return "DUPLICATE_COMMITMENT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidPreimage):
		return "INVALID_PREIMAGE"
	case errors.Is(err, ErrExpired):
		return "EXPIRED"
	case errors.Is(err, ErrNotYetExpired):
		return "NOT_YET_EXPIRED"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInvalidParameters):
		return "INVALID_PARAMETERS"
	case errors.Is(err, ErrArithmeticOverflow):
		return "ARITHMETIC_OVERFLOW"
	}
	return "INTERNAL"
}
