package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy. All of these are local to the instrument or instruction
// that raised them; a cycle records them and continues.
var (
	// ErrQuoteUnavailable - price lookup failed or returned a non-positive
	// price. The instrument is skipped and counted as an error.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrInsufficientFunds - a buy exceeds available cash
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientPosition - a sell exceeds the sellable share count
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrDuplicateCommand - the instruction's canonical key is already in the
	// executed set. Not an error condition for the cycle.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrInstructionExpired - the instruction sat in the queue longer than
	// the configured expiry. Discarded with a warning, not counted as an error.
	ErrInstructionExpired = errors.New("instruction expired")
)

// GatewayError wraps transport, auth or parsing failures from the remote
// service. The current poll or reconciliation attempt aborts for that
// portfolio only and is retried on the next tick.
type GatewayError struct {
	Op  string // The gateway operation that failed
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError wraps err as a gateway failure for the given operation
func NewGatewayError(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Err: err}
}
