package pnl

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a synchronously rejected call: non-positive
// amount, negative cost basis or sale price, or a malformed identity.
// No partial mutation is performed when it is returned.
var ErrInvalidInput = errors.New("invalid input")

// InsufficientLotsError reports a disposal that requested more units than
// were available across open lots. It is a data-quality signal (missing
// acquisition history), not a transactional failure: the partial
// consumption that did occur is committed, and the accompanying
// ConsumeResult carries it.
type InsufficientLotsError struct {
	Address     string
	ContractID  string
	Requested   decimal.Decimal
	Consumed    decimal.Decimal
	Unsatisfied decimal.Decimal
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf("insufficient lots for %s/%s: requested %s, consumed %s, unsatisfied %s",
		e.Address, e.ContractID, e.Requested, e.Consumed, e.Unsatisfied)
}

// invalidInputf wraps ErrInvalidInput with a reason.
func invalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
