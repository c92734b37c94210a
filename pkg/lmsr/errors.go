package lmsr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned before any arithmetic when an argument is
	// outside its domain. Inputs are never clamped.
	ErrInvalidInput = errors.New("lmsr: invalid input")
	// ErrUndefinedInverse is returned when no token count corresponds to the
	// requested cost for the given outcome and market state.
	ErrUndefinedInverse = errors.New("lmsr: cost not invertible")
	// ErrNumericOverflow is returned when an intermediate value leaves the
	// exponent range of the decimal context. In practice only the unshifted
	// log-sum-exp used by Cost, Profit and OutcomeTokenCountForCost produces
	// it, when an exponential grows too large.
	ErrNumericOverflow = errors.New("lmsr: numeric overflow")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
