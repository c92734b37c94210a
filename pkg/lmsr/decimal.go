package lmsr

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// DefaultContext keeps about 18 guard digits beyond the 18-decimal (wei)
// unit of account of the on-chain contract for values up to 1e14 whole
// units. Underflowing exponentials round to zero instead of failing.
var DefaultContext = apd.Context{
	Precision:   50,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps &^ (apd.Underflow | apd.Subnormal),
	Rounding:    apd.RoundHalfEven,
}

// Calculator evaluates the pricing operations under one fixed decimal
// context. It holds no other state and is safe for concurrent use.
type Calculator struct {
	ctx apd.Context
}

// New returns a Calculator using a copy of ctx, or DefaultContext when ctx
// is nil. Later changes to ctx do not affect the Calculator.
func New(ctx *apd.Context) *Calculator {
	if ctx == nil {
		ctx = &DefaultContext
	}
	return &Calculator{ctx: *ctx}
}

// Default is the Calculator behind the package-level functions.
var Default = New(nil)

// Context returns a copy of the calculator's decimal context.
func (c *Calculator) Context() apd.Context {
	return c.ctx
}

func (c *Calculator) errDecimal() *apd.ErrDecimal {
	ed := apd.MakeErrDecimal(&c.ctx)
	return &ed
}

// check reports the first failed step of a computation. Inputs are
// validated beforehand, so any failure left is the exponent range of the
// context being exceeded.
func check(ed *apd.ErrDecimal) error {
	if err := ed.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNumericOverflow, err)
	}
	return nil
}

// result returns d unless a step of the computation failed.
func result(ed *apd.ErrDecimal, d *apd.Decimal) (*apd.Decimal, error) {
	if err := check(ed); err != nil {
		return nil, err
	}
	return d, nil
}

// Int returns v as a decimal.
func Int(v int64) *apd.Decimal {
	return apd.New(v, 0)
}

// Ints returns vs as decimals, in order.
func Ints(vs ...int64) []*apd.Decimal {
	ds := make([]*apd.Decimal, len(vs))
	for i, v := range vs {
		ds[i] = Int(v)
	}
	return ds
}

// Parse reads a decimal such as "1000000000000000000" or "12.5".
func Parse(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, invalidf("parse %q: %v", s, err)
	}
	return d, nil
}
