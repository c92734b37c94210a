package lmsr

import "github.com/cockroachdb/apd/v3"

const maxFeeFactor = 1_000_000

// Validate checks that m describes a market: at least two outcomes, integer
// net sold counts and a non-negative integer funding.
func (m Market) Validate() error {
	if len(m.NetOutcomeTokensSold) < 2 {
		return invalidf("need at least 2 outcomes, got %d", len(m.NetOutcomeTokensSold))
	}
	for i, sold := range m.NetOutcomeTokensSold {
		if !isInteger(sold) {
			return invalidf("net outcome tokens sold[%d] must be an integer", i)
		}
	}
	if !isInteger(m.Funding) {
		return invalidf("funding must be an integer")
	}
	if m.Funding.Sign() < 0 {
		return invalidf("funding must not be negative, got %s", m.Funding)
	}
	return nil
}

func (m Market) validateIndex(idx int) error {
	if idx < 0 || idx >= len(m.NetOutcomeTokensSold) {
		return invalidf("outcome token index %d out of range [0, %d)", idx, len(m.NetOutcomeTokensSold))
	}
	return nil
}

func validateFee(feeFactor int64) error {
	if feeFactor < 0 || feeFactor >= maxFeeFactor {
		return invalidf("fee factor %d out of range [0, %d)", feeFactor, maxFeeFactor)
	}
	return nil
}

func (o TradeOpts) validate() error {
	if err := o.Market.Validate(); err != nil {
		return err
	}
	if err := o.validateIndex(o.OutcomeTokenIndex); err != nil {
		return err
	}
	if !isInteger(o.OutcomeTokenCount) {
		return invalidf("outcome token count must be an integer")
	}
	if o.OutcomeTokenCount.Sign() < 0 {
		return invalidf("outcome token count must not be negative, got %s", o.OutcomeTokenCount)
	}
	return validateFee(o.FeeFactor)
}

func (o CountOpts) validate() error {
	if err := o.Market.Validate(); err != nil {
		return err
	}
	if err := o.validateIndex(o.OutcomeTokenIndex); err != nil {
		return err
	}
	if o.Cost == nil || o.Cost.Form != apd.Finite {
		return invalidf("cost must be a finite decimal")
	}
	if o.Cost.Sign() < 0 {
		return invalidf("cost must not be negative, got %s", o.Cost)
	}
	if o.Funding.IsZero() {
		return invalidf("token count for cost is undefined for an unfunded market")
	}
	return validateFee(o.FeeFactor)
}

func (o PriceOpts) validate() error {
	if err := o.Market.Validate(); err != nil {
		return err
	}
	return o.validateIndex(o.OutcomeTokenIndex)
}

func isInteger(d *apd.Decimal) bool {
	if d == nil || d.Form != apd.Finite {
		return false
	}
	var frac apd.Decimal
	d.Modf(nil, &frac)
	return frac.IsZero()
}
