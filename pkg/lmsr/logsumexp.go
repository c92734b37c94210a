package lmsr

import "github.com/cockroachdb/apd/v3"

// LogSumExp returns ln(Σ exp(v)) for values. The shifted form subtracts
// max(values) from every term before exponentiating and adds it back after
// the logarithm, so it cannot overflow. The unshifted form matches the
// on-chain evaluator term for term, including where it overflows.
func (c *Calculator) LogSumExp(values []*apd.Decimal, shifted bool) (*apd.Decimal, error) {
	if len(values) == 0 {
		return nil, invalidf("log-sum-exp of no values")
	}
	for i, v := range values {
		if v == nil || v.Form != apd.Finite {
			return nil, invalidf("value[%d] must be a finite decimal", i)
		}
	}
	ed := c.errDecimal()
	return result(ed, logSumExp(ed, values, shifted))
}

func logSumExp(ed *apd.ErrDecimal, values []*apd.Decimal, shifted bool) *apd.Decimal {
	m := maxOf(values)
	if shifted {
		_, sum := shiftedExps(ed, values)
		lse := ed.Ln(new(apd.Decimal), sum)
		return ed.Add(lse, lse, m)
	}
	gap := negligibleGap(ed)
	sum := new(apd.Decimal)
	for _, v := range values {
		if negligible(ed, v, m, gap) {
			continue
		}
		ed.Add(sum, sum, ed.Exp(new(apd.Decimal), v))
	}
	return ed.Ln(new(apd.Decimal), sum)
}

// shiftedExps returns exp(v - max(values)) for every value, and their sum.
// The largest term is exactly one, so the sum is at least one. Terms too
// small to change the sum are zero.
func shiftedExps(ed *apd.ErrDecimal, values []*apd.Decimal) ([]*apd.Decimal, *apd.Decimal) {
	m := maxOf(values)
	gap := negligibleGap(ed)
	exps := make([]*apd.Decimal, len(values))
	sum := new(apd.Decimal)
	for i, v := range values {
		if negligible(ed, v, m, gap) {
			exps[i] = new(apd.Decimal)
			continue
		}
		exps[i] = ed.Exp(new(apd.Decimal), ed.Sub(new(apd.Decimal), v, m))
		ed.Add(sum, sum, exps[i])
	}
	return exps, sum
}

// negligibleGap returns (precision+2)·ln 10. exp(v) is below the last
// digit of any sum containing exp(v+gap).
func negligibleGap(ed *apd.ErrDecimal) *apd.Decimal {
	gap := ed.Ln(new(apd.Decimal), apd.New(10, 0))
	return ed.Mul(gap, gap, apd.New(int64(ed.Ctx.Precision)+2, 0))
}

// negligible reports whether exp(v) cannot change a sum that holds exp(m).
// Adding such a term would also need an exponent alignment beyond the
// context's range.
func negligible(ed *apd.ErrDecimal, v, m, gap *apd.Decimal) bool {
	return ed.Sub(new(apd.Decimal), m, v).Cmp(gap) > 0
}

func maxOf(values []*apd.Decimal) *apd.Decimal {
	m := values[0]
	for _, v := range values[1:] {
		if v.Cmp(m) > 0 {
			m = v
		}
	}
	return m
}

// scale returns every value divided by b.
func scale(ed *apd.ErrDecimal, values []*apd.Decimal, b *apd.Decimal) []*apd.Decimal {
	scaled := make([]*apd.Decimal, len(values))
	for i, v := range values {
		scaled[i] = ed.Quo(new(apd.Decimal), v, b)
	}
	return scaled
}

// withDelta returns a copy of values with delta added at idx. values is
// not modified.
func withDelta(ed *apd.ErrDecimal, values []*apd.Decimal, idx int, delta *apd.Decimal) []*apd.Decimal {
	moved := make([]*apd.Decimal, len(values))
	copy(moved, values)
	moved[idx] = ed.Add(new(apd.Decimal), values[idx], delta)
	return moved
}
