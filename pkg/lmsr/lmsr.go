// Package lmsr prices trades against a Logarithmic Market Scoring Rule
// market maker.
//
// Results are computed in arbitrary-precision decimal arithmetic and
// rounded so they agree with the fixed-point contract that settles the
// trades: costs round up and refunds and token counts round down. The
// operations are pure functions of their inputs and the calculator's
// decimal context.
package lmsr

import "github.com/cockroachdb/apd/v3"

var (
	// chainBias dominates the truncation error of the on-chain fixed-point
	// evaluator. Costs are multiplied by it and profits divided by it so an
	// off-chain quote never undercuts the contract. It is not a rounding
	// policy and is not derived from anything.
	chainBias = apd.New(1_000_000_001, -9)

	one        = apd.New(1, 0)
	feeDivisor = apd.New(maxFeeFactor, 0)
)

// Market is a snapshot of a market maker's inventory.
type Market struct {
	// NetOutcomeTokensSold holds, per outcome, the tokens the market maker
	// sold minus the tokens it bought back. Index order identifies the
	// outcome.
	NetOutcomeTokensSold []*apd.Decimal
	// Funding is the collateral backing the market maker. Zero means the
	// market is unfunded.
	Funding *apd.Decimal
}

// TradeOpts describes buying or selling OutcomeTokenCount tokens of one
// outcome.
type TradeOpts struct {
	Market
	OutcomeTokenIndex int
	OutcomeTokenCount *apd.Decimal
	// FeeFactor is the fee in parts per million, in [0, 1e6).
	FeeFactor int64
}

// CountOpts describes spending Cost collateral on one outcome.
type CountOpts struct {
	Market
	OutcomeTokenIndex int
	Cost              *apd.Decimal
	FeeFactor         int64
}

// PriceOpts selects the outcome to price.
type PriceOpts struct {
	Market
	OutcomeTokenIndex int
}

// Cost returns the collateral needed to buy o.OutcomeTokenCount tokens of
// outcome o.OutcomeTokenIndex, fee included, rounded up to a whole unit.
// An unfunded market sells tokens one for one.
func (c *Calculator) Cost(o TradeOpts) (*apd.Decimal, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	ed := c.errDecimal()
	fee := feeMultiplier(ed, o.FeeFactor, false)

	cost := new(apd.Decimal)
	if o.Funding.IsZero() {
		ed.Mul(cost, o.OutcomeTokenCount, fee)
		return result(ed, ed.Ceil(cost, cost))
	}

	b := liquidity(ed, o.Funding, len(o.NetOutcomeTokensSold))
	after := withDelta(ed, o.NetOutcomeTokensSold, o.OutcomeTokenIndex, o.OutcomeTokenCount)
	ed.Sub(cost,
		logSumExp(ed, scale(ed, after, b), false),
		logSumExp(ed, scale(ed, o.NetOutcomeTokensSold, b), false))
	ed.Mul(cost, cost, b)
	ed.Mul(cost, cost, fee)
	ed.Mul(cost, cost, chainBias)
	return result(ed, ed.Ceil(cost, cost))
}

// Profit returns the collateral paid out for selling o.OutcomeTokenCount
// tokens of outcome o.OutcomeTokenIndex back to the market, fee deducted,
// rounded down to a whole unit. An unfunded market buys nothing back and
// yields zero.
func (c *Calculator) Profit(o TradeOpts) (*apd.Decimal, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Funding.IsZero() {
		return new(apd.Decimal), nil
	}
	ed := c.errDecimal()
	fee := feeMultiplier(ed, o.FeeFactor, true)

	b := liquidity(ed, o.Funding, len(o.NetOutcomeTokensSold))
	after := withDelta(ed, o.NetOutcomeTokensSold, o.OutcomeTokenIndex,
		ed.Neg(new(apd.Decimal), o.OutcomeTokenCount))
	profit := new(apd.Decimal)
	ed.Sub(profit,
		logSumExp(ed, scale(ed, o.NetOutcomeTokensSold, b), false),
		logSumExp(ed, scale(ed, after, b), false))
	ed.Mul(profit, profit, b)
	ed.Mul(profit, profit, fee)
	ed.Quo(profit, profit, chainBias)
	return result(ed, ed.Floor(profit, profit))
}

// OutcomeTokenCountForCost returns how many tokens of outcome
// o.OutcomeTokenIndex o.Cost collateral buys, fee included, rounded down.
// It inverts Cost analytically and is only defined for funded markets.
func (c *Calculator) OutcomeTokenCountForCost(o CountOpts) (*apd.Decimal, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	ed := c.errDecimal()
	b := liquidity(ed, o.Funding, len(o.NetOutcomeTokensSold))
	netCost := ed.Quo(new(apd.Decimal), o.Cost, feeMultiplier(ed, o.FeeFactor, false))

	scaled := scale(ed, o.NetOutcomeTokensSold, b)
	// exp((sold_i + count)/b) = exp(netCost/b + lse(sold/b)) - others
	exponent := ed.Quo(new(apd.Decimal), netCost, b)
	ed.Add(exponent, exponent, logSumExp(ed, scaled, false))

	gap := negligibleGap(ed)
	others := new(apd.Decimal)
	for j, s := range scaled {
		if j == o.OutcomeTokenIndex || negligible(ed, s, exponent, gap) {
			continue
		}
		ed.Add(others, others, ed.Exp(new(apd.Decimal), s))
	}
	arg := ed.Sub(new(apd.Decimal), ed.Exp(new(apd.Decimal), exponent), others)
	if ed.Err() == nil && arg.Sign() <= 0 {
		return nil, ErrUndefinedInverse
	}

	count := ed.Ln(new(apd.Decimal), arg)
	ed.Mul(count, count, b)
	ed.Sub(count, count, o.NetOutcomeTokensSold[o.OutcomeTokenIndex])
	ed.Floor(count, count)
	// A cost near zero can land one unit below zero after rounding.
	if count.Sign() <= 0 {
		count.SetInt64(0)
	}
	return result(ed, count)
}

// MarginalPrice returns the instantaneous price of outcome
// o.OutcomeTokenIndex, between 0 and 1, ignoring fees and trade size. An
// unfunded market with no tokens sold prices every outcome at 1/n.
func (c *Calculator) MarginalPrice(o PriceOpts) (*apd.Decimal, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	prices, err := c.marginalPrices(o.Market)
	if err != nil {
		return nil, err
	}
	return prices[o.OutcomeTokenIndex], nil
}

// MarginalPrices returns the marginal price of every outcome of m. They sum
// to one within the precision of the context.
func (c *Calculator) MarginalPrices(m Market) ([]*apd.Decimal, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return c.marginalPrices(m)
}

func (c *Calculator) marginalPrices(m Market) ([]*apd.Decimal, error) {
	n := len(m.NetOutcomeTokensSold)
	ed := c.errDecimal()
	prices := make([]*apd.Decimal, n)

	if m.Funding.IsZero() {
		for i, sold := range m.NetOutcomeTokensSold {
			if !sold.IsZero() {
				return nil, invalidf("marginal price of unfunded market with %s tokens sold of outcome %d", sold, i)
			}
		}
		for i := range prices {
			prices[i] = ed.Quo(new(apd.Decimal), one, apd.New(int64(n), 0))
		}
		return prices, check(ed)
	}

	b := liquidity(ed, m.Funding, n)
	exps, sum := shiftedExps(ed, scale(ed, m.NetOutcomeTokensSold, b))
	for i, e := range exps {
		prices[i] = ed.Quo(new(apd.Decimal), e, sum)
	}
	if err := check(ed); err != nil {
		return nil, err
	}
	return prices, nil
}

// LiquidityParameter returns b = funding / ln(outcomes) for a funded market.
func (c *Calculator) LiquidityParameter(funding *apd.Decimal, outcomes int) (*apd.Decimal, error) {
	if outcomes < 2 {
		return nil, invalidf("need at least 2 outcomes, got %d", outcomes)
	}
	if !isInteger(funding) || funding.Sign() <= 0 {
		return nil, invalidf("funding must be a positive integer")
	}
	ed := c.errDecimal()
	return result(ed, liquidity(ed, funding, outcomes))
}

func liquidity(ed *apd.ErrDecimal, funding *apd.Decimal, outcomes int) *apd.Decimal {
	lnN := ed.Ln(new(apd.Decimal), apd.New(int64(outcomes), 0))
	return ed.Quo(new(apd.Decimal), funding, lnN)
}

// feeMultiplier returns 1 + feeFactor/1e6, or 1 - feeFactor/1e6 when
// deducting.
func feeMultiplier(ed *apd.ErrDecimal, feeFactor int64, deduct bool) *apd.Decimal {
	rate := ed.Quo(new(apd.Decimal), apd.New(feeFactor, 0), feeDivisor)
	if deduct {
		return ed.Sub(rate, one, rate)
	}
	return ed.Add(rate, one, rate)
}

// Cost calls Default.Cost.
func Cost(o TradeOpts) (*apd.Decimal, error) { return Default.Cost(o) }

// Profit calls Default.Profit.
func Profit(o TradeOpts) (*apd.Decimal, error) { return Default.Profit(o) }

// OutcomeTokenCountForCost calls Default.OutcomeTokenCountForCost.
func OutcomeTokenCountForCost(o CountOpts) (*apd.Decimal, error) {
	return Default.OutcomeTokenCountForCost(o)
}

// MarginalPrice calls Default.MarginalPrice.
func MarginalPrice(o PriceOpts) (*apd.Decimal, error) { return Default.MarginalPrice(o) }

// MarginalPrices calls Default.MarginalPrices.
func MarginalPrices(m Market) ([]*apd.Decimal, error) { return Default.MarginalPrices(m) }
