package marketapi

import (
	"context"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog/log"

	"github.com/domino14/lmsrmaker/pkg/lmsr"
)

// MarketState is everything needed to price trades against one market.
type MarketState struct {
	lmsr.Market
	FeeFactor int64
	IsOpen    bool
}

// StateProvider supplies the current state of a market by id.
type StateProvider interface {
	MarketState(ctx context.Context, marketID string) (*MarketState, error)
}

// MarketService quotes trades without executing them.
type MarketService struct {
	states StateProvider
	calc   *lmsr.Calculator
}

func NewMarketService(states StateProvider, calc *lmsr.Calculator) *MarketService {
	if calc == nil {
		calc = lmsr.Default
	}
	return &MarketService{states: states, calc: calc}
}

type QuoteRequest struct {
	MarketID     string
	OutcomeIndex int
	Amount       *apd.Decimal
	Buy          bool
}

type Quote struct {
	// Collateral is the cost of a buy or the proceeds of a sell, fee
	// included.
	Collateral *apd.Decimal
	// PriceBefore and PriceAfter are the outcome's marginal prices around
	// the trade. Both are nil for unfunded markets.
	PriceBefore *apd.Decimal
	PriceAfter  *apd.Decimal
}

func (m *MarketService) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	state, err := m.states.MarketState(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	opts := lmsr.TradeOpts{
		Market:            state.Market,
		OutcomeTokenIndex: req.OutcomeIndex,
		OutcomeTokenCount: req.Amount,
		FeeFactor:         state.FeeFactor,
	}
	q := &Quote{}
	if req.Buy {
		q.Collateral, err = m.calc.Cost(opts)
	} else {
		q.Collateral, err = m.calc.Profit(opts)
	}
	if err != nil {
		return nil, err
	}
	log.Debug().Str("marketID", req.MarketID).Int("outcome", req.OutcomeIndex).
		Bool("buy", req.Buy).Str("collateral", q.Collateral.String()).Msg("quoted")

	if state.Funding.IsZero() {
		return q, nil
	}
	q.PriceBefore, err = m.calc.MarginalPrice(lmsr.PriceOpts{Market: state.Market, OutcomeTokenIndex: req.OutcomeIndex})
	if err != nil {
		return nil, err
	}
	after := lmsr.Market{
		NetOutcomeTokensSold: make([]*apd.Decimal, len(state.NetOutcomeTokensSold)),
		Funding:              state.Funding,
	}
	copy(after.NetOutcomeTokensSold, state.NetOutcomeTokensSold)
	moved := new(apd.Decimal)
	sold := state.NetOutcomeTokensSold[req.OutcomeIndex]
	if req.Buy {
		_, err = apd.BaseContext.Add(moved, sold, req.Amount)
	} else {
		_, err = apd.BaseContext.Sub(moved, sold, req.Amount)
	}
	if err != nil {
		return nil, err
	}
	after.NetOutcomeTokensSold[req.OutcomeIndex] = moved
	q.PriceAfter, err = m.calc.MarginalPrice(lmsr.PriceOpts{Market: after, OutcomeTokenIndex: req.OutcomeIndex})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Prices returns the marginal price of every outcome of a market.
func (m *MarketService) Prices(ctx context.Context, marketID string) ([]*apd.Decimal, error) {
	state, err := m.states.MarketState(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return m.calc.MarginalPrices(state.Market)
}

// TokensForCost returns how many tokens of an outcome cost buys, fee
// included.
func (m *MarketService) TokensForCost(ctx context.Context, marketID string,
	outcomeIndex int, cost *apd.Decimal) (*apd.Decimal, error) {

	state, err := m.states.MarketState(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return m.calc.OutcomeTokenCountForCost(lmsr.CountOpts{
		Market:            state.Market,
		OutcomeTokenIndex: outcomeIndex,
		Cost:              cost,
		FeeFactor:         state.FeeFactor,
	})
}
