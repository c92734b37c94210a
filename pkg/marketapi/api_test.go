package marketapi

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/lmsrmaker/pkg/lmsr"
)

type fakeStates map[string]*MarketState

func (f fakeStates) MarketState(ctx context.Context, marketID string) (*MarketState, error) {
	st, ok := f[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return st, nil
}

func testService() *MarketService {
	return NewMarketService(fakeStates{
		"coinflip": {
			Market:    lmsr.Market{NetOutcomeTokensSold: lmsr.Ints(0, 0), Funding: lmsr.Int(500)},
			FeeFactor: 20_000,
			IsOpen:    true,
		},
		"nationals2022": {
			Market:    lmsr.Market{NetOutcomeTokensSold: lmsr.Ints(0, 0, 50, 0), Funding: lmsr.Int(1000)},
			FeeFactor: 0,
		},
		"unfunded": {
			Market:    lmsr.Market{NetOutcomeTokensSold: lmsr.Ints(5, -3), Funding: lmsr.Int(0)},
			FeeFactor: 50_000,
		},
	}, nil)
}

func TestQuoteBuy(t *testing.T) {
	is := is.New(t)
	q, err := testService().Quote(context.Background(), QuoteRequest{
		MarketID: "coinflip", OutcomeIndex: 1, Amount: lmsr.Int(100), Buy: true,
	})
	is.NoErr(err)
	is.Equal(q.Collateral.String(), "53")
	is.Equal(q.PriceBefore.Cmp(dec("0.5")), 0)
	is.True(withinEpsilon(q.PriceAfter, dec("0.53460196138076351716644824729841349904447152339551")))
}

func TestQuoteSell(t *testing.T) {
	is := is.New(t)
	q, err := testService().Quote(context.Background(), QuoteRequest{
		MarketID: "nationals2022", OutcomeIndex: 2, Amount: lmsr.Int(20),
	})
	is.NoErr(err)
	is.Equal(q.Collateral.String(), "5")
	is.True(withinEpsilon(q.PriceBefore, dec("0.26322030741579844617197112681249121289806702048901")))
	is.True(withinEpsilon(q.PriceAfter, dec("0.25787868655298495624702351887846055516167089373924")))
}

func TestQuoteUnfunded(t *testing.T) {
	is := is.New(t)
	q, err := testService().Quote(context.Background(), QuoteRequest{
		MarketID: "unfunded", OutcomeIndex: 0, Amount: lmsr.Int(7), Buy: true,
	})
	is.NoErr(err)
	is.Equal(q.Collateral.String(), "8")
	is.True(q.PriceBefore == nil)
	is.True(q.PriceAfter == nil)
}

func TestQuoteErrors(t *testing.T) {
	is := is.New(t)
	svc := testService()
	_, err := svc.Quote(context.Background(), QuoteRequest{MarketID: "nope", Amount: lmsr.Int(1), Buy: true})
	is.True(errors.Is(err, ErrMarketNotFound))
	_, err = svc.Quote(context.Background(), QuoteRequest{MarketID: "coinflip", OutcomeIndex: 2, Amount: lmsr.Int(1), Buy: true})
	is.True(errors.Is(err, lmsr.ErrInvalidInput))
	_, err = svc.Quote(context.Background(), QuoteRequest{MarketID: "coinflip", Buy: true})
	is.True(errors.Is(err, lmsr.ErrInvalidInput))
}

func TestPrices(t *testing.T) {
	is := is.New(t)
	prices, err := testService().Prices(context.Background(), "coinflip")
	is.NoErr(err)
	is.Equal(len(prices), 2)
	is.Equal(prices[0].Cmp(dec("0.5")), 0)
	is.Equal(prices[1].Cmp(dec("0.5")), 0)

	_, err = testService().Prices(context.Background(), "unfunded")
	is.True(errors.Is(err, lmsr.ErrInvalidInput))
}

func TestTokensForCost(t *testing.T) {
	is := is.New(t)
	count, err := testService().TokensForCost(context.Background(), "coinflip", 1, lmsr.Int(60))
	is.NoErr(err)
	is.Equal(count.String(), "113")

	_, err = testService().TokensForCost(context.Background(), "unfunded", 0, lmsr.Int(60))
	is.True(errors.Is(err, lmsr.ErrInvalidInput))
}
