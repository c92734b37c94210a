package marketapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/lithammer/shortuuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/domino14/lmsrmaker/pkg/lmsr"
)

var (
	ErrMarketNotFound  = errors.New("market not found")
	ErrMarketClosed    = errors.New("market is not open")
	ErrOutcomeNotFound = errors.New("outcome not found")
	ErrLimitExceeded   = errors.New("order would exceed its limit")
)

type Market struct {
	ID          string
	Description string
	Funding     *apd.Decimal
	FeeFactor   int64
	IsOpen      bool
	DateCreated string
	DateClosed  string
}

type Outcome struct {
	ID          string
	MarketID    string
	Index       int
	Shortname   string
	Description string
	NetSold     *apd.Decimal
	// Price is the marginal price at read time. It is nil for an unfunded
	// market once tokens have been sold.
	Price *apd.Decimal
}

type OutcomeSpec struct {
	Shortname   string
	Description string
}

// Order is a fulfilled trade. Amount is positive for buys and negative for
// sells; Cost is the collateral paid by the trader, negative when the
// trader was paid.
type Order struct {
	ID          string
	MarketID    string
	OutcomeID   string
	Username    string
	Amount      *apd.Decimal
	Cost        *apd.Decimal
	DateCreated string
}

type OrderRequest struct {
	Username     string
	MarketID     string
	OutcomeIndex int
	// Amount is the number of outcome tokens, always positive.
	Amount *apd.Decimal
	Buy    bool
	// Limit is the most a buy may cost or the least a sell may pay. nil
	// means no limit.
	Limit *apd.Decimal
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SqliteStore struct {
	db *sql.DB
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func NewSqliteStore(dbName string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dsn(dbName))
	if err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("stored decimal %q: %w", s, err)
	}
	return d, nil
}

func (s *SqliteStore) CreateMarket(ctx context.Context, description string,
	funding *apd.Decimal, feeFactor int64, outcomes []OutcomeSpec) (string, error) {

	initial := lmsr.Market{
		NetOutcomeTokensSold: make([]*apd.Decimal, len(outcomes)),
		Funding:              funding,
	}
	for i := range initial.NetOutcomeTokensSold {
		initial.NetOutcomeTokensSold[i] = new(apd.Decimal)
	}
	if err := initial.Validate(); err != nil {
		return "", err
	}
	if feeFactor < 0 || feeFactor >= 1_000_000 {
		return "", fmt.Errorf("%w: fee factor %d out of range", lmsr.ErrInvalidInput, feeFactor)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	marketUUID := shortuuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO markets (uuid, description, funding, fee_factor, date_created)
		VALUES (?, ?, ?, ?, ?)`,
		marketUUID, description, funding.Text('f'), feeFactor, now())
	if err != nil {
		return "", err
	}
	marketID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	for i, o := range outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (uuid, market_id, idx, shortname, description)
			VALUES (?, ?, ?, ?, ?)`,
			shortuuid.New(), marketID, i, o.Shortname, o.Description)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Info().Str("marketID", marketUUID).Int("outcomes", len(outcomes)).Msg("market-created")
	return marketUUID, nil
}

func (s *SqliteStore) OpenMarket(ctx context.Context, marketID string) error {
	return s.setOpen(ctx, marketID, true)
}

func (s *SqliteStore) CloseMarket(ctx context.Context, marketID string) error {
	return s.setOpen(ctx, marketID, false)
}

func (s *SqliteStore) setOpen(ctx context.Context, marketID string, open bool) error {
	var res sql.Result
	var err error
	if open {
		res, err = s.db.ExecContext(ctx, `
			UPDATE markets SET is_open = 1, was_opened = 1, date_closed = ''
			WHERE uuid = ?`, marketID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE markets SET is_open = 0, date_closed = ?
			WHERE uuid = ?`, now(), marketID)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrMarketNotFound
	}
	log.Info().Str("marketID", marketID).Bool("open", open).Msg("market-state-changed")
	return nil
}

func (s *SqliteStore) DeleteMarket(ctx context.Context, marketID string) error {
	var wasOpened bool
	err := s.db.QueryRowContext(ctx, `SELECT was_opened FROM markets WHERE uuid = ?`,
		marketID).Scan(&wasOpened)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMarketNotFound
	} else if err != nil {
		return err
	}
	if wasOpened {
		return errors.New("disallowed deletion of market that was once open")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM markets WHERE uuid = ?`, marketID)
	return err
}

func (s *SqliteStore) GetOpenMarkets(ctx context.Context) ([]*Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, description, funding, fee_factor, is_open, date_created, date_closed
		FROM markets
		WHERE is_open = 1
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := []*Market{}
	for rows.Next() {
		market := &Market{}
		var funding string
		err = rows.Scan(&market.ID, &market.Description, &funding, &market.FeeFactor,
			&market.IsOpen, &market.DateCreated, &market.DateClosed)
		if err != nil {
			return nil, err
		}
		if market.Funding, err = parseDecimal(funding); err != nil {
			return nil, err
		}
		markets = append(markets, market)
	}
	return markets, rows.Err()
}

type marketRow struct {
	dbid      int64
	funding   *apd.Decimal
	feeFactor int64
	isOpen    bool
}

func (s *SqliteStore) market(ctx context.Context, q querier, marketID string) (*marketRow, error) {
	m := &marketRow{}
	var funding string
	err := q.QueryRowContext(ctx, `
		SELECT id, funding, fee_factor, is_open FROM markets WHERE uuid = ?`,
		marketID).Scan(&m.dbid, &funding, &m.feeFactor, &m.isOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMarketNotFound
	} else if err != nil {
		return nil, err
	}
	if m.funding, err = parseDecimal(funding); err != nil {
		return nil, err
	}
	return m, nil
}

// outcomes returns the market's outcomes in index order.
func (s *SqliteStore) outcomes(ctx context.Context, q querier, marketDBID int64) ([]int64, []*Outcome, error) {
	log.Debug().Int64("marketDBID", marketDBID).Str("storeMethod", "outcomes").Msg("executing-query")
	rows, err := q.QueryContext(ctx, `
		SELECT outcomes.id, outcomes.uuid, markets.uuid, idx, shortname,
		outcomes.description, net_sold
		FROM outcomes
		JOIN markets ON outcomes.market_id = markets.id
		WHERE market_id = ?
		ORDER BY idx`, marketDBID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	dbids := []int64{}
	outcomes := []*Outcome{}
	for rows.Next() {
		var dbid int64
		var netSold string
		o := &Outcome{}
		err = rows.Scan(&dbid, &o.ID, &o.MarketID, &o.Index, &o.Shortname, &o.Description, &netSold)
		if err != nil {
			return nil, nil, err
		}
		if o.NetSold, err = parseDecimal(netSold); err != nil {
			return nil, nil, err
		}
		dbids = append(dbids, dbid)
		outcomes = append(outcomes, o)
	}
	return dbids, outcomes, rows.Err()
}

func netSold(outcomes []*Outcome) []*apd.Decimal {
	sold := make([]*apd.Decimal, len(outcomes))
	for i, o := range outcomes {
		sold[i] = o.NetSold
	}
	return sold
}

// GetOutcomes returns the market's outcomes in index order, priced at the
// current state.
func (s *SqliteStore) GetOutcomes(ctx context.Context, marketID string) ([]*Outcome, error) {
	m, err := s.market(ctx, s.db, marketID)
	if err != nil {
		return nil, err
	}
	_, outcomes, err := s.outcomes(ctx, s.db, m.dbid)
	if err != nil {
		return nil, err
	}
	if len(outcomes) < 2 {
		return outcomes, nil
	}
	prices, err := lmsr.MarginalPrices(lmsr.Market{NetOutcomeTokensSold: netSold(outcomes), Funding: m.funding})
	if errors.Is(err, lmsr.ErrInvalidInput) && m.funding.IsZero() {
		return outcomes, nil
	} else if err != nil {
		return nil, err
	}
	for i, o := range outcomes {
		o.Price = prices[i]
	}
	return outcomes, nil
}

// MarketState returns the pricing inputs of a market.
func (s *SqliteStore) MarketState(ctx context.Context, marketID string) (*MarketState, error) {
	m, err := s.market(ctx, s.db, marketID)
	if err != nil {
		return nil, err
	}
	_, outcomes, err := s.outcomes(ctx, s.db, m.dbid)
	if err != nil {
		return nil, err
	}
	return &MarketState{
		Market:    lmsr.Market{NetOutcomeTokensSold: netSold(outcomes), Funding: m.funding},
		FeeFactor: m.feeFactor,
		IsOpen:    m.isOpen,
	}, nil
}

// FulfillOrder prices the order against the current market state and
// records it, moving the outcome's net sold count, in one transaction.
// Collateral transfer is left to the caller.
func (s *SqliteStore) FulfillOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := s.market(ctx, tx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if !m.isOpen {
		return nil, ErrMarketClosed
	}
	dbids, outcomes, err := s.outcomes(ctx, tx, m.dbid)
	if err != nil {
		return nil, err
	}
	if req.OutcomeIndex < 0 || req.OutcomeIndex >= len(outcomes) {
		return nil, ErrOutcomeNotFound
	}

	opts := lmsr.TradeOpts{
		Market:            lmsr.Market{NetOutcomeTokensSold: netSold(outcomes), Funding: m.funding},
		OutcomeTokenIndex: req.OutcomeIndex,
		OutcomeTokenCount: req.Amount,
		FeeFactor:         m.feeFactor,
	}
	amount := new(apd.Decimal).Set(req.Amount)
	var cost *apd.Decimal
	if req.Buy {
		cost, err = lmsr.Cost(opts)
		if err != nil {
			return nil, err
		}
		if req.Limit != nil && cost.Cmp(req.Limit) > 0 {
			return nil, fmt.Errorf("%w: cost %s above %s", ErrLimitExceeded, cost, req.Limit)
		}
	} else {
		profit, err := lmsr.Profit(opts)
		if err != nil {
			return nil, err
		}
		if req.Limit != nil && profit.Cmp(req.Limit) < 0 {
			return nil, fmt.Errorf("%w: proceeds %s below %s", ErrLimitExceeded, profit, req.Limit)
		}
		cost = new(apd.Decimal)
		if !profit.IsZero() {
			cost.Neg(profit)
		}
		amount.Neg(amount)
	}

	outcome := outcomes[req.OutcomeIndex]
	sold := new(apd.Decimal)
	if _, err := apd.BaseContext.Add(sold, outcome.NetSold, amount); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE outcomes SET net_sold = ? WHERE id = ?`,
		sold.Text('f'), dbids[req.OutcomeIndex])
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:          shortuuid.New(),
		MarketID:    req.MarketID,
		OutcomeID:   outcome.ID,
		Username:    req.Username,
		Amount:      amount,
		Cost:        cost,
		DateCreated: now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (uuid, market_id, outcome_id, username, amount, cost, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, m.dbid, dbids[req.OutcomeIndex], order.Username,
		order.Amount.Text('f'), order.Cost.Text('f'), order.DateCreated)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Info().Str("orderID", order.ID).Str("marketID", req.MarketID).
		Int("outcome", req.OutcomeIndex).Str("amount", order.Amount.String()).
		Str("cost", order.Cost.String()).Msg("order-fulfilled")
	return order, nil
}

// GetOrders returns a market's orders, oldest first.
func (s *SqliteStore) GetOrders(ctx context.Context, marketID string) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT orders.uuid, markets.uuid, outcomes.uuid, username, amount, cost,
		orders.date_created
		FROM orders
		JOIN markets ON orders.market_id = markets.id
		JOIN outcomes ON orders.outcome_id = outcomes.id
		WHERE markets.uuid = ?
		ORDER BY orders.id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		order := &Order{}
		var amount, cost string
		err = rows.Scan(&order.ID, &order.MarketID, &order.OutcomeID, &order.Username,
			&amount, &cost, &order.DateCreated)
		if err != nil {
			return nil, err
		}
		if order.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if order.Cost, err = parseDecimal(cost); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
