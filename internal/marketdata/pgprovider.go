package marketdata

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfall/perpintel/internal/core"
)

// Querier is the slice of pgx the historical store needs; satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGProvider serves historical series out of Postgres for replay runs.
// It wears the same Provider interface as the live venues, so the
// pipeline cannot tell recorded data from a live fetch. The as-of cutoff
// is applied in SQL: a candle qualifies only when it has fully closed by
// the query's end time.
type PGProvider struct {
	db       Querier
	exchange core.Exchange
}

// NewPGProvider creates a store reading series recorded from the given
// exchange.
func NewPGProvider(db Querier, exchange core.Exchange) *PGProvider {
	return &PGProvider{db: db, exchange: exchange}
}

func (p *PGProvider) Exchange() core.Exchange {
	return p.exchange
}

const selectCandlesSQL = `
SELECT ts, open, high, low, close, volume FROM candles
WHERE exchange = $1 AND symbol = $2 AND interval = $3
	AND ($4 = 0 OR ts >= $4) AND ($5 = 0 OR ts + $6 <= $5)
ORDER BY ts DESC
LIMIT $7`

func (p *PGProvider) GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	intervalMs, err := intervalOf(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, selectCandlesSQL,
		p.exchange, q.Symbol, q.Interval, q.StartMs, q.EndMs, intervalMs, limitOf(q))
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying stored candles")
	}
	defer rows.Close()

	var out []core.Candle
	for rows.Next() {
		var c core.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning stored candle")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindFatal, err, "reading stored candles")
	}
	reverse(out)
	return out, nil
}

const selectOISQL = `
SELECT ts, value FROM open_interest
WHERE exchange = $1 AND symbol = $2 AND interval = $3
	AND ($4 = 0 OR ts >= $4) AND ($5 = 0 OR ts + $6 <= $5)
ORDER BY ts DESC
LIMIT $7`

// GetOIHistory returns open interest as close-only candles, matching the
// venue providers.
func (p *PGProvider) GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	intervalMs, err := intervalOf(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, selectOISQL,
		p.exchange, q.Symbol, q.Interval, q.StartMs, q.EndMs, intervalMs, limitOf(q))
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying stored open interest")
	}
	defer rows.Close()

	var out []core.Candle
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning stored open interest")
		}
		out = append(out, core.Candle{Timestamp: ts, Open: value, High: value, Low: value, Close: value})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindFatal, err, "reading stored open interest")
	}
	reverse(out)
	return out, nil
}

const selectFundingSQL = `
SELECT ts, rate FROM funding_rates
WHERE exchange = $1 AND symbol = $2
	AND ($3 = 0 OR ts >= $3) AND ($4 = 0 OR ts <= $4)
ORDER BY ts DESC
LIMIT $5`

func (p *PGProvider) GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error) {
	rows, err := p.db.Query(ctx, selectFundingSQL,
		p.exchange, q.Symbol, q.StartMs, q.EndMs, limitOf(q))
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying stored funding rates")
	}
	defer rows.Close()

	var out []core.FundingPoint
	for rows.Next() {
		var fp core.FundingPoint
		if err := rows.Scan(&fp.Timestamp, &fp.Rate); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning stored funding rate")
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindFatal, err, "reading stored funding rates")
	}
	reverse(out)
	return out, nil
}

const selectTakerSQL = `
SELECT ts, buy_usd, sell_usd FROM taker_volume
WHERE exchange = $1 AND symbol = $2 AND interval = $3
	AND ($4 = 0 OR ts >= $4) AND ($5 = 0 OR ts + $6 <= $5)
ORDER BY ts DESC
LIMIT $7`

func (p *PGProvider) GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error) {
	intervalMs, err := intervalOf(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, selectTakerSQL,
		p.exchange, q.Symbol, q.Interval, q.StartMs, q.EndMs, intervalMs, limitOf(q))
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying stored taker volume")
	}
	defer rows.Close()

	var out []core.TakerPoint
	for rows.Next() {
		var tp core.TakerPoint
		if err := rows.Scan(&tp.Timestamp, &tp.BuyUSD, &tp.SellUSD); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning stored taker volume")
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindFatal, err, "reading stored taker volume")
	}
	reverse(out)
	return out, nil
}

const insertCandleSQL = `
INSERT INTO candles (exchange, symbol, interval, ts, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (exchange, symbol, interval, ts) DO UPDATE
SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
	close = EXCLUDED.close, volume = EXCLUDED.volume`

// StoreCandles upserts a candle series. Re-ingesting a range overwrites
// it, so a corrected backfill wins over stale rows.
func (p *PGProvider) StoreCandles(ctx context.Context, symbol string, interval core.Timeframe, candles []core.Candle) error {
	for _, c := range candles {
		if _, err := p.db.Exec(ctx, insertCandleSQL,
			p.exchange, symbol, interval, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return core.WrapError(core.KindFatal, err, "storing candle at %d", c.Timestamp)
		}
	}
	return nil
}

const insertOISQL = `
INSERT INTO open_interest (exchange, symbol, interval, ts, value)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (exchange, symbol, interval, ts) DO UPDATE SET value = EXCLUDED.value`

// StoreOpenInterest upserts an open-interest series, taking the close of
// each observation candle.
func (p *PGProvider) StoreOpenInterest(ctx context.Context, symbol string, interval core.Timeframe, series []core.Candle) error {
	for _, c := range series {
		if _, err := p.db.Exec(ctx, insertOISQL,
			p.exchange, symbol, interval, c.Timestamp, c.Close); err != nil {
			return core.WrapError(core.KindFatal, err, "storing open interest at %d", c.Timestamp)
		}
	}
	return nil
}

const insertFundingSQL = `
INSERT INTO funding_rates (exchange, symbol, ts, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (exchange, symbol, ts) DO UPDATE SET rate = EXCLUDED.rate`

// StoreFundingRates upserts a funding-rate series.
func (p *PGProvider) StoreFundingRates(ctx context.Context, symbol string, points []core.FundingPoint) error {
	for _, fp := range points {
		if _, err := p.db.Exec(ctx, insertFundingSQL,
			p.exchange, symbol, fp.Timestamp, fp.Rate); err != nil {
			return core.WrapError(core.KindFatal, err, "storing funding rate at %d", fp.Timestamp)
		}
	}
	return nil
}

const insertTakerSQL = `
INSERT INTO taker_volume (exchange, symbol, interval, ts, buy_usd, sell_usd)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (exchange, symbol, interval, ts) DO UPDATE
SET buy_usd = EXCLUDED.buy_usd, sell_usd = EXCLUDED.sell_usd`

// StoreTakerVolume upserts a taker buy/sell volume series.
func (p *PGProvider) StoreTakerVolume(ctx context.Context, symbol string, interval core.Timeframe, points []core.TakerPoint) error {
	for _, tp := range points {
		if _, err := p.db.Exec(ctx, insertTakerSQL,
			p.exchange, symbol, interval, tp.Timestamp, tp.BuyUSD, tp.SellUSD); err != nil {
			return core.WrapError(core.KindFatal, err, "storing taker volume at %d", tp.Timestamp)
		}
	}
	return nil
}

func limitOf(q Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return 1000
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
