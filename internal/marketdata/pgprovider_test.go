package marketdata

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
)

func TestPGProviderReturnsAscendingCandles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// The query reads newest-first to honor the limit; the provider
	// contract is ascending.
	rows := pgxmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
		AddRow(int64(2*hourMs), 101.0, 102.0, 100.5, 101.5, 10.0).
		AddRow(int64(1*hourMs), 100.0, 101.0, 99.5, 101.0, 12.0)
	mock.ExpectQuery("SELECT ts, open, high, low, close, volume FROM candles").
		WithArgs(core.ExchangeBinance, "BTCUSDT", core.Timeframe1h, int64(0), int64(3*hourMs), int64(hourMs), 500).
		WillReturnRows(rows)

	provider := NewPGProvider(mock, core.ExchangeBinance)
	candles, err := provider.GetPriceHistory(context.Background(), Query{
		Symbol: "BTCUSDT", Interval: core.Timeframe1h, Limit: 500, EndMs: 3 * hourMs,
	})
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, int64(1*hourMs), candles[0].Timestamp)
	assert.Equal(t, int64(2*hourMs), candles[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGProviderOIAsCloseOnlyCandles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"ts", "value"}).
		AddRow(int64(hourMs), 7.9e9)
	mock.ExpectQuery("SELECT ts, value FROM open_interest").
		WithArgs(core.ExchangeBybit, "BTCUSDT", core.Timeframe1h, int64(0), int64(0), int64(hourMs), 1000).
		WillReturnRows(rows)

	provider := NewPGProvider(mock, core.ExchangeBybit)
	series, err := provider.GetOIHistory(context.Background(), Query{Symbol: "BTCUSDT", Interval: core.Timeframe1h})
	require.NoError(t, err)

	require.Len(t, series, 1)
	assert.Equal(t, series[0].Close, series[0].Open)
	assert.InDelta(t, 7.9e9, series[0].Close, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGProviderStoreCandlesUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := core.Candle{Timestamp: hourMs, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5}
	mock.ExpectExec("INSERT INTO candles").
		WithArgs(core.ExchangeBinance, "BTCUSDT", core.Timeframe1h, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	provider := NewPGProvider(mock, core.ExchangeBinance)
	require.NoError(t, provider.StoreCandles(context.Background(), "BTCUSDT", core.Timeframe1h, []core.Candle{c}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGProviderRejectsUnknownInterval(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	provider := NewPGProvider(mock, core.ExchangeBinance)
	_, err = provider.GetPriceHistory(context.Background(), Query{Symbol: "BTCUSDT", Interval: "7m"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindUnknownInterval))
}
