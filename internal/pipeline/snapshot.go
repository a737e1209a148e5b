// Package pipeline runs the full analysis cycle: fetch a multi-timeframe
// snapshot, compute features and signals, aggregate buckets, and assemble
// the final market state. Fetching and assembly are split so the assembly
// half stays a pure function of (config, snapshot).
package pipeline

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/marketdata"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// Series lookback depths. Candles cover the longest feature window (EMA50
// plus volatility); derivative series cover their 24-period deltas.
const (
	candleLookback  = 120
	oiLookback      = 48
	fundingLookback = 48
)

// TimeframeData is one timeframe's slice of the snapshot.
type TimeframeData struct {
	Candles []core.Candle
	OI      []core.Candle
	Funding []core.FundingPoint
	Taker   []core.TakerPoint
	EndMs   int64
	Report  timeframe.SeriesReport
	// FetchErr records a failed fetch; assembly degrades that timeframe
	// instead of failing the run.
	FetchErr error
}

// VenueData is the whale-venue slice used for cross-exchange divergence,
// always on the primary timeframe.
type VenueData struct {
	Exchange core.Exchange
	Candles  []core.Candle
	OI       []core.Candle
	Taker    []core.TakerPoint
	Funding  []core.FundingPoint
	FetchErr error
}

// Snapshot is everything one pipeline run consumes, fixed at fetch time.
type Snapshot struct {
	Symbol       string
	AsOfMs       int64
	PerTimeframe map[core.Timeframe]TimeframeData
	Whale        VenueData
}

// Fetcher assembles snapshots from the venue providers with per-timeframe
// fan-out.
type Fetcher struct {
	primary marketdata.Provider
	whale   marketdata.Provider
	logger  zerolog.Logger
}

// NewFetcher wires the primary (retail) and whale venue providers.
func NewFetcher(primary, whale marketdata.Provider, logger zerolog.Logger) *Fetcher {
	return &Fetcher{primary: primary, whale: whale, logger: logger.With().Str("component", "pipeline").Logger()}
}

// Fetch pulls all series for a symbol as of asOfMs. Every request is
// bounded by the aligned last-closed end time, so a snapshot can never
// contain lookahead. Per-timeframe failures are recorded, not fatal.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, asOfMs int64, cfg engineconfig.PipelineConfig) (Snapshot, error) {
	snap := Snapshot{
		Symbol:       symbol,
		AsOfMs:       asOfMs,
		PerTimeframe: make(map[core.Timeframe]TimeframeData, len(core.Timeframes)),
	}

	results := make([]TimeframeData, len(core.Timeframes))
	g, gctx := errgroup.WithContext(ctx)

	for i, tf := range core.Timeframes {
		g.Go(func() error {
			data, err := f.fetchTimeframe(gctx, symbol, tf, asOfMs, cfg)
			if err != nil {
				if core.IsKind(err, core.KindLookahead) {
					return err // a lookahead is a bug, never degraded away
				}
				f.logger.Warn().Err(err).Str("timeframe", string(tf)).Msg("timeframe fetch degraded")
				data = TimeframeData{FetchErr: err}
			}
			results[i] = data
			return nil
		})
	}

	var whale VenueData
	g.Go(func() error {
		whale = f.fetchWhale(gctx, symbol, asOfMs, cfg)
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	for i, tf := range core.Timeframes {
		snap.PerTimeframe[tf] = results[i]
	}
	snap.Whale = whale
	return snap, nil
}

func (f *Fetcher) fetchTimeframe(ctx context.Context, symbol string, tf core.Timeframe, asOfMs int64, cfg engineconfig.PipelineConfig) (TimeframeData, error) {
	endMs, err := timeframe.AlignEndToLastClosed(tf, asOfMs)
	if err != nil {
		return TimeframeData{}, err
	}
	data := TimeframeData{EndMs: endMs}

	q := marketdata.Query{Symbol: symbol, Interval: tf, Limit: candleLookback, EndMs: endMs}
	if data.Candles, err = f.primary.GetPriceHistory(ctx, q); err != nil {
		return TimeframeData{}, err
	}
	if data.Report, err = timeframe.ValidateSeries(data.Candles, tf, endMs); err != nil {
		return TimeframeData{}, err
	}

	q.Limit = oiLookback
	if data.OI, err = f.primary.GetOIHistory(ctx, q); err != nil {
		return TimeframeData{}, err
	}
	q.Limit = fundingLookback
	if data.Funding, err = f.primary.GetFundingHistory(ctx, q); err != nil {
		return TimeframeData{}, err
	}
	q.Limit = cfg.Thresholds[tf].CVD.WindowCandles
	if data.Taker, err = f.primary.GetTakerBuySellVolume(ctx, q); err != nil {
		return TimeframeData{}, err
	}
	return data, nil
}

// fetchWhale pulls the whale venue's primary-timeframe series. Divergence
// degrades to unclear when this fails, so errors are recorded, not raised.
func (f *Fetcher) fetchWhale(ctx context.Context, symbol string, asOfMs int64, cfg engineconfig.PipelineConfig) VenueData {
	data := VenueData{Exchange: f.whale.Exchange()}
	tf := primaryTimeframe

	endMs, err := timeframe.AlignEndToLastClosed(tf, asOfMs)
	if err != nil {
		data.FetchErr = err
		return data
	}

	q := marketdata.Query{Symbol: symbol, Interval: tf, Limit: candleLookback, EndMs: endMs}
	if data.Candles, err = f.whale.GetPriceHistory(ctx, q); err != nil {
		data.FetchErr = err
		return data
	}
	q.Limit = oiLookback
	if data.OI, err = f.whale.GetOIHistory(ctx, q); err != nil {
		data.FetchErr = err
		return data
	}
	q.Limit = fundingLookback
	if data.Funding, err = f.whale.GetFundingHistory(ctx, q); err != nil {
		data.FetchErr = err
		return data
	}
	q.Limit = cfg.Thresholds[tf].CVD.WindowCandles
	if data.Taker, err = f.whale.GetTakerBuySellVolume(ctx, q); err != nil {
		data.FetchErr = err
		return data
	}
	return data
}
