package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/absorption"
	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/marketdata"
	"github.com/quantfall/perpintel/internal/timeframe"
)

const dayMs = int64(24 * 60 * 60 * 1000)

// testAsOf falls on a daily boundary so every timeframe aligns to it.
const testAsOf = 1_000 * dayMs

func risingCandles(tf core.Timeframe, endMs int64, n int) []core.Candle {
	interval := timeframe.MustIntervalMs(tf)
	out := make([]core.Candle, n)
	price := 100.0
	for i := range out {
		ts := endMs - int64(n-i)*interval
		out[i] = core.Candle{
			Timestamp: ts,
			Open:      price,
			High:      price + 0.8,
			Low:       price - 0.3,
			Close:     price + 0.5,
			Volume:    1_000,
		}
		price += 0.5
	}
	return out
}

func risingOI(tf core.Timeframe, endMs int64, n int) []core.Candle {
	interval := timeframe.MustIntervalMs(tf)
	out := make([]core.Candle, n)
	for i := range out {
		out[i] = core.Candle{
			Timestamp: endMs - int64(n-i)*interval,
			Close:     1_000_000 + float64(i)*1_000,
		}
	}
	return out
}

func mildFunding(tf core.Timeframe, endMs int64, n int) []core.FundingPoint {
	interval := timeframe.MustIntervalMs(tf)
	out := make([]core.FundingPoint, n)
	for i := range out {
		rate := 0.0001
		if i%2 == 0 {
			rate = 0.00012
		}
		out[i] = core.FundingPoint{Timestamp: endMs - int64(n-i)*interval, Rate: rate}
	}
	return out
}

func bullishTaker(candles []core.Candle, n int) []core.TakerPoint {
	if n > len(candles) {
		n = len(candles)
	}
	out := make([]core.TakerPoint, 0, n)
	for _, c := range candles[len(candles)-n:] {
		out = append(out, core.TakerPoint{Timestamp: c.Timestamp, BuyUSD: 2_000_000, SellUSD: 1_000_000})
	}
	return out
}

func bullishTimeframe(tf core.Timeframe, asOf int64, cfg engineconfig.PipelineConfig) TimeframeData {
	end, err := timeframe.AlignEndToLastClosed(tf, asOf)
	if err != nil {
		panic(err)
	}
	candles := risingCandles(tf, end, candleLookback)
	return TimeframeData{
		Candles: candles,
		OI:      risingOI(tf, end, oiLookback),
		Funding: mildFunding(tf, end, fundingLookback),
		Taker:   bullishTaker(candles, cfg.Thresholds[tf].CVD.WindowCandles),
		EndMs:   end,
	}
}

func bullishSnapshot(cfg engineconfig.PipelineConfig) Snapshot {
	snap := Snapshot{
		Symbol:       "BTCUSDT",
		AsOfMs:       testAsOf,
		PerTimeframe: make(map[core.Timeframe]TimeframeData, len(core.Timeframes)),
	}
	for _, tf := range core.Timeframes {
		snap.PerTimeframe[tf] = bullishTimeframe(tf, testAsOf, cfg)
	}
	primary := snap.PerTimeframe[primaryTimeframe]
	snap.Whale = VenueData{
		Exchange: core.ExchangeBybit,
		Candles:  primary.Candles,
		OI:       primary.OI,
		Taker:    primary.Taker,
		Funding:  primary.Funding,
	}
	return snap
}

// fakeProvider serves deterministic series derived from the query.
type fakeProvider struct {
	exchange  core.Exchange
	oiErr     error
	lookahead bool
}

func (f *fakeProvider) Exchange() core.Exchange { return f.exchange }

func (f *fakeProvider) GetPriceHistory(ctx context.Context, q marketdata.Query) ([]core.Candle, error) {
	n := q.Limit
	if n == 0 {
		n = candleLookback
	}
	candles := risingCandles(q.Interval, q.EndMs, n)
	if f.lookahead {
		candles = append(candles, core.Candle{Timestamp: q.EndMs, Close: 200})
	}
	return candles, nil
}

func (f *fakeProvider) GetOIHistory(ctx context.Context, q marketdata.Query) ([]core.Candle, error) {
	if f.oiErr != nil {
		return nil, f.oiErr
	}
	return risingOI(q.Interval, q.EndMs, q.Limit), nil
}

func (f *fakeProvider) GetFundingHistory(ctx context.Context, q marketdata.Query) ([]core.FundingPoint, error) {
	return mildFunding(q.Interval, q.EndMs, q.Limit), nil
}

func (f *fakeProvider) GetTakerBuySellVolume(ctx context.Context, q marketdata.Query) ([]core.TakerPoint, error) {
	return bullishTaker(risingCandles(q.Interval, q.EndMs, candleLookback), q.Limit), nil
}

func TestFetchBuildsAlignedSnapshot(t *testing.T) {
	cfg := engineconfig.Default()
	fetcher := NewFetcher(
		&fakeProvider{exchange: core.ExchangeBinance},
		&fakeProvider{exchange: core.ExchangeBybit},
		zerolog.Nop(),
	)

	snap, err := fetcher.Fetch(context.Background(), "BTCUSDT", testAsOf+17_000, cfg)
	require.NoError(t, err)

	require.Len(t, snap.PerTimeframe, len(core.Timeframes))
	for _, tf := range core.Timeframes {
		data := snap.PerTimeframe[tf]
		require.NoError(t, data.FetchErr, tf)
		require.NotEmpty(t, data.Candles, tf)

		interval := timeframe.MustIntervalMs(tf)
		last := data.Candles[len(data.Candles)-1]
		assert.Equal(t, data.EndMs-interval, last.Timestamp, tf)
		assert.LessOrEqual(t, data.EndMs, testAsOf+17_000)
	}
	assert.Equal(t, core.ExchangeBybit, snap.Whale.Exchange)
	assert.NoError(t, snap.Whale.FetchErr)
	assert.NotEmpty(t, snap.Whale.Candles)
}

func TestFetchDegradesOnProviderError(t *testing.T) {
	cfg := engineconfig.Default()
	oiErr := core.NewError(core.KindTimeout, "oi endpoint timed out")
	fetcher := NewFetcher(
		&fakeProvider{exchange: core.ExchangeBinance, oiErr: oiErr},
		&fakeProvider{exchange: core.ExchangeBybit},
		zerolog.Nop(),
	)

	snap, err := fetcher.Fetch(context.Background(), "BTCUSDT", testAsOf, cfg)
	require.NoError(t, err)

	for _, tf := range core.Timeframes {
		require.Error(t, snap.PerTimeframe[tf].FetchErr, tf)
		assert.True(t, core.IsKind(snap.PerTimeframe[tf].FetchErr, core.KindTimeout), tf)
	}
	assert.NoError(t, snap.Whale.FetchErr)
}

func TestFetchRejectsLookahead(t *testing.T) {
	cfg := engineconfig.Default()
	fetcher := NewFetcher(
		&fakeProvider{exchange: core.ExchangeBinance, lookahead: true},
		&fakeProvider{exchange: core.ExchangeBybit},
		zerolog.Nop(),
	)

	_, err := fetcher.Fetch(context.Background(), "BTCUSDT", testAsOf, cfg)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindLookahead))
}

func TestAssembleProducesCompleteState(t *testing.T) {
	cfg := engineconfig.Default()
	asm := NewAssembler(nil, zerolog.Nop())

	state, err := asm.Assemble(context.Background(), bullishSnapshot(cfg), cfg)
	require.NoError(t, err)

	assert.Equal(t, core.StateSchemaVersion, state.SchemaVersion)
	assert.Equal(t, cfg.Version, state.ConfigVersion)
	assert.Equal(t, testAsOf, state.Timestamp)
	assert.Equal(t, "BTCUSDT", state.Symbol)
	assert.Equal(t, primaryTimeframe, state.PrimaryTimeframe)

	require.Len(t, state.PerTimeframe, len(core.Timeframes))
	for _, tf := range core.Timeframes {
		assessment, ok := state.PerTimeframe[tf]
		require.True(t, ok, tf)
		assert.Len(t, assessment.Signals, 8, tf)
		assert.Contains(t, []core.Bias{core.BiasLong, core.BiasShort, core.BiasWait}, assessment.Bias)
	}

	assert.Len(t, state.Reliability.StalenessMs, len(core.Timeframes))
	assert.NotEmpty(t, state.Reliability.PerSignal)
	assert.NotEmpty(t, state.Buckets.Macro.ContributingTimeframes)
	assert.Equal(t, core.AbsorptionNone, state.Absorption.Status)
	assert.NotEqual(t, core.RegimeLabel(""), state.Regime.Label)
}

func TestAssembleIsDeterministic(t *testing.T) {
	cfg := engineconfig.Default()
	asm := NewAssembler(nil, zerolog.Nop())
	snap := bullishSnapshot(cfg)

	first, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)
	second, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAssembleMissingTimeframeWarns(t *testing.T) {
	cfg := engineconfig.Default()
	asm := NewAssembler(nil, zerolog.Nop())

	snap := bullishSnapshot(cfg)
	snap.PerTimeframe[core.Timeframe30m] = TimeframeData{
		FetchErr: core.NewError(core.KindTimeout, "30m fetch timed out"),
	}

	state, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	_, ok := state.PerTimeframe[core.Timeframe30m]
	assert.False(t, ok)

	found := false
	for _, w := range state.Final.Warnings {
		if w == "30m: data unavailable (timeout)" {
			found = true
		}
	}
	assert.True(t, found, "expected a 30m degradation warning, got %v", state.Final.Warnings)
}

func TestAssembleAllTimeframesMissingIsWait(t *testing.T) {
	cfg := engineconfig.Default()
	asm := NewAssembler(nil, zerolog.Nop())

	snap := bullishSnapshot(cfg)
	for _, tf := range core.Timeframes {
		snap.PerTimeframe[tf] = TimeframeData{
			FetchErr: core.NewError(core.KindTimeout, "fetch timed out"),
		}
	}

	state, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	assert.Equal(t, core.BiasWait, state.Final.Bias)
	assert.Equal(t, core.StanceAvoidTrading, state.Final.TradeStance)
	assert.Empty(t, state.PerTimeframe)
	assert.GreaterOrEqual(t, len(state.Final.Warnings), len(core.Timeframes))
}

func TestAssembleWhaleOutageDegradesDivergence(t *testing.T) {
	cfg := engineconfig.Default()
	asm := NewAssembler(nil, zerolog.Nop())

	snap := bullishSnapshot(cfg)
	snap.Whale = VenueData{
		Exchange: core.ExchangeBybit,
		FetchErr: core.NewError(core.KindTimeout, "bybit unreachable"),
	}

	state, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	assert.Equal(t, core.ScenarioUnclear, state.Divergence.Scenario)
	assert.Equal(t, core.BiasWait, state.Divergence.Bias)
	assert.NotEmpty(t, state.Divergence.Warnings)
}

// stubEventStore is a canned absorption store for assembly tests.
type stubEventStore struct {
	events map[core.Timeframe][]absorption.Event
}

func (s *stubEventStore) Open(ctx context.Context, e absorption.Event) (bool, error) {
	return true, nil
}

func (s *stubEventStore) Unresolved(ctx context.Context, symbol string, tf core.Timeframe) ([]absorption.Event, error) {
	return s.events[tf], nil
}

func (s *stubEventStore) Resolve(ctx context.Context, e absorption.Event) error { return nil }

func (s *stubEventStore) MarkExtension(ctx context.Context, id string) error { return nil }

func TestAssembleDetectingEventLeavesDecisionUntouched(t *testing.T) {
	cfg := engineconfig.Default()
	snap := bullishSnapshot(cfg)

	base, err := NewAssembler(nil, zerolog.Nop()).Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	// One candle elapsed out of four: the event is not yet due.
	interval := timeframe.MustIntervalMs(primaryTimeframe)
	store := &stubEventStore{events: map[core.Timeframe][]absorption.Event{
		primaryTimeframe: {{
			ID:               "ev-1",
			Symbol:           "BTCUSDT",
			Timeframe:        primaryTimeframe,
			DetectedAt:       testAsOf - interval,
			CVDDirection:     core.CVDBuying,
			PriceAtDetection: 150,
			SRLevelUsed:      150,
			Location:         core.LocationNearSupport,
		}},
	}}
	asm := NewAssembler(absorption.NewEngine(store, zerolog.Nop()), zerolog.Nop())

	state, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	assert.Equal(t, core.AbsorptionDetecting, state.Absorption.Status)
	assert.Zero(t, state.Absorption.ConfidenceBonus)
	assert.Equal(t, base.Final.Bias, state.Final.Bias)
	assert.Equal(t, base.Final.Confidence, state.Final.Confidence)
	assert.Equal(t, base.Final.RiskMode, state.Final.RiskMode)
}

func TestAssembleResolvedEventMovesConfidenceOnlyWhenAgreeing(t *testing.T) {
	cfg := engineconfig.Default()
	snap := bullishSnapshot(cfg)

	base, err := NewAssembler(nil, zerolog.Nop()).Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	// Detected five candles ago at support, below every close since: the
	// level held, OI kept building, price followed the flow. That grades as
	// ACCUMULATION with a LONG implication.
	interval := timeframe.MustIntervalMs(primaryTimeframe)
	detectedAt := testAsOf - 5*interval
	store := &stubEventStore{events: map[core.Timeframe][]absorption.Event{
		primaryTimeframe: {{
			ID:               "ev-2",
			Symbol:           "BTCUSDT",
			Timeframe:        primaryTimeframe,
			DetectedAt:       detectedAt,
			CVDDirection:     core.CVDBuying,
			PriceAtDetection: 100,
			SRLevelUsed:      100,
			Location:         core.LocationNearSupport,
			OIAtDetection:    1_000_000,
		}},
	}}
	asm := NewAssembler(absorption.NewEngine(store, zerolog.Nop()), zerolog.Nop())

	state, err := asm.Assemble(context.Background(), snap, cfg)
	require.NoError(t, err)

	require.Equal(t, core.AbsorptionResolved, state.Absorption.Status)
	assert.Equal(t, core.ResolutionAccumulation, state.Absorption.Resolution)
	assert.Equal(t, core.BiasLong, state.Absorption.BiasImplication)
	assert.Positive(t, state.Absorption.ConfidenceBonus)

	if base.Final.Bias == core.BiasLong {
		want := base.Final.Confidence + state.Absorption.ConfidenceBonus
		if want > 10 {
			want = 10
		}
		assert.InDelta(t, want, state.Final.Confidence, 1e-9)
	} else {
		assert.Equal(t, base.Final.Confidence, state.Final.Confidence)
		found := false
		for _, w := range state.Final.Warnings {
			if w == "absorption ACCUMULATION implies LONG against final "+string(base.Final.Bias) {
				found = true
			}
		}
		assert.True(t, found, "expected a disagreement warning, got %v", state.Final.Warnings)
	}
}
