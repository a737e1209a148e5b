package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

func defaultCVDThresholds() engineconfig.CVDThresholds {
	return engineconfig.CVDThresholds{WindowCandles: 50, MinReliablePct: 0.8, SlopeWindow: 10}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name string
		ys   []float64
		want float64
	}{
		{"ascending line", []float64{1, 2, 3, 4, 5}, 1},
		{"descending line", []float64{5, 4, 3, 2, 1}, -1},
		{"flat", []float64{3, 3, 3, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, slope(tt.ys), 1e-9)
		})
	}
}

func TestStddev(t *testing.T) {
	assert.InDelta(t, 1.5811, stddev([]float64{1, 2, 3, 4, 5}), 1e-3)
	assert.Zero(t, stddev([]float64{7}))
}

func TestZScoreOfFlatSeries(t *testing.T) {
	assert.Zero(t, zScore([]float64{1, 1, 1, 1}))
}

func makeCandles(n int, startPrice, step float64) []core.Candle {
	start := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	interval := int64(3_600_000)
	out := make([]core.Candle, n)
	price := startPrice
	for i := range out {
		out[i] = core.Candle{
			Timestamp: start + int64(i)*interval,
			Open:      price,
			High:      price + math.Abs(step) + 1,
			Low:       price - math.Abs(step) - 1,
			Close:     price + step,
			Volume:    100,
		}
		price += step
	}
	return out
}

func TestComputeTrendUp(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	tr := computeTrend(closes)
	assert.Equal(t, "up", tr.Direction)
	assert.Greater(t, tr.EMA20, tr.EMA50)
	assert.Greater(t, tr.Strength, 0.0)
}

func TestComputeTrendInsufficient(t *testing.T) {
	tr := computeTrend([]float64{1, 2, 3})
	assert.Equal(t, "sideways", tr.Direction)
	assert.Zero(t, tr.EMA50)
}

func TestComputeMomentum(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 110
	closes[len(closes)-1-momentumPeriods] = 100

	m := computeMomentum(closes)
	assert.InDelta(t, 10, m.ChangePct, 1e-9)
}

func TestComputeCVDStrongSlope(t *testing.T) {
	// Small alternating deltas, then ten candles of one-sided buying: the
	// cumulative slope should clear the noise floor.
	taker := make([]core.TakerPoint, 50)
	for i := range taker {
		if i%2 == 0 {
			taker[i] = core.TakerPoint{Timestamp: int64(i), BuyUSD: 105, SellUSD: 95}
		} else {
			taker[i] = core.TakerPoint{Timestamp: int64(i), BuyUSD: 95, SellUSD: 105}
		}
	}
	for i := 40; i < 50; i++ {
		taker[i] = core.TakerPoint{Timestamp: int64(i), BuyUSD: 160, SellUSD: 40}
	}

	cvd := computeCVD(taker, defaultCVDThresholds())
	require.True(t, cvd.Computed)
	assert.Equal(t, core.CVDBuying, cvd.Direction)
	assert.True(t, cvd.Strong, "slope %v floor %v", cvd.Slope, cvd.NoiseFloor)
	assert.Equal(t, 50, cvd.ActualCandles)
}

func TestComputeCVDZeroVolumeRun(t *testing.T) {
	taker := make([]core.TakerPoint, 20)
	for i := range taker {
		taker[i] = core.TakerPoint{Timestamp: int64(i), BuyUSD: 10, SellUSD: 10}
	}
	for i := 5; i < 9; i++ {
		taker[i] = core.TakerPoint{Timestamp: int64(i)}
	}

	cvd := computeCVD(taker, defaultCVDThresholds())
	assert.Equal(t, 4, cvd.ZeroVolumeRun)
}

func TestComputeOIAlignment(t *testing.T) {
	mkOI := func(from, to float64) []core.Candle {
		out := make([]core.Candle, oiDeltaPeriods+1)
		step := (to - from) / float64(oiDeltaPeriods)
		for i := range out {
			out[i] = core.Candle{Timestamp: int64(i), Close: from + step*float64(i)}
		}
		return out
	}
	mkCloses := func(from, to float64) []float64 {
		out := make([]float64, oiDeltaPeriods+1)
		step := (to - from) / float64(oiDeltaPeriods)
		for i := range out {
			out[i] = from + step*float64(i)
		}
		return out
	}

	tests := []struct {
		name      string
		oi        []core.Candle
		closes    []float64
		alignment string
	}{
		{"price up OI up", mkOI(100, 110), mkCloses(50, 55), "aligned"},
		{"price up OI down", mkOI(110, 100), mkCloses(50, 55), "bearish_divergence"},
		{"price down OI down", mkOI(110, 100), mkCloses(55, 50), "bullish_divergence"},
		{"price down OI up", mkOI(100, 110), mkCloses(55, 50), "aligned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeOI(tt.oi, tt.closes)
			require.True(t, got.Computed)
			assert.Equal(t, tt.alignment, got.Alignment)
		})
	}
}

func TestComputeFundingZScore(t *testing.T) {
	funding := make([]core.FundingPoint, 30)
	for i := range funding {
		funding[i] = core.FundingPoint{Timestamp: int64(i), Rate: 0.0001}
	}
	funding[len(funding)-1].Rate = 0.0015

	f := computeFunding(funding)
	require.True(t, f.Computed)
	assert.InDelta(t, 0.0015, f.Current, 1e-9)
	assert.Greater(t, f.ZScore, 2.0)
}

func TestComputeStructureSwingsAndBoS(t *testing.T) {
	// A hill then a valley, then a close above the hill: bullish BoS.
	candles := makeCandles(20, 100, 0)
	candles[8].High = 150  // swing high at index 8
	candles[14].Low = 60   // swing low at index 14
	candles[19].Close = 160

	s := computeStructure(candles)
	require.True(t, s.Computed)
	assert.InDelta(t, 150, s.SwingHigh, 1e-9)
	assert.InDelta(t, 60, s.SwingLow, 1e-9)
	assert.Equal(t, "bullish", s.BoS)
	assert.InDelta(t, 150, s.Resistance, 1e-9)
	assert.InDelta(t, 60, s.Support, 1e-9)
}

func TestComputeVolumeProfile(t *testing.T) {
	// Concentrate volume around 100 with a few excursions.
	candles := makeCandles(48, 100, 0)
	for i := range candles {
		candles[i].Volume = 10
	}
	candles[10].Volume = 500 // dominant node

	vp := computeVolumeProfile(candles)
	require.True(t, vp.Computed)
	assert.True(t, vp.VAL <= vp.POC && vp.POC <= vp.VAH)
}

func TestComputeVWAPBandsAndPosition(t *testing.T) {
	candles := makeCandles(24, 100, 0)
	vw := computeVWAP(candles, 3_600_000)
	require.True(t, vw.Computed)
	assert.InDelta(t, vw.Value*1.01, vw.Upper1, 1e-9)
	assert.InDelta(t, vw.Value*0.98, vw.Lower2, 1e-9)

	candles[len(candles)-1].Close = vw.Value * 1.05
	vw = computeVWAP(candles, 3_600_000)
	assert.Equal(t, "above", vw.Position)
}

func TestComputeBundle(t *testing.T) {
	candles := makeCandles(60, 100, 0.5)
	taker := make([]core.TakerPoint, 60)
	for i := range taker {
		taker[i] = core.TakerPoint{Timestamp: candles[i].Timestamp, BuyUSD: 120, SellUSD: 100}
	}
	oi := make([]core.Candle, 60)
	for i := range oi {
		oi[i] = core.Candle{Timestamp: candles[i].Timestamp, Close: 1000 + float64(i)}
	}
	funding := make([]core.FundingPoint, 60)
	for i := range funding {
		funding[i] = core.FundingPoint{Timestamp: candles[i].Timestamp, Rate: 0.0001}
	}

	asOf := candles[len(candles)-1].Timestamp + 3_600_000
	f, err := Compute(Inputs{
		Timeframe: core.Timeframe1h,
		Candles:   candles,
		OI:        oi,
		Funding:   funding,
		Taker:     taker,
		AsOfMs:    asOf,
		EndMs:     asOf,
	}, engineconfig.Default().Thresholds[core.Timeframe1h])
	require.NoError(t, err)

	assert.Equal(t, core.Timeframe1h, f.Timeframe)
	assert.Equal(t, "up", f.Trend.Direction)
	assert.True(t, f.CVD.Computed)
	assert.True(t, f.OI.Computed)
	assert.True(t, f.Funding.Computed)
	assert.Zero(t, f.StalenessMs)
}

func TestComputeNoCandles(t *testing.T) {
	_, err := Compute(Inputs{Timeframe: core.Timeframe1h}, engineconfig.Default().Thresholds[core.Timeframe1h])
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInsufficientData))
}
