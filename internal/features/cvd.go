package features

import (
	"math"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

// computeCVD builds the normalized per-candle delta series
// (buy-sell)/(buy+sell) over the configured window, fits a least-squares
// slope over the slope window, and derives the noise floor as
// stddev(series) * 1.5. The strong flag fires when |slope| clears the
// floor.
func computeCVD(taker []core.TakerPoint, th engineconfig.CVDThresholds) CVDFeatures {
	out := CVDFeatures{
		ExpectedCandles: th.WindowCandles,
		Direction:       core.CVDBuying,
	}
	if len(taker) == 0 {
		return out
	}

	window := taker
	if len(window) > th.WindowCandles {
		window = window[len(window)-th.WindowCandles:]
	}
	out.ActualCandles = len(window)

	series := make([]float64, 0, len(window))
	zeroRun, maxZeroRun := 0, 0
	for _, p := range window {
		total := p.BuyUSD + p.SellUSD
		if total == 0 {
			series = append(series, 0)
			zeroRun++
			if zeroRun > maxZeroRun {
				maxZeroRun = zeroRun
			}
			continue
		}
		zeroRun = 0
		series = append(series, (p.BuyUSD-p.SellUSD)/total)
	}
	out.ZeroVolumeRun = maxZeroRun
	out.Series = series

	// The noise floor is measured on per-candle deltas; the slope on the
	// cumulative sum, so it reads as average delta per candle and the two
	// are directly comparable.
	out.NoiseFloor = stddev(series) * 1.5
	cumulative := make([]float64, len(series))
	run := 0.0
	for i, d := range series {
		run += d
		cumulative[i] = run
	}
	out.Slope = slope(tail(cumulative, th.SlopeWindow))
	out.Strong = math.Abs(out.Slope) > out.NoiseFloor
	if out.Slope < 0 {
		out.Direction = core.CVDSelling
	}
	out.Computed = true

	return out
}
