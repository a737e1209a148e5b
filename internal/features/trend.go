package features

import (
	"math"

	"github.com/cinar/indicator/v2/trend"
)

// emaLast computes the final EMA value for a period over the price series.
func emaLast(prices []float64, period int) float64 {
	if len(prices) < period || period < 1 {
		return 0
	}

	in := make(chan float64, len(prices))
	for _, p := range prices {
		in <- p
	}
	close(in)

	ema := trend.NewEmaWithPeriod[float64](period)
	var last float64
	for v := range ema.Compute(in) {
		last = v
	}
	return last
}

// computeTrend derives direction from EMA posture and strength from the
// regression slope of recent closes normalized by their dispersion.
func computeTrend(closes []float64) TrendFeatures {
	t := TrendFeatures{Direction: "sideways", Crossover: "none"}
	if len(closes) < minTrendCandles {
		return t
	}

	t.EMA20 = emaLast(closes, 20)
	t.EMA50 = emaLast(closes, 50)

	window := tail(closes, 20)
	sd := stddev(window)
	sl := slope(window)
	if sd > 0 {
		t.Strength = math.Abs(sl) / sd
	}

	price := closes[len(closes)-1]
	switch {
	case price > t.EMA20 && t.EMA20 > t.EMA50:
		t.Direction = "up"
	case price < t.EMA20 && t.EMA20 < t.EMA50:
		t.Direction = "down"
	}

	// Crossover state compares the current EMA ordering against the
	// ordering one candle earlier.
	prevEMA20 := emaLast(closes[:len(closes)-1], 20)
	prevEMA50 := emaLast(closes[:len(closes)-1], 50)
	if prevEMA20 <= prevEMA50 && t.EMA20 > t.EMA50 {
		t.Crossover = "golden"
	} else if prevEMA20 >= prevEMA50 && t.EMA20 < t.EMA50 {
		t.Crossover = "death"
	}

	return t
}

func computeMomentum(closes []float64) MomentumFeatures {
	if len(closes) <= momentumPeriods {
		return MomentumFeatures{}
	}
	from := closes[len(closes)-1-momentumPeriods]
	to := closes[len(closes)-1]
	return MomentumFeatures{ChangePct: pctChange(from, to)}
}

// computeVolatility annualizes the stddev of log returns over the window
// and finds the max peak-to-trough drawdown.
func computeVolatility(closes []float64, intervalMs int64) VolatilityFeatures {
	v := VolatilityFeatures{}
	window := tail(closes, volatilityWindow)
	if len(window) < 3 {
		return v
	}

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] > 0 && window[i] > 0 {
			returns = append(returns, math.Log(window[i]/window[i-1]))
		}
	}
	periodsPerYear := float64(365*24*3600*1000) / float64(intervalMs)
	v.Realized = stddev(returns) * math.Sqrt(periodsPerYear)

	peak := window[0]
	for _, p := range window {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (peak - p) / peak * 100
			if dd > v.MaxDrawdownPct {
				v.MaxDrawdownPct = dd
			}
		}
	}

	return v
}
