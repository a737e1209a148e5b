package features

import (
	"github.com/quantfall/perpintel/internal/core"
)

// computeStructure finds the most recent swing high and low (local extrema
// within a +-k candle window) and detects break of structure: a close
// beyond the most recent opposite swing extremum.
func computeStructure(candles []core.Candle) StructureFeatures {
	out := StructureFeatures{BoS: "none"}
	if len(candles) < 2*swingWindow+1 {
		return out
	}

	// Scan newest-first so the first hit is the most recent swing. The
	// last swingWindow candles cannot confirm an extremum yet.
	for i := len(candles) - 1 - swingWindow; i >= swingWindow; i-- {
		if out.SwingHighTs == 0 && isSwingHigh(candles, i) {
			out.SwingHigh = candles[i].High
			out.SwingHighTs = candles[i].Timestamp
		}
		if out.SwingLowTs == 0 && isSwingLow(candles, i) {
			out.SwingLow = candles[i].Low
			out.SwingLowTs = candles[i].Timestamp
		}
		if out.SwingHighTs != 0 && out.SwingLowTs != 0 {
			break
		}
	}

	if out.SwingHighTs == 0 || out.SwingLowTs == 0 {
		return out
	}

	out.Resistance = out.SwingHigh
	out.Support = out.SwingLow
	out.Computed = true

	lastClose := candles[len(candles)-1].Close
	if lastClose > out.SwingHigh {
		out.BoS = "bullish"
	} else if lastClose < out.SwingLow {
		out.BoS = "bearish"
	}

	return out
}

func isSwingHigh(candles []core.Candle, i int) bool {
	h := candles[i].High
	for j := i - swingWindow; j <= i+swingWindow; j++ {
		if j == i {
			continue
		}
		if candles[j].High >= h {
			return false
		}
	}
	return true
}

func isSwingLow(candles []core.Candle, i int) bool {
	l := candles[i].Low
	for j := i - swingWindow; j <= i+swingWindow; j++ {
		if j == i {
			continue
		}
		if candles[j].Low <= l {
			return false
		}
	}
	return true
}
