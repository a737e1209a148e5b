package features

import (
	"time"

	"github.com/quantfall/perpintel/internal/core"
)

// computeVolumeProfile bins traded volume by price over the window, takes
// the mode bin as POC, and grows the value area around it until it holds
// 70% of total volume.
func computeVolumeProfile(candles []core.Candle) VolumeProfileFeatures {
	out := VolumeProfileFeatures{}
	if len(candles) < volumeProfileBins {
		return out
	}

	lo, hi := candles[0].Low, candles[0].High
	total := 0.0
	for _, c := range candles {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
		total += c.Volume
	}
	if hi <= lo || total == 0 {
		return out
	}

	binSize := (hi - lo) / volumeProfileBins
	bins := make([]float64, volumeProfileBins)
	for _, c := range candles {
		// Attribute candle volume to the bin of its typical price.
		typical := (c.High + c.Low + c.Close) / 3
		idx := int((typical - lo) / binSize)
		if idx >= volumeProfileBins {
			idx = volumeProfileBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx] += c.Volume
	}

	poc := 0
	for i, v := range bins {
		if v > bins[poc] {
			poc = i
		}
	}

	// Expand around the POC, taking the heavier neighbor each step, until
	// the area covers 70% of traded volume.
	lowIdx, highIdx := poc, poc
	area := bins[poc]
	for area < 0.7*total && (lowIdx > 0 || highIdx < volumeProfileBins-1) {
		below, above := -1.0, -1.0
		if lowIdx > 0 {
			below = bins[lowIdx-1]
		}
		if highIdx < volumeProfileBins-1 {
			above = bins[highIdx+1]
		}
		if above >= below {
			highIdx++
			area += bins[highIdx]
		} else {
			lowIdx--
			area += bins[lowIdx]
		}
	}

	binCenter := func(i int) float64 { return lo + (float64(i)+0.5)*binSize }
	out.POC = binCenter(poc)
	out.VAL = binCenter(lowIdx)
	out.VAH = binCenter(highIdx)
	out.Computed = true

	return out
}

// computeVWAP computes the session VWAP from 00:00 UTC of the last
// candle's day, with +-1% inner and +-2% outer bands.
func computeVWAP(candles []core.Candle, intervalMs int64) VWAPFeatures {
	out := VWAPFeatures{Position: "inside"}
	if len(candles) == 0 {
		return out
	}

	last := candles[len(candles)-1]
	sessionStart := time.UnixMilli(last.Timestamp).UTC().Truncate(24 * time.Hour).UnixMilli()

	var pv, vol float64
	for _, c := range candles {
		if c.Timestamp < sessionStart {
			continue
		}
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return out
	}

	out.Value = pv / vol
	out.Upper1 = out.Value * 1.01
	out.Lower1 = out.Value * 0.99
	out.Upper2 = out.Value * 1.02
	out.Lower2 = out.Value * 0.98
	switch {
	case last.Close > out.Upper1:
		out.Position = "above"
	case last.Close < out.Lower1:
		out.Position = "below"
	}
	out.Computed = true

	return out
}
