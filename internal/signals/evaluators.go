package signals

import (
	"fmt"
	"math"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
)

// clampConfidence keeps a confidence in [0,10].
func clampConfidence(c float64) float64 {
	return math.Max(0, math.Min(10, c))
}

// evalTechnical reads EMA posture, trend strength, and momentum.
func evalTechnical(f features.Features, th engineconfig.TimeframeThresholds) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalTechnical, Bias: core.BiasWait, Reliable: true}

	momentum := f.Momentum.ChangePct
	switch f.Trend.Direction {
	case "up":
		v.Bias = core.BiasLong
	case "down":
		v.Bias = core.BiasShort
	default:
		v.Confidence = 2
		v.Reasoning = fmt.Sprintf("price between EMAs, momentum %.2f%% inside noise", momentum)
		return v
	}

	conf := 4.0
	if math.Abs(momentum) >= th.StrongPct {
		conf += 2
	}
	conf += math.Min(2, f.Trend.Strength*4)
	if f.Trend.Crossover == "golden" && v.Bias == core.BiasLong {
		conf++
	}
	if f.Trend.Crossover == "death" && v.Bias == core.BiasShort {
		conf++
	}
	v.Confidence = clampConfidence(conf)
	v.Reasoning = fmt.Sprintf("EMA20 %s EMA50 with %s trend, 24-period change %.2f%%",
		comparator(f.Trend.EMA20, f.Trend.EMA50), f.Trend.Direction, momentum)
	v.Details = map[string]float64{"ema20": f.Trend.EMA20, "ema50": f.Trend.EMA50, "momentum_pct": momentum}
	return v
}

func comparator(a, b float64) string {
	if a > b {
		return "above"
	}
	return "below"
}

// evalStructure reads break-of-structure and proximity to swing levels.
func evalStructure(f features.Features) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalStructure, Bias: core.BiasWait, Reliable: true}
	if !f.Structure.Computed {
		v.Reliable = false
		v.Reasoning = "no confirmed swing structure"
		return v
	}

	switch f.Structure.BoS {
	case "bullish":
		v.Bias = core.BiasLong
		v.Confidence = 7
		v.Reasoning = fmt.Sprintf("close %.2f broke swing high %.2f", f.LastClose, f.Structure.SwingHigh)
	case "bearish":
		v.Bias = core.BiasShort
		v.Confidence = 7
		v.Reasoning = fmt.Sprintf("close %.2f broke swing low %.2f", f.LastClose, f.Structure.SwingLow)
	default:
		// Inside the range: lean with the nearer boundary reaction.
		span := f.Structure.Resistance - f.Structure.Support
		if span <= 0 {
			v.Reasoning = "degenerate swing range"
			return v
		}
		pos := (f.LastClose - f.Structure.Support) / span
		switch {
		case pos <= 0.25:
			v.Bias = core.BiasLong
			v.Confidence = 4
			v.Reasoning = fmt.Sprintf("price %.2f holding near support %.2f", f.LastClose, f.Structure.Support)
		case pos >= 0.75:
			v.Bias = core.BiasShort
			v.Confidence = 4
			v.Reasoning = fmt.Sprintf("price %.2f pressing resistance %.2f", f.LastClose, f.Structure.Resistance)
		default:
			v.Confidence = 2
			v.Reasoning = "price mid-range between swings"
		}
	}
	v.Details = map[string]float64{"support": f.Structure.Support, "resistance": f.Structure.Resistance}
	return v
}

// evalCVD converts delta-flow slope into a directional verdict; only a
// slope above the noise floor counts.
func evalCVD(f features.Features) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalCVD, Bias: core.BiasWait, Reliable: true}
	if !f.CVD.Computed {
		v.Reliable = false
		v.Reasoning = "cvd unavailable"
		return v
	}

	if !f.CVD.Strong {
		v.Confidence = 2
		v.Reasoning = fmt.Sprintf("cvd slope %.4f inside noise floor %.4f", f.CVD.Slope, f.CVD.NoiseFloor)
		return v
	}

	if f.CVD.Direction == core.CVDBuying {
		v.Bias = core.BiasLong
	} else {
		v.Bias = core.BiasShort
	}
	strength := math.Abs(f.CVD.Slope) / math.Max(f.CVD.NoiseFloor, 1e-9)
	v.Confidence = clampConfidence(5 + math.Min(3, strength-1))
	v.Reasoning = fmt.Sprintf("%s pressure: cvd slope %.4f clears noise floor %.4f", f.CVD.Direction, f.CVD.Slope, f.CVD.NoiseFloor)
	v.Details = map[string]float64{"slope": f.CVD.Slope, "noise_floor": f.CVD.NoiseFloor}
	return v
}

// evalVWAP reads the session VWAP bands.
func evalVWAP(f features.Features) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalVWAP, Bias: core.BiasWait, Reliable: true}
	if !f.VWAP.Computed {
		v.Reliable = false
		v.Reasoning = "vwap unavailable"
		return v
	}

	switch {
	case f.LastClose > f.VWAP.Upper2:
		v.Bias = core.BiasLong
		v.Confidence = 4
		v.Reasoning = fmt.Sprintf("price %.2f above outer vwap band %.2f, extended", f.LastClose, f.VWAP.Upper2)
	case f.LastClose > f.VWAP.Upper1:
		v.Bias = core.BiasLong
		v.Confidence = 6
		v.Reasoning = fmt.Sprintf("price %.2f above vwap band %.2f", f.LastClose, f.VWAP.Upper1)
	case f.LastClose < f.VWAP.Lower2:
		v.Bias = core.BiasShort
		v.Confidence = 4
		v.Reasoning = fmt.Sprintf("price %.2f below outer vwap band %.2f, extended", f.LastClose, f.VWAP.Lower2)
	case f.LastClose < f.VWAP.Lower1:
		v.Bias = core.BiasShort
		v.Confidence = 6
		v.Reasoning = fmt.Sprintf("price %.2f below vwap band %.2f", f.LastClose, f.VWAP.Lower1)
	default:
		v.Confidence = 2
		v.Reasoning = fmt.Sprintf("price %.2f inside vwap bands around %.2f", f.LastClose, f.VWAP.Value)
	}
	v.Details = map[string]float64{"vwap": f.VWAP.Value}
	return v
}

// evalFunding is contrarian at extremes and neutral otherwise: crowded
// longs (extreme positive) imply squeeze risk to the downside.
func evalFunding(f features.Features, gates engineconfig.Gates) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalFunding, Bias: core.BiasWait, Reliable: true}
	if !f.Funding.Computed {
		v.Reliable = false
		v.Reasoning = "funding history unavailable"
		return v
	}

	switch fundingExtreme(f, gates) {
	case 1:
		v.Bias = core.BiasShort
		v.Confidence = clampConfidence(4 + math.Min(3, f.Funding.ZScore-gates.FundingZExtreme))
		v.Reasoning = fmt.Sprintf("funding z-score %.2f >= %.2f: crowded longs", f.Funding.ZScore, gates.FundingZExtreme)
	case -1:
		v.Bias = core.BiasLong
		v.Confidence = clampConfidence(4 + math.Min(3, -f.Funding.ZScore-gates.FundingZExtreme))
		v.Reasoning = fmt.Sprintf("funding z-score %.2f <= -%.2f: crowded shorts", f.Funding.ZScore, gates.FundingZExtreme)
	default:
		v.Confidence = 1
		v.Reasoning = fmt.Sprintf("funding z-score %.2f inside +-%.2f, neutral", f.Funding.ZScore, gates.FundingZExtreme)
	}
	v.Details = map[string]float64{"rate": f.Funding.Current, "z_score": f.Funding.ZScore}
	return v
}

// evalVolumeProfile reads price relative to the value area.
func evalVolumeProfile(f features.Features) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalVolumeProfile, Bias: core.BiasWait, Reliable: true}
	if !f.VolumeProfile.Computed {
		v.Reliable = false
		v.Reasoning = "volume profile unavailable"
		return v
	}

	switch {
	case f.LastClose > f.VolumeProfile.VAH:
		v.Bias = core.BiasLong
		v.Confidence = 5
		v.Reasoning = fmt.Sprintf("price %.2f above value area high %.2f", f.LastClose, f.VolumeProfile.VAH)
	case f.LastClose < f.VolumeProfile.VAL:
		v.Bias = core.BiasShort
		v.Confidence = 5
		v.Reasoning = fmt.Sprintf("price %.2f below value area low %.2f", f.LastClose, f.VolumeProfile.VAL)
	default:
		v.Confidence = 2
		v.Reasoning = fmt.Sprintf("price %.2f inside value area (poc %.2f)", f.LastClose, f.VolumeProfile.POC)
	}
	v.Details = map[string]float64{"poc": f.VolumeProfile.POC, "vah": f.VolumeProfile.VAH, "val": f.VolumeProfile.VAL}
	return v
}

// evalRegime projects the global regime assessment onto a verdict.
func evalRegime(regime core.RegimeAssessment) core.SignalVerdict {
	v := core.SignalVerdict{Name: core.SignalMarketRegime, Bias: core.BiasWait, Reliable: true,
		Confidence: clampConfidence(regime.Confidence)}

	switch regime.Label {
	case core.RegimeHealthyBull, core.RegimeAccumulation, core.RegimeShortTrap:
		v.Bias = core.BiasLong
	case core.RegimeHealthyBear, core.RegimeDistribution, core.RegimeLongTrap:
		v.Bias = core.BiasShort
	default:
		v.Confidence = math.Min(v.Confidence, 2)
	}
	v.Reasoning = fmt.Sprintf("regime %s", regime.Label)
	if regime.SubType != "" {
		v.Reasoning += fmt.Sprintf(" (%s)", regime.SubType)
	}
	return v
}

// evalDivergence projects the cross-exchange scenario onto a verdict.
func evalDivergence(div core.DivergenceAssessment) core.SignalVerdict {
	v := core.SignalVerdict{
		Name:       core.SignalExchangeDivergence,
		Bias:       div.Bias,
		Confidence: clampConfidence(div.Confidence),
		Reliable:   true,
		Reasoning:  fmt.Sprintf("cross-exchange scenario %s", div.Scenario),
	}
	if !v.Bias.Directional() {
		v.Bias = core.BiasWait
		v.Confidence = math.Min(v.Confidence, 2)
	}
	return v
}
