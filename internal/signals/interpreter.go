// Package signals turns per-timeframe feature bundles into weighted signal
// verdicts and a composite directional assessment. Reliability gates run
// before weighting: a gated signal drops to WAIT with zero weight, keeping
// its reasoning for transparency, and the surviving weights are
// renormalized.
package signals

import (
	"sort"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
)

// Context carries the cross-timeframe assessments the interpreter projects
// into per-timeframe verdicts.
type Context struct {
	Regime     core.RegimeAssessment
	Divergence core.DivergenceAssessment
}

// Result is the interpreter output for one timeframe.
type Result struct {
	Assessment core.TimeframeAssessment
	// GatedOff names the signals whose weight was forced to zero.
	GatedOff []string
}

// Interpret evaluates all signal families for one timeframe, applies the
// reliability gates, renormalizes weights, and aggregates the composite.
func Interpret(f features.Features, ctx Context, cfg engineconfig.PipelineConfig) Result {
	th := cfg.Thresholds[f.Timeframe]

	verdicts := []core.SignalVerdict{
		evalDivergence(ctx.Divergence),
		evalRegime(ctx.Regime),
		evalStructure(f),
		evalTechnical(f, th),
		evalCVD(f),
		evalVWAP(f),
		evalFunding(f, cfg.Gates),
		evalVolumeProfile(f),
	}

	var (
		warnings []string
		gatedOff []string
	)

	// Seed configured weights. A family absent from the weights map is
	// carried with zero weight so the breakdown stays complete.
	for i := range verdicts {
		verdicts[i].Weight = cfg.Weights.Signals[verdicts[i].Name]
	}

	// Data-quality gates.
	if g := cvdGate(f, th.CVD); g.gatedOff {
		applyGate(verdicts, core.SignalCVD, g)
		gatedOff = append(gatedOff, core.SignalCVD)
		warnings = append(warnings, g.warning)
	}

	staleness := stalenessGate(f, cfg.Gates, cfg.Penalties)
	if staleness.warning != "" {
		warnings = append(warnings, staleness.warning)
	}
	if staleness.gatedOff {
		for i := range verdicts {
			verdicts[i].Weight = 0
			verdicts[i].Reliable = false
		}
		gatedOff = allSignalNames(verdicts)
	} else if staleness.confidence != 1 {
		for i := range verdicts {
			verdicts[i].Confidence = clampConfidence(verdicts[i].Confidence * staleness.confidence)
		}
	}

	// Features that could not be computed carry no weight either.
	for i, v := range verdicts {
		if v.Reliable {
			continue
		}
		if v.Weight > 0 {
			verdicts[i].Weight = 0
			gatedOff = appendUnique(gatedOff, v.Name)
		}
	}

	renormalizeWeights(verdicts)
	warnings = append(warnings, f.Warnings...)
	sort.Strings(gatedOff)

	assessment := aggregate(verdicts)
	assessment.Warnings = warnings

	return Result{Assessment: assessment, GatedOff: gatedOff}
}

// aggregate folds weighted verdicts into the timeframe composite: each
// directional verdict votes weight x confidence for its side, and the
// composite confidence is the winning score (weights sum to 1, so the score
// is already on the 0..10 scale).
func aggregate(verdicts []core.SignalVerdict) core.TimeframeAssessment {
	var longScore, shortScore float64
	for _, v := range verdicts {
		switch v.Bias {
		case core.BiasLong:
			longScore += v.Weight * v.Confidence
		case core.BiasShort:
			shortScore += v.Weight * v.Confidence
		}
	}

	a := core.TimeframeAssessment{Bias: core.BiasWait, Signals: verdicts}
	switch {
	case longScore > shortScore:
		a.Bias = core.BiasLong
		a.Confidence = clampConfidence(longScore)
	case shortScore > longScore:
		a.Bias = core.BiasShort
		a.Confidence = clampConfidence(shortScore)
	default:
		a.Confidence = 0
	}
	return a
}

func applyGate(verdicts []core.SignalVerdict, name string, g gateResult) {
	for i := range verdicts {
		if verdicts[i].Name != name {
			continue
		}
		verdicts[i].Weight = 0
		verdicts[i].Bias = core.BiasWait
		verdicts[i].Reliable = g.reliable
		if g.warning != "" {
			verdicts[i].Reasoning = g.warning
		}
		return
	}
}

func allSignalNames(verdicts []core.SignalVerdict) []string {
	names := make([]string, len(verdicts))
	for i, v := range verdicts {
		names[i] = v.Name
	}
	return names
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
