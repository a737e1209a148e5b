package decision

import (
	"fmt"
	"math"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

// chopConfidenceCap limits how much conviction a choppy or unclear regime
// may carry.
const chopConfidenceCap = 4

// Inputs collects everything the hierarchical contract needs beyond the
// bucket verdicts themselves.
type Inputs struct {
	Buckets        core.BucketSet
	Regime         core.RegimeAssessment
	FundingExtreme bool // an extreme-funding gate fired on any timeframe
	GatedSignals   int  // signals forced to zero weight this cycle
}

// Decide applies the hierarchical permission contract. Macro grants or
// denies direction; Micro may veto an unanchored Macro; Scalping only moves
// confidence. Conflict and alignment adjustments follow, then the regime
// clamp, stance mapping, and risk mode.
func Decide(in Inputs, cfg engineconfig.PipelineConfig) core.FinalDecision {
	d := core.FinalDecision{
		Bias:          core.BiasWait,
		TradeStance:   core.StanceAvoidTrading,
		RiskMode:      core.RiskNormal,
		PrimaryRegime: in.Regime.Label,
		Warnings:      []string{},
	}

	macro, micro, scalp := in.Buckets.Macro, in.Buckets.Micro, in.Buckets.Scalping

	// Macro permission gate. No lower bucket may override a closed gate.
	permitted := macro.Bias.Directional() && macro.Confidence >= cfg.Gates.MacroPermission
	if !permitted {
		d.Warnings = append(d.Warnings, fmt.Sprintf(
			"macro gate closed: bias %s confidence %.1f below %.1f", macro.Bias, macro.Confidence, cfg.Gates.MacroPermission))
	} else {
		d.Bias = macro.Bias
		d.Confidence = macro.Confidence
		d.MacroAnchored = macro.Confidence >= cfg.Gates.MacroAnchor

		microOpposes := micro.Bias.Directional() && micro.Bias != macro.Bias
		scalpOpposes := scalp.Bias.Directional() && scalp.Bias != macro.Bias

		switch {
		case d.MacroAnchored && (microOpposes || scalpOpposes):
			// Anchored: opposition dents confidence but cannot flip or veto.
			d.Confidence *= 1 - cfg.Penalties.AnchorOppositionFactor
			d.Warnings = append(d.Warnings, "Macro anchored - lower TF opposing")
		case !d.MacroAnchored && microOpposes && micro.Confidence >= cfg.Gates.SetupVeto:
			d.Bias = core.BiasWait
			d.Confidence = 0
			d.Warnings = append(d.Warnings, fmt.Sprintf(
				"micro veto: %s at %.1f opposes macro %s", micro.Bias, micro.Confidence, macro.Bias))
		}

		// Scalping is an execution trigger: confidence only, never direction.
		if d.Bias.Directional() {
			if scalp.Bias == d.Bias {
				d.Confidence = math.Min(10, d.Confidence+0.5)
			} else if scalpOpposes {
				d.Confidence = math.Max(0, d.Confidence-0.5)
			}
		}
	}

	longScore := macro.LongScore + micro.LongScore + scalp.LongScore
	shortScore := macro.ShortScore + micro.ShortScore + scalp.ShortScore
	waitScore := macro.WaitScore + micro.WaitScore + scalp.WaitScore

	// Conflict penalty on the cross-bucket tug-of-war.
	conflictR := 0.0
	if longScore > 0 && shortScore > 0 {
		conflictR = math.Min(longScore, shortScore) / math.Max(longScore, shortScore)
	}
	if conflictR > cfg.Penalties.ConflictRatio {
		d.Confidence *= 1 - conflictR*cfg.Penalties.ConflictPenaltyFactor
		d.Warnings = append(d.Warnings, fmt.Sprintf("directional conflict ratio %.2f, confidence reduced", conflictR))
	}

	aligned := macro.Bias.Directional() && macro.Bias == micro.Bias && micro.Bias == scalp.Bias
	if aligned && d.Bias.Directional() {
		d.Confidence = math.Min(10, d.Confidence+cfg.Penalties.AlignmentBonus)
	}

	d.DirectionConfidence = d.Confidence
	d.NoTradeConfidence = noTradeConfidence(longScore, shortScore, waitScore, in)

	// Regime clamp.
	if in.Regime.Label == core.RegimeChop || in.Regime.Label == core.RegimeUnclear {
		d.TradeStance = core.StanceAvoidTrading
		if d.Confidence > chopConfidenceCap {
			d.Confidence = chopConfidenceCap
			d.DirectionConfidence = chopConfidenceCap
		}
		d.Warnings = append(d.Warnings, fmt.Sprintf("regime %s: avoiding trades", in.Regime.Label))
		d.RiskMode = riskMode(aligned, conflictR, in, cfg, d.Confidence)
		return d
	}

	d.TradeStance = stance(d.Bias, in.Regime.Label)
	d.RiskMode = riskMode(aligned, conflictR, in, cfg, d.Confidence)
	return d
}

// noTradeConfidence rises with the WAIT-score share, an indecisive regime,
// and the number of gated signals.
func noTradeConfidence(longScore, shortScore, waitScore float64, in Inputs) float64 {
	total := longScore + shortScore + waitScore
	c := 0.0
	if total > 0 {
		c = 10 * waitScore / total
	}
	if in.Regime.Label == core.RegimeChop || in.Regime.Label == core.RegimeUnclear {
		c += 2
	}
	c += 0.5 * float64(in.GatedSignals)
	return math.Min(10, c)
}

// stance maps bias to a trade stance, then lets the regime override it.
// Trap regimes only permit trading with the trap, never against it.
func stance(bias core.Bias, regime core.RegimeLabel) core.TradeStance {
	base := core.StanceAvoidTrading
	switch bias {
	case core.BiasLong:
		base = core.StanceLookForLongs
	case core.BiasShort:
		base = core.StanceLookForShorts
	}

	switch regime {
	case core.RegimeDistribution, core.RegimeHealthyBear:
		if base == core.StanceLookForLongs {
			return core.StanceAvoidTrading
		}
	case core.RegimeAccumulation, core.RegimeHealthyBull:
		if base == core.StanceLookForShorts {
			return core.StanceAvoidTrading
		}
	case core.RegimeLongTrap:
		if base != core.StanceLookForShorts {
			return core.StanceAvoidTrading
		}
	case core.RegimeShortTrap:
		if base != core.StanceLookForLongs {
			return core.StanceAvoidTrading
		}
	case core.RegimeShortCovering:
		return core.StanceAvoidTrading
	}
	return base
}

func riskMode(aligned bool, conflictR float64, in Inputs, cfg engineconfig.PipelineConfig, confidence float64) core.RiskMode {
	switch {
	case in.FundingExtreme || conflictR > cfg.Penalties.ConflictRatio:
		return core.RiskDefensive
	case aligned && confidence >= 8:
		return core.RiskAggressive
	}
	return core.RiskNormal
}
