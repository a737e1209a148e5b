package engineconfig

import (
	"fmt"
	"math"

	"github.com/quantfall/perpintel/internal/core"
)

// WeightSumTolerance is the accepted deviation of the signal weight sum
// from 1.0. Weights are floats; never compare for equality.
const WeightSumTolerance = 1e-6

// ValidationError aggregates all structural problems found in a proposed
// config, so callers see every violation at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %d problem(s): %v", len(e.Problems), e.Problems)
}

// Validate checks a config against structural rules. It does not consider
// the active version; see ValidateDelta for bounded-delta checks.
func Validate(cfg PipelineConfig) error {
	var problems []string

	problems = append(problems, validateWeights(cfg.Weights)...)
	problems = append(problems, validateThresholds(cfg.Thresholds)...)
	problems = append(problems, validateGates(cfg.Gates)...)
	problems = append(problems, validatePenalties(cfg.Penalties)...)
	problems = append(problems, validateDivergence(cfg.Divergence)...)
	problems = append(problems, validateAbsorption(cfg.Absorption)...)
	problems = append(problems, validateRegimeRules(cfg.RegimeRules)...)

	if len(cfg.TimeframeWeights) == 0 {
		problems = append(problems, "timeframe_weights must not be empty")
	}
	for tf, w := range cfg.TimeframeWeights {
		if w <= 0 {
			problems = append(problems, fmt.Sprintf("timeframe_weights[%s] must be positive, got %v", tf, w))
		}
	}

	if len(problems) > 0 {
		return core.WrapError(core.KindValidationFailure, &ValidationError{Problems: problems}, "proposed config rejected")
	}
	return nil
}

func validateWeights(w Weights) []string {
	var problems []string

	for _, name := range RequiredSignals {
		if _, ok := w.Signals[name]; !ok {
			problems = append(problems, fmt.Sprintf("weights.signals missing required signal %q", name))
		}
	}

	sum := 0.0
	for name, v := range w.Signals {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("weights.signals[%s] out of [0,1]: %v", name, v))
		}
		sum += v
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		problems = append(problems, fmt.Sprintf("weights.signals must sum to 1.0 +-%g, got %v", WeightSumTolerance, sum))
	}

	return problems
}

func validateThresholds(thresholds map[core.Timeframe]TimeframeThresholds) []string {
	var problems []string

	for _, tf := range core.Timeframes {
		th, ok := thresholds[tf]
		if !ok {
			problems = append(problems, fmt.Sprintf("thresholds missing timeframe %s", tf))
			continue
		}
		if th.NoisePct <= 0 || th.StrongPct <= 0 || th.OIQuietPct <= 0 || th.OIAggressivePct <= 0 {
			problems = append(problems, fmt.Sprintf("thresholds[%s] values must be positive", tf))
		}
		if th.NoisePct >= th.StrongPct {
			problems = append(problems, fmt.Sprintf("thresholds[%s] noise_pct must be below strong_pct", tf))
		}
		if th.CVD.WindowCandles <= 0 || th.CVD.SlopeWindow <= 0 {
			problems = append(problems, fmt.Sprintf("thresholds[%s] cvd windows must be positive", tf))
		}
		if th.CVD.SlopeWindow > th.CVD.WindowCandles {
			problems = append(problems, fmt.Sprintf("thresholds[%s] cvd slope_window exceeds window_candles", tf))
		}
		if th.CVD.MinReliablePct <= 0 || th.CVD.MinReliablePct > 1 {
			problems = append(problems, fmt.Sprintf("thresholds[%s] cvd min_reliable_pct out of (0,1]", tf))
		}
	}

	return problems
}

func validateGates(g Gates) []string {
	var problems []string
	if g.MacroPermission < 0 || g.MacroPermission > 10 {
		problems = append(problems, "gates.macro_permission out of [0,10]")
	}
	if g.MacroAnchor < 0 || g.MacroAnchor > 10 {
		problems = append(problems, "gates.macro_anchor out of [0,10]")
	}
	if g.SetupVeto < 0 || g.SetupVeto > 10 {
		problems = append(problems, "gates.setup_veto out of [0,10]")
	}
	if g.StalenessMultiplier < 1 {
		problems = append(problems, "gates.staleness_multiplier must be >= 1")
	}
	if g.FundingZExtreme <= 0 {
		problems = append(problems, "gates.funding_z_extreme must be positive")
	}
	return problems
}

func validatePenalties(p Penalties) []string {
	var problems []string
	if p.ConflictRatio <= 0 || p.ConflictRatio > 1 {
		problems = append(problems, "penalties.conflict_ratio out of (0,1]")
	}
	if p.ConflictPenaltyFactor < 0 || p.ConflictPenaltyFactor > 1 {
		problems = append(problems, "penalties.conflict_penalty_factor out of [0,1]")
	}
	if p.AlignmentBonus < 0 || p.AlignmentBonus > 10 {
		problems = append(problems, "penalties.alignment_bonus out of [0,10]")
	}
	if p.StalenessPenaltyFactor < 0 || p.StalenessPenaltyFactor > 1 {
		problems = append(problems, "penalties.staleness_penalty_factor out of [0,1]")
	}
	if p.AnchorOppositionFactor < 0 || p.AnchorOppositionFactor > 1 {
		problems = append(problems, "penalties.anchor_opposition_factor out of [0,1]")
	}
	return problems
}

func validateDivergence(d DivergenceSettings) []string {
	var problems []string
	if d.RetailExchange == d.WhaleExchange {
		problems = append(problems, "divergence retail and whale exchanges must differ")
	}
	if d.MinDeltaPct <= 0 {
		problems = append(problems, "divergence.min_delta_pct must be positive")
	}
	if d.UnclearBelow < 0 || d.UnclearBelow > d.MinDeltaPct {
		problems = append(problems, "divergence.unclear_below_pct must be in [0, min_delta_pct]")
	}
	return problems
}

func validateAbsorption(a AbsorptionSettings) []string {
	var problems []string
	if a.NearLevelPct <= 0 {
		problems = append(problems, "absorption.near_level_pct must be positive")
	}
	for _, tf := range core.Timeframes {
		if n, ok := a.WaitCandles[tf]; !ok || n <= 0 {
			problems = append(problems, fmt.Sprintf("absorption.wait_candles[%s] must be a positive count", tf))
		}
	}
	if a.ConfidenceBonus < 0 || a.ReducedBonus < 0 || a.ReducedBonus > a.ConfidenceBonus {
		problems = append(problems, "absorption bonuses must satisfy 0 <= reduced <= full")
	}
	if a.GapExtendPct <= 0 || a.GapExtendPct >= 1 {
		problems = append(problems, "absorption.gap_extend_pct out of (0,1)")
	}
	return problems
}

func validateRegimeRules(rules []RegimeRule) []string {
	var problems []string
	if len(rules) == 0 {
		problems = append(problems, "regime_rules must not be empty")
	}
	seen := map[int]bool{}
	for i, r := range rules {
		if r.Label == "" {
			problems = append(problems, fmt.Sprintf("regime_rules[%d] missing label", i))
		}
		if seen[r.Priority] {
			problems = append(problems, fmt.Sprintf("regime_rules[%d] duplicate priority %d", i, r.Priority))
		}
		seen[r.Priority] = true
	}
	return problems
}

// ValidateDelta enforces the bounded-delta contract: a single update may
// not move any parameter category further from the active version than the
// active version's bounds allow.
func ValidateDelta(active, proposed PipelineConfig) error {
	bounds := active.Bounds.MaxDelta
	var problems []string

	// Weights: absolute delta per signal. A signal present on only one side
	// counts as a delta from zero.
	names := map[string]bool{}
	for n := range active.Weights.Signals {
		names[n] = true
	}
	for n := range proposed.Weights.Signals {
		names[n] = true
	}
	for n := range names {
		delta := math.Abs(proposed.Weights.Signals[n] - active.Weights.Signals[n])
		if delta > bounds.Weights+WeightSumTolerance {
			problems = append(problems, fmt.Sprintf("weights.signals[%s] delta %.4f exceeds max %.4f", n, delta, bounds.Weights))
		}
	}

	// Thresholds: relative fraction per field.
	for _, tf := range core.Timeframes {
		a, p := active.Thresholds[tf], proposed.Thresholds[tf]
		checkRel := func(field string, av, pv float64) {
			if d := relDelta(av, pv); d > bounds.Thresholds {
				problems = append(problems, fmt.Sprintf("thresholds[%s].%s relative delta %.4f exceeds max %.4f", tf, field, d, bounds.Thresholds))
			}
		}
		checkRel("noise_pct", a.NoisePct, p.NoisePct)
		checkRel("strong_pct", a.StrongPct, p.StrongPct)
		checkRel("oi_quiet_pct", a.OIQuietPct, p.OIQuietPct)
		checkRel("oi_aggressive_pct", a.OIAggressivePct, p.OIAggressivePct)
	}

	// Gates: relative fraction.
	gatePairs := []struct {
		name   string
		av, pv float64
	}{
		{"macro_permission", active.Gates.MacroPermission, proposed.Gates.MacroPermission},
		{"macro_anchor", active.Gates.MacroAnchor, proposed.Gates.MacroAnchor},
		{"setup_veto", active.Gates.SetupVeto, proposed.Gates.SetupVeto},
		{"staleness_multiplier", active.Gates.StalenessMultiplier, proposed.Gates.StalenessMultiplier},
		{"funding_z_extreme", active.Gates.FundingZExtreme, proposed.Gates.FundingZExtreme},
	}
	for _, g := range gatePairs {
		if d := relDelta(g.av, g.pv); d > bounds.Gates {
			problems = append(problems, fmt.Sprintf("gates.%s relative delta %.4f exceeds max %.4f", g.name, d, bounds.Gates))
		}
	}

	// Penalties: relative fraction.
	penaltyPairs := []struct {
		name   string
		av, pv float64
	}{
		{"conflict_ratio", active.Penalties.ConflictRatio, proposed.Penalties.ConflictRatio},
		{"conflict_penalty_factor", active.Penalties.ConflictPenaltyFactor, proposed.Penalties.ConflictPenaltyFactor},
		{"alignment_bonus", active.Penalties.AlignmentBonus, proposed.Penalties.AlignmentBonus},
		{"staleness_penalty_factor", active.Penalties.StalenessPenaltyFactor, proposed.Penalties.StalenessPenaltyFactor},
		{"anchor_opposition_factor", active.Penalties.AnchorOppositionFactor, proposed.Penalties.AnchorOppositionFactor},
	}
	for _, p := range penaltyPairs {
		if d := relDelta(p.av, p.pv); d > bounds.Penalties {
			problems = append(problems, fmt.Sprintf("penalties.%s relative delta %.4f exceeds max %.4f", p.name, d, bounds.Penalties))
		}
	}

	if len(problems) > 0 {
		return core.WrapError(core.KindValidationFailure, &ValidationError{Problems: problems}, "bounded-delta check failed")
	}
	return nil
}

// relDelta is |new-old|/|old|, with a zero baseline treated as an infinite
// move unless the new value is also zero.
func relDelta(old, new float64) float64 {
	if old == new {
		return 0
	}
	if old == 0 {
		return math.Inf(1)
	}
	return math.Abs(new-old) / math.Abs(old)
}
