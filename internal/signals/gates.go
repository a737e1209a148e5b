package signals

import (
	"fmt"
	"math"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// maxZeroVolumeRun is the longest run of zero-volume candles a CVD series
// may contain and still be trusted.
const maxZeroVolumeRun = 3

// gateResult describes what a reliability gate did to one verdict.
type gateResult struct {
	reliable   bool
	gatedOff   bool    // weight forced to zero
	confidence float64 // multiplier applied to confidence (1 = untouched)
	warning    string
}

// cvdGate checks CVD data quality: coverage of at least minReliablePct of
// the expected window, matching interval resolution, and no long
// zero-volume runs.
func cvdGate(f features.Features, th engineconfig.CVDThresholds) gateResult {
	res := gateResult{reliable: true, confidence: 1}

	required := int(math.Ceil(th.MinReliablePct * float64(f.CVD.ExpectedCandles)))
	switch {
	case !f.CVD.Computed:
		res = gateResult{warning: fmt.Sprintf("%s: cvd unavailable, signal gated off", f.Timeframe)}
	case f.CVD.ActualCandles < required:
		res = gateResult{warning: fmt.Sprintf("%s: cvd has %d of %d required candles, signal gated off",
			f.Timeframe, f.CVD.ActualCandles, required)}
	case !f.CVD.ResolutionOK:
		res = gateResult{warning: fmt.Sprintf("%s: cvd series resolution does not match timeframe, signal gated off", f.Timeframe)}
	case f.CVD.ZeroVolumeRun > maxZeroVolumeRun:
		res = gateResult{warning: fmt.Sprintf("%s: cvd has %d consecutive zero-volume candles, signal gated off",
			f.Timeframe, f.CVD.ZeroVolumeRun)}
	}
	if res.warning != "" {
		res.gatedOff = true
	}
	return res
}

// stalenessGate degrades confidence when the newest closed candle is old:
// beyond multiplier x interval the confidence is scaled down, beyond twice
// that the signal is gated off entirely.
func stalenessGate(f features.Features, gates engineconfig.Gates, penalties engineconfig.Penalties) gateResult {
	res := gateResult{reliable: true, confidence: 1}

	intervalMs, err := timeframe.IntervalMs(f.Timeframe)
	if err != nil {
		return res
	}

	softLimit := int64(gates.StalenessMultiplier * float64(intervalMs))
	hardLimit := 2 * softLimit
	switch {
	case f.StalenessMs > hardLimit:
		res = gateResult{gatedOff: true, warning: fmt.Sprintf(
			"%s: data is %dms stale (> %dms), signals gated off", f.Timeframe, f.StalenessMs, hardLimit)}
	case f.StalenessMs > softLimit:
		res.confidence = 1 - penalties.StalenessPenaltyFactor
		res.warning = fmt.Sprintf("%s: data is %dms stale, confidence reduced", f.Timeframe, f.StalenessMs)
	}
	return res
}

// fundingExtreme classifies the funding z-score against the config gate.
// Returns +1 for extreme positive, -1 for extreme negative, 0 otherwise.
func fundingExtreme(f features.Features, gates engineconfig.Gates) int {
	if !f.Funding.Computed {
		return 0
	}
	switch {
	case f.Funding.ZScore >= gates.FundingZExtreme:
		return 1
	case f.Funding.ZScore <= -gates.FundingZExtreme:
		return -1
	}
	return 0
}

// renormalizeWeights rescales the weights of non-gated verdicts so their
// effective weights sum to 1. Gated verdicts keep weight 0.
func renormalizeWeights(verdicts []core.SignalVerdict) {
	total := 0.0
	for _, v := range verdicts {
		total += v.Weight
	}
	if total <= 0 {
		return
	}
	for i := range verdicts {
		verdicts[i].Weight /= total
	}
}
