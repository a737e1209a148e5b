// Package divergence compares derivative positioning across the two venues.
// The retail-leaning exchange tells you what the crowd is doing; the
// whale-leaning exchange tells you what informed size is doing. Divergence
// between them is the signal.
package divergence

import (
	"fmt"
	"math"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

// VenueSnapshot is one exchange's positioning summary on the analysis
// timeframe.
type VenueSnapshot struct {
	Exchange    core.Exchange
	OIChangePct float64
	CVD         core.CVDDirection
	CVDStrong   bool
	FundingZ    float64
}

// Analyze maps the retail/whale venue pair onto one of the nine scenarios.
// The OI-delta activation floor keeps small cross-venue wobbles from
// producing directional calls.
func Analyze(retail, whale VenueSnapshot, cfg engineconfig.DivergenceSettings, fundingZExtreme float64) core.DivergenceAssessment {
	oiDelta := math.Abs(retail.OIChangePct - whale.OIChangePct)

	if oiDelta < cfg.UnclearBelow {
		return core.DivergenceAssessment{
			Scenario:   core.ScenarioUnclear,
			Bias:       core.BiasWait,
			Confidence: 1,
			Warnings:   []string{fmt.Sprintf("oi delta %.2f%% below %.2f%%, venues in step", oiDelta, cfg.UnclearBelow)},
		}
	}

	// Both venues pushing the same way is agreement, not divergence; call
	// it synchronized whichever side dominates.
	if retail.CVDStrong && whale.CVDStrong && retail.CVD == whale.CVD &&
		sameSign(retail.OIChangePct, whale.OIChangePct) && oiDelta > cfg.MinDeltaPct {
		if retail.CVD == core.CVDBuying {
			return assessment(core.ScenarioSyncBullish, core.BiasLong, oiDelta, cfg)
		}
		return assessment(core.ScenarioSyncBearish, core.BiasShort, oiDelta, cfg)
	}

	whaleDominant := math.Abs(whale.OIChangePct) > math.Abs(retail.OIChangePct)

	// Below the directional floor only observational scenarios remain.
	if oiDelta <= cfg.MinDeltaPct {
		if whaleDominant {
			return observation(core.ScenarioBybitLeading, oiDelta,
				fmt.Sprintf("%s oi moving first (%.2f%% vs %.2f%%), direction not yet actionable",
					cfg.WhaleExchange, whale.OIChangePct, retail.OIChangePct))
		}
		return observation(core.ScenarioBinanceNoise, oiDelta,
			fmt.Sprintf("%s oi churning (%.2f%%) without %s confirmation",
				cfg.RetailExchange, retail.OIChangePct, cfg.WhaleExchange))
	}

	if whaleDominant {
		switch {
		case whale.OIChangePct > 0 && whale.CVDStrong && whale.CVD == core.CVDSelling:
			return assessment(core.ScenarioWhaleDistribution, core.BiasShort, oiDelta, cfg)
		case whale.OIChangePct > 0 && whale.CVDStrong && whale.CVD == core.CVDBuying:
			return assessment(core.ScenarioWhaleAccumulation, core.BiasLong, oiDelta, cfg)
		}
		return observation(core.ScenarioBybitLeading, oiDelta,
			fmt.Sprintf("%s oi diverging %.2f%% without a strong cvd read", cfg.WhaleExchange, whale.OIChangePct))
	}

	switch {
	case retail.OIChangePct > 0 && retail.CVDStrong && retail.CVD == core.CVDBuying && retail.FundingZ >= fundingZExtreme:
		// Crowd chasing with crowded funding: fade it.
		return assessment(core.ScenarioRetailFomoRally, core.BiasShort, oiDelta, cfg)
	case retail.OIChangePct > 0 && retail.CVDStrong && retail.CVD == core.CVDSelling:
		// Retail shorts piling in are squeeze fuel.
		return assessment(core.ScenarioShortSqueezeSetup, core.BiasLong, oiDelta, cfg)
	}
	return observation(core.ScenarioBinanceNoise, oiDelta,
		fmt.Sprintf("%s oi diverging %.2f%% without conviction", cfg.RetailExchange, retail.OIChangePct))
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// assessment scales confidence with how far past the activation floor the
// divergence runs.
func assessment(s core.DivergenceScenario, bias core.Bias, oiDelta float64, cfg engineconfig.DivergenceSettings) core.DivergenceAssessment {
	conf := 5 + math.Min(3, oiDelta-cfg.MinDeltaPct)
	return core.DivergenceAssessment{Scenario: s, Bias: bias, Confidence: conf}
}

func observation(s core.DivergenceScenario, oiDelta float64, warning string) core.DivergenceAssessment {
	return core.DivergenceAssessment{
		Scenario:   s,
		Bias:       core.BiasWait,
		Confidence: math.Min(4, 2+oiDelta),
		Warnings:   []string{warning},
	}
}
