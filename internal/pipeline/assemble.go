package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/absorption"
	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/decision"
	"github.com/quantfall/perpintel/internal/divergence"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
	"github.com/quantfall/perpintel/internal/metrics"
	"github.com/quantfall/perpintel/internal/regime"
	"github.com/quantfall/perpintel/internal/signals"
)

// primaryTimeframe anchors regime classification, divergence analysis, and
// the headline state.
const primaryTimeframe = core.Timeframe1h

// Assembler turns a snapshot into a market state. With a nil absorption
// engine the absorption section stays NONE; nothing else changes, which is
// what keeps detection impact-free.
type Assembler struct {
	absorb *absorption.Engine
	logger zerolog.Logger
}

// NewAssembler builds an assembler. The absorption engine may be nil.
func NewAssembler(absorb *absorption.Engine, logger zerolog.Logger) *Assembler {
	return &Assembler{absorb: absorb, logger: logger.With().Str("component", "assembler").Logger()}
}

// Assemble computes the full market state from one snapshot. Missing or
// degraded data never fabricates a bias: affected signals gate off, and a
// snapshot with nothing usable produces WAIT with warnings.
func (a *Assembler) Assemble(ctx context.Context, snap Snapshot, cfg engineconfig.PipelineConfig) (core.MarketState, error) {
	var globalWarnings []string

	perTFFeatures := make(map[core.Timeframe]features.Features)
	for _, tf := range core.Timeframes {
		data := snap.PerTimeframe[tf]
		if data.FetchErr != nil {
			globalWarnings = append(globalWarnings, fmt.Sprintf("%s: data unavailable (%s)", tf, core.KindOf(data.FetchErr)))
			continue
		}
		f, err := features.Compute(features.Inputs{
			Timeframe: tf,
			Candles:   data.Candles,
			OI:        data.OI,
			Funding:   data.Funding,
			Taker:     data.Taker,
			AsOfMs:    snap.AsOfMs,
			EndMs:     data.EndMs,
			Partial:   data.Report.Partial,
		}, cfg.Thresholds[tf])
		if err != nil {
			globalWarnings = append(globalWarnings, fmt.Sprintf("%s: features unavailable (%s)", tf, core.KindOf(err)))
			continue
		}
		perTFFeatures[tf] = f
	}

	regimeAssessment := a.classifyRegime(perTFFeatures, cfg)
	divergenceAssessment := a.analyzeDivergence(perTFFeatures, snap, cfg)

	sigCtx := signals.Context{Regime: regimeAssessment, Divergence: divergenceAssessment}
	perTF := make(map[core.Timeframe]core.TimeframeAssessment, len(perTFFeatures))
	reliability := core.ReliabilitySummary{
		PerSignal:   make(map[string]bool),
		StalenessMs: make(map[core.Timeframe]int64),
	}
	gatedSet := make(map[string]bool)
	fundingExtreme := false

	for tf, f := range perTFFeatures {
		res := signals.Interpret(f, sigCtx, cfg)
		perTF[tf] = res.Assessment
		reliability.StalenessMs[tf] = f.StalenessMs

		for _, v := range res.Assessment.Signals {
			// A signal is summarized reliable only if it passed on every
			// timeframe that produced it.
			if ok, seen := reliability.PerSignal[v.Name]; !seen {
				reliability.PerSignal[v.Name] = v.Reliable
			} else {
				reliability.PerSignal[v.Name] = ok && v.Reliable
			}
		}
		for _, name := range res.GatedOff {
			gatedSet[name] = true
		}
		if f.Funding.Computed && (f.Funding.ZScore >= cfg.Gates.FundingZExtreme || f.Funding.ZScore <= -cfg.Gates.FundingZExtreme) {
			fundingExtreme = true
		}
	}
	for name := range gatedSet {
		reliability.GatedSignals = append(reliability.GatedSignals, name)
		metrics.GatedSignals.WithLabelValues(name).Inc()
	}

	buckets := decision.AggregateBuckets(perTF, cfg)
	final := decision.Decide(decision.Inputs{
		Buckets:        buckets,
		Regime:         regimeAssessment,
		FundingExtreme: fundingExtreme,
		GatedSignals:   len(reliability.GatedSignals),
	}, cfg)
	final.Warnings = append(final.Warnings, globalWarnings...)

	absorptionAssessment := a.evaluateAbsorption(ctx, snap, perTFFeatures, cfg, &final)

	state := core.MarketState{
		SchemaVersion:    core.StateSchemaVersion,
		ConfigVersion:    cfg.Version,
		Timestamp:        snap.AsOfMs,
		Symbol:           snap.Symbol,
		PrimaryTimeframe: primaryTimeframe,
		Final:            final,
		Buckets:          buckets,
		PerTimeframe:     perTF,
		Regime:           regimeAssessment,
		Divergence:       divergenceAssessment,
		Absorption:       absorptionAssessment,
		Reliability:      reliability,
	}
	return state, nil
}

func (a *Assembler) classifyRegime(perTF map[core.Timeframe]features.Features, cfg engineconfig.PipelineConfig) core.RegimeAssessment {
	f, ok := perTF[primaryTimeframe]
	if !ok {
		return core.RegimeAssessment{Label: core.RegimeUnclear, Confidence: 0,
			Characteristics: []string{"primary timeframe data unavailable"}}
	}
	obs := regime.Observe(f, cfg.Thresholds[primaryTimeframe], cfg.Gates)
	return regime.Classify(obs, cfg.RegimeRules)
}

func (a *Assembler) analyzeDivergence(perTF map[core.Timeframe]features.Features, snap Snapshot, cfg engineconfig.PipelineConfig) core.DivergenceAssessment {
	unclear := func(reason string) core.DivergenceAssessment {
		return core.DivergenceAssessment{
			Scenario: core.ScenarioUnclear, Bias: core.BiasWait, Confidence: 0,
			Warnings: []string{reason},
		}
	}

	retailF, ok := perTF[primaryTimeframe]
	if !ok {
		return unclear("retail venue data unavailable")
	}
	if snap.Whale.FetchErr != nil {
		return unclear(fmt.Sprintf("whale venue data unavailable (%s)", core.KindOf(snap.Whale.FetchErr)))
	}

	whaleF, err := features.Compute(features.Inputs{
		Timeframe: primaryTimeframe,
		Candles:   snap.Whale.Candles,
		OI:        snap.Whale.OI,
		Funding:   snap.Whale.Funding,
		Taker:     snap.Whale.Taker,
		AsOfMs:    snap.AsOfMs,
	}, cfg.Thresholds[primaryTimeframe])
	if err != nil {
		return unclear(fmt.Sprintf("whale venue features unavailable (%s)", core.KindOf(err)))
	}
	if !retailF.OI.Computed || !whaleF.OI.Computed {
		return unclear("open interest unavailable on one venue")
	}

	retail := divergence.VenueSnapshot{
		Exchange:    cfg.Divergence.RetailExchange,
		OIChangePct: retailF.OI.ChangePct,
		CVD:         retailF.CVD.Direction,
		CVDStrong:   retailF.CVD.Computed && retailF.CVD.Strong,
		FundingZ:    retailF.Funding.ZScore,
	}
	whale := divergence.VenueSnapshot{
		Exchange:    cfg.Divergence.WhaleExchange,
		OIChangePct: whaleF.OI.ChangePct,
		CVD:         whaleF.CVD.Direction,
		CVDStrong:   whaleF.CVD.Computed && whaleF.CVD.Strong,
		FundingZ:    whaleF.Funding.ZScore,
	}
	return divergence.Analyze(retail, whale, cfg.Divergence, cfg.Gates.FundingZExtreme)
}

// evaluateAbsorption runs the two-phase engine on every timeframe. Only a
// resolution moves the final decision: an agreeing implication earns the
// bonus, a disagreeing one only warns.
func (a *Assembler) evaluateAbsorption(ctx context.Context, snap Snapshot, perTF map[core.Timeframe]features.Features, cfg engineconfig.PipelineConfig, final *core.FinalDecision) core.AbsorptionAssessment {
	assessment := core.AbsorptionAssessment{Status: core.AbsorptionNone}
	if a.absorb == nil {
		return assessment
	}

	for _, tf := range core.Timeframes {
		f, ok := perTF[tf]
		if !ok {
			continue
		}
		data := snap.PerTimeframe[tf]
		tfAssessment, warnings, err := a.absorb.Evaluate(ctx, absorption.CycleInput{
			Symbol:   snap.Symbol,
			Features: f,
			Candles:  data.Candles,
			OI:       data.OI,
			AsOfMs:   snap.AsOfMs,
		}, cfg.Absorption, cfg.Thresholds[tf])
		if err != nil {
			a.logger.Error().Err(err).Str("timeframe", string(tf)).Msg("absorption evaluation failed")
			final.Warnings = append(final.Warnings, fmt.Sprintf("%s: absorption engine error", tf))
			continue
		}
		final.Warnings = append(final.Warnings, warnings...)

		// Keep the strongest status seen: RESOLVED > DETECTING > NONE.
		if tfAssessment.Status == core.AbsorptionResolved && assessment.Status != core.AbsorptionResolved {
			assessment = tfAssessment
		} else if tfAssessment.Status == core.AbsorptionDetecting && assessment.Status == core.AbsorptionNone {
			assessment = tfAssessment
		}
	}

	if assessment.Status == core.AbsorptionResolved && assessment.BiasImplication.Directional() {
		if assessment.BiasImplication == final.Bias {
			final.Confidence = capTen(final.Confidence + assessment.ConfidenceBonus)
			final.DirectionConfidence = final.Confidence
		} else {
			final.Warnings = append(final.Warnings, fmt.Sprintf(
				"absorption %s implies %s against final %s", assessment.Resolution, assessment.BiasImplication, final.Bias))
		}
	}
	return assessment
}

func capTen(v float64) float64 {
	if v > 10 {
		return 10
	}
	return v
}
