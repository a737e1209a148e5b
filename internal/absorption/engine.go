package absorption

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// Engine runs detection and resolution against a persistent event store.
type Engine struct {
	store  Store
	logger zerolog.Logger
}

// NewEngine wires the engine to its event store.
func NewEngine(store Store, logger zerolog.Logger) *Engine {
	return &Engine{store: store, logger: logger.With().Str("component", "absorption").Logger()}
}

// CycleInput is everything one Evaluate call needs for a single timeframe.
type CycleInput struct {
	Symbol   string
	Features features.Features
	// Candles and OI are the series since the start of the lookback window,
	// ascending; Evaluate slices out the post-detection portion itself.
	Candles []core.Candle
	OI      []core.Candle
	AsOfMs  int64
}

// Evaluate runs one absorption cycle for one timeframe: resolves any open
// events that are due, then runs detection on the current features. The
// returned assessment only carries a confidence bonus when an event
// resolved this cycle.
func (e *Engine) Evaluate(ctx context.Context, in CycleInput, cfg engineconfig.AbsorptionSettings, th engineconfig.TimeframeThresholds) (core.AbsorptionAssessment, []string, error) {
	assessment := core.AbsorptionAssessment{Status: core.AbsorptionNone}
	var warnings []string

	open, err := e.store.Unresolved(ctx, in.Symbol, in.Features.Timeframe)
	if err != nil {
		return assessment, nil, core.WrapError(core.KindFatal, err, "listing open absorption events")
	}

	for _, ev := range open {
		resolved, extended, err := e.resolve(ctx, ev, in, cfg, th)
		if err != nil {
			return assessment, nil, err
		}
		if extended {
			warnings = append(warnings, fmt.Sprintf(
				"%s absorption window extended for %s event at %.2f", in.Features.Timeframe, ev.CVDDirection, ev.PriceAtDetection))
			continue
		}
		if resolved == nil {
			assessment.Status = core.AbsorptionDetecting
			continue
		}

		e.logger.Info().
			Str("symbol", in.Symbol).
			Str("timeframe", string(in.Features.Timeframe)).
			Str("resolution", string(resolved.Resolution)).
			Str("reason", resolved.ResolutionReason).
			Msg("absorption event resolved")

		switch resolved.Resolution {
		case core.ResolutionTrap, core.ResolutionAccumulation, core.ResolutionDistribution:
			assessment.Status = core.AbsorptionResolved
			assessment.Resolution = resolved.Resolution
			assessment.BiasImplication = resolved.BiasImplication()
			assessment.ConfidenceBonus = e.bonus(*resolved, in, cfg)
		default:
			warnings = append(warnings, fmt.Sprintf(
				"%s absorption event %s: %s", in.Features.Timeframe, resolved.Resolution, resolved.ResolutionReason))
		}
	}

	detected, err := e.detect(ctx, in, cfg, th)
	if err != nil {
		return assessment, nil, err
	}
	if detected != nil {
		if assessment.Status == core.AbsorptionNone {
			assessment.Status = core.AbsorptionDetecting
		}
		warnings = append(warnings, fmt.Sprintf(
			"%s absorption detecting: %s pressure absorbed %s %.2f",
			in.Features.Timeframe, detected.CVDDirection, detected.Location, detected.SRLevelUsed))
	}

	return assessment, warnings, nil
}

// detect opens a new event when strong delta flow fails to move price while
// sitting at a swing level. An opposite-direction detection invalidates the
// standing event before the new one opens.
func (e *Engine) detect(ctx context.Context, in CycleInput, cfg engineconfig.AbsorptionSettings, th engineconfig.TimeframeThresholds) (*Event, error) {
	f := in.Features
	if !f.CVD.Computed || !f.CVD.Strong || !f.Structure.Computed {
		return nil, nil
	}

	direction := f.CVD.Direction
	priceResponse, ok := classifyPriceResponse(f, th, direction)
	if !ok {
		return nil, nil
	}

	location, level := classifyLocation(f.LastClose, f.Structure, cfg.NearLevelPct)
	if location == core.LocationMidRange {
		return nil, nil
	}

	open, err := e.store.Unresolved(ctx, in.Symbol, f.Timeframe)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "listing open absorption events")
	}
	for _, ev := range open {
		if ev.CVDDirection == direction {
			// Slot already occupied; re-detection is a no-op.
			return nil, nil
		}
		ev.ResolvedAt = in.AsOfMs
		ev.Resolution = core.ResolutionInvalidated
		ev.ResolutionReason = fmt.Sprintf("opposite %s detection at %.2f", direction, f.LastClose)
		if err := e.store.Resolve(ctx, ev); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "invalidating absorption event")
		}
	}

	ev := Event{
		ID:               uuid.NewString(),
		Symbol:           in.Symbol,
		Timeframe:        f.Timeframe,
		DetectedAt:       in.AsOfMs,
		CVDDirection:     direction,
		CVDStrength:      math.Abs(f.CVD.Slope),
		CVDNoiseFloor:    f.CVD.NoiseFloor,
		OIBehavior:       f.OI.Alignment,
		OIAtDetection:    f.OI.Current,
		PriceResponse:    priceResponse,
		PriceAtDetection: f.LastClose,
		Location:         location,
		SRLevelUsed:      level,
	}
	inserted, err := e.store.Open(ctx, ev)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "opening absorption event")
	}
	if !inserted {
		return nil, nil
	}

	e.logger.Info().
		Str("symbol", in.Symbol).
		Str("timeframe", string(f.Timeframe)).
		Str("direction", string(direction)).
		Float64("level", level).
		Msg("absorption event detected")
	return &ev, nil
}

// resolve grades one open event. Returns the resolved event, or
// (nil, true, nil) when the window was extended for a data gap, or
// (nil, false, nil) when the event is not yet due.
func (e *Engine) resolve(ctx context.Context, ev Event, in CycleInput, cfg engineconfig.AbsorptionSettings, th engineconfig.TimeframeThresholds) (*Event, bool, error) {
	intervalMs := timeframe.MustIntervalMs(ev.Timeframe)
	since := candlesSince(in.Candles, ev.DetectedAt)
	oiSince := candlesSince(in.OI, ev.DetectedAt)
	elapsed := int((in.AsOfMs - ev.DetectedAt) / intervalMs)

	waitN := cfg.WaitCandles[ev.Timeframe]
	required := waitN
	if ev.ExtensionsUsed > 0 {
		required = waitN + (waitN+1)/2
	}

	if elapsed < required {
		return nil, false, nil
	}

	// A gappy series gets one extension before expiring.
	if elapsed > 0 && float64(elapsed-len(since))/float64(elapsed) > cfg.GapExtendPct {
		if ev.ExtensionsUsed == 0 {
			if err := e.store.MarkExtension(ctx, ev.ID); err != nil {
				return nil, false, core.WrapError(core.KindFatal, err, "extending absorption window")
			}
			return nil, true, nil
		}
		return e.terminate(ctx, ev, in.AsOfMs, core.ResolutionExpired, "data gap persisted past extension", nil)
	}

	if len(since) > 0 && len(oiSince) > 0 {
		trapHits, trapCriteria := trapCriteria(ev, since, oiSince, th)
		posHits, posCriteria := positiveCriteria(ev, since, oiSince)

		// Trap wins ties by design of the resolution order.
		if trapHits >= 2 && trapHits >= posHits {
			return e.terminate(ctx, ev, in.AsOfMs, core.ResolutionTrap,
				fmt.Sprintf("%d of 3 trap criteria met", trapHits), trapCriteria)
		}
		if posHits >= 2 && correctLocation(ev) {
			res := core.ResolutionAccumulation
			if ev.CVDDirection == core.CVDSelling {
				res = core.ResolutionDistribution
			}
			return e.terminate(ctx, ev, in.AsOfMs, res,
				fmt.Sprintf("%d of 3 criteria met at %s", posHits, ev.Location), posCriteria)
		}
	}

	if elapsed > 2*waitN {
		return e.terminate(ctx, ev, in.AsOfMs, core.ResolutionExpired,
			fmt.Sprintf("no resolution after %d candles", elapsed), nil)
	}
	return nil, false, nil
}

func (e *Engine) terminate(ctx context.Context, ev Event, atMs int64, res core.AbsorptionResolution, reason string, criteria []string) (*Event, bool, error) {
	ev.ResolvedAt = atMs
	ev.Resolution = res
	ev.ResolutionReason = reason
	ev.ResolutionCriteria = criteria
	if err := e.store.Resolve(ctx, ev); err != nil {
		return nil, false, core.WrapError(core.KindFatal, err, "resolving absorption event")
	}
	return &ev, false, nil
}

// bonus is the confidence credit a resolution earns, reduced when price
// already ran away from the detection level.
func (e *Engine) bonus(ev Event, in CycleInput, cfg engineconfig.AbsorptionSettings) float64 {
	if ev.PriceAtDetection == 0 {
		return cfg.ConfidenceBonus
	}
	movedPct := math.Abs(in.Features.LastClose-ev.PriceAtDetection) / ev.PriceAtDetection * 100
	if movedPct > cfg.MovedAwayPct {
		return cfg.ReducedBonus
	}
	return cfg.ConfidenceBonus
}

// classifyPriceResponse checks that price stayed flat or moved against the
// delta flow; price confirming the flow is ordinary trending, not
// absorption.
func classifyPriceResponse(f features.Features, th engineconfig.TimeframeThresholds, dir core.CVDDirection) (string, bool) {
	change := f.Momentum.ChangePct
	if math.Abs(change) < th.NoisePct {
		return "flat", true
	}
	if (dir == core.CVDBuying && change < 0) || (dir == core.CVDSelling && change > 0) {
		return "opposite", true
	}
	return "", false
}

// classifyLocation uses strict swing levels: resistance is the last swing
// high, support the last swing low.
func classifyLocation(price float64, s features.StructureFeatures, nearPct float64) (core.PriceLocation, float64) {
	if s.Resistance > 0 && math.Abs(price-s.Resistance)/s.Resistance*100 <= nearPct {
		return core.LocationNearResistance, s.Resistance
	}
	if s.Support > 0 && math.Abs(price-s.Support)/s.Support*100 <= nearPct {
		return core.LocationNearSupport, s.Support
	}
	return core.LocationMidRange, 0
}

func candlesSince(candles []core.Candle, afterMs int64) []core.Candle {
	for i, c := range candles {
		if c.Timestamp > afterMs {
			return candles[i:]
		}
	}
	return nil
}

// trapCriteria grades the three trap predicates: a level sweep that closed
// back through the detection price, a price reversal against the absorbed
// flow, and an open-interest spike that fully unwound.
func trapCriteria(ev Event, candles, oi []core.Candle, th engineconfig.TimeframeThresholds) (int, []string) {
	var met []string
	last := candles[len(candles)-1]

	if sweep(ev, candles) {
		met = append(met, "level_sweep")
	}

	reversalPct := (ev.PriceAtDetection - last.Close) / ev.PriceAtDetection * 100
	if ev.CVDDirection == core.CVDSelling {
		reversalPct = -reversalPct
	}
	if reversalPct > th.NoisePct {
		met = append(met, "price_reversal")
	}

	if oiSpikeUnwound(ev.OIAtDetection, oi) {
		met = append(met, "oi_spike_unwind")
	}
	return len(met), met
}

func sweep(ev Event, candles []core.Candle) bool {
	threshold := math.Max(ev.SRLevelUsed, ev.PriceAtDetection)
	floor := math.Min(ev.SRLevelUsed, ev.PriceAtDetection)
	for _, c := range candles {
		if ev.CVDDirection == core.CVDBuying && c.High > threshold && c.Close < floor {
			return true
		}
		if ev.CVDDirection == core.CVDSelling && c.Low < floor && c.Close > threshold {
			return true
		}
	}
	return false
}

// oiSpikeUnwound fires when open interest rose after detection and then
// gave back at least the full spike: positions opened into the level were
// forced out.
func oiSpikeUnwound(oiAtDetection float64, oi []core.Candle) bool {
	peak := oiAtDetection
	for _, c := range oi {
		if c.Close > peak {
			peak = c.Close
		}
	}
	spike := peak - oiAtDetection
	if spike <= 0 {
		return false
	}
	drop := peak - oi[len(oi)-1].Close
	return drop >= spike
}

// positiveCriteria grades genuine absorption: the level held, open interest
// kept building, and price began moving with the absorbed flow.
func positiveCriteria(ev Event, candles, oi []core.Candle) (int, []string) {
	var met []string
	last := candles[len(candles)-1]

	held := true
	for _, c := range candles {
		if ev.CVDDirection == core.CVDBuying && c.Close < ev.SRLevelUsed {
			held = false
			break
		}
		if ev.CVDDirection == core.CVDSelling && c.Close > ev.SRLevelUsed {
			held = false
			break
		}
	}
	if held {
		met = append(met, "level_held")
	}

	if oi[len(oi)-1].Close > ev.OIAtDetection {
		met = append(met, "oi_building")
	}

	if (ev.CVDDirection == core.CVDBuying && last.Close > ev.PriceAtDetection) ||
		(ev.CVDDirection == core.CVDSelling && last.Close < ev.PriceAtDetection) {
		met = append(met, "price_following_flow")
	}
	return len(met), met
}

// correctLocation requires accumulation at support and distribution at
// resistance.
func correctLocation(ev Event) bool {
	if ev.CVDDirection == core.CVDBuying {
		return ev.Location == core.LocationNearSupport
	}
	return ev.Location == core.LocationNearResistance
}
