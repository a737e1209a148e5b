package replay

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/marketdata"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// labelInterval is the resolution outcomes are graded at. 30m is the finest
// supported interval, so even the 10-60 minute scalping horizon gets at
// least one closed candle.
const labelInterval = core.Timeframe30m

// Outcome is the pure grading result.
type Outcome struct {
	Label     core.OutcomeLabel
	HorizonMs int64
	MovePct   float64
	MFE       float64
	MAE       float64
}

// Grade labels one state from its entry price and the candles that closed
// inside (t, t+horizon]. It is a pure function: equal inputs produce equal
// outcomes.
//
// The label is taken from the close at the end of the horizon, so a wick
// that mean-reverted does not flip it; wicks are still reported through MFE
// and MAE. A WAIT state is graded inverted: staying put confirms it,
// a sustained move refutes it.
func Grade(bias core.Bias, entryPrice float64, future []core.Candle, horizonMs int64, movePct float64) Outcome {
	out := Outcome{Label: core.OutcomePending, HorizonMs: horizonMs}
	if entryPrice <= 0 || len(future) == 0 {
		return out
	}

	last := future[len(future)-1]
	out.MovePct = (last.Close - entryPrice) / entryPrice * 100

	var favorable, adverse float64
	for _, c := range future {
		up := (c.High - entryPrice) / entryPrice * 100
		down := (entryPrice - c.Low) / entryPrice * 100
		favorable = math.Max(favorable, up)
		adverse = math.Max(adverse, down)
	}
	if bias == core.BiasShort {
		favorable, adverse = adverse, favorable
	}
	out.MFE = favorable
	out.MAE = adverse

	switch bias {
	case core.BiasLong, core.BiasShort:
		signed := out.MovePct
		if bias == core.BiasShort {
			signed = -signed
		}
		switch {
		case signed >= movePct:
			out.Label = core.OutcomeContinuation
		case signed <= -movePct:
			out.Label = core.OutcomeReversal
		default:
			out.Label = core.OutcomeNoise
		}
	default:
		if math.Abs(out.MovePct) >= movePct {
			out.Label = core.OutcomeReversal
		} else {
			out.Label = core.OutcomeContinuation
		}
	}
	return out
}

// Labeler grades persisted replay states against realized prices.
type Labeler struct {
	provider marketdata.Provider
	states   StateStore
	logger   zerolog.Logger
	now      func() int64
}

// NewLabeler wires a price source and the state store.
func NewLabeler(provider marketdata.Provider, states StateStore, logger zerolog.Logger) *Labeler {
	return &Labeler{
		provider: provider,
		states:   states,
		logger:   logger.With().Str("component", "labeler").Logger(),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// LabelRecord grades one record at the bucket's maximum horizon. A horizon
// that has not elapsed yet, or missing future data, leaves the record
// PENDING; calling again later with the same realized prices yields the
// same result.
func (l *Labeler) LabelRecord(ctx context.Context, rec StateRecord, bucket core.Bucket, cfg engineconfig.PipelineConfig) (StateRecord, error) {
	horizons, ok := cfg.Outcome.HorizonsMs[bucket]
	if !ok || len(horizons) != 2 {
		return rec, core.NewError(core.KindValidationFailure, "no outcome horizon configured for bucket %s", bucket)
	}
	horizonMs := horizons[1]

	t := rec.Timestamp
	horizonEnd := t + horizonMs
	if l.now() < horizonEnd {
		rec.OutcomeLabel = core.OutcomePending
		rec.OutcomeHorizon = horizonMs
		return rec, nil
	}

	intervalMs := timeframe.MustIntervalMs(labelInterval)
	endMs, err := timeframe.AlignEndToLastClosed(labelInterval, horizonEnd)
	if err != nil {
		return rec, err
	}
	candles, err := l.provider.GetPriceHistory(ctx, marketdata.Query{
		Symbol:   rec.Symbol,
		Interval: labelInterval,
		StartMs:  t - intervalMs,
		EndMs:    endMs,
	})
	if err != nil {
		return rec, err
	}

	entry, future := splitAt(candles, t)
	if entry <= 0 || len(future) == 0 {
		rec.OutcomeLabel = core.OutcomePending
		rec.OutcomeHorizon = horizonMs
		return rec, nil
	}

	outcome := Grade(rec.Final.Bias, entry, future, horizonMs, cfg.Outcome.MovePct)
	rec.OutcomeLabel = outcome.Label
	rec.OutcomeHorizon = outcome.HorizonMs
	rec.OutcomeMovePct = outcome.MovePct
	rec.MFE = outcome.MFE
	rec.MAE = outcome.MAE
	rec.LabeledAt = l.now()

	if err := l.states.Labeled(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// LabelBatch grades every still-pending record of a batch.
func (l *Labeler) LabelBatch(ctx context.Context, batchID string, bucket core.Bucket, cfg engineconfig.PipelineConfig) ([]StateRecord, error) {
	records, err := l.states.ByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	out := make([]StateRecord, 0, len(records))
	for _, rec := range records {
		if rec.OutcomeLabel != core.OutcomePending && rec.OutcomeLabel != "" {
			out = append(out, rec)
			continue
		}
		labeled, err := l.LabelRecord(ctx, rec, bucket, cfg)
		if err != nil {
			l.logger.Warn().Err(err).Str("record", rec.ID).Msg("labeling failed, leaving pending")
			out = append(out, rec)
			continue
		}
		out = append(out, labeled)
	}
	return out, nil
}

// splitAt returns the close of the last candle that closed at or before t
// (the entry price) and the candles opened at or after t. A candle opened
// exactly at t covers (t, t+interval], so its close is future data relative
// to the state and it must land on the future side of the cut.
func splitAt(candles []core.Candle, t int64) (float64, []core.Candle) {
	entry := 0.0
	for i, c := range candles {
		if c.Timestamp >= t {
			return entry, candles[i:]
		}
		entry = c.Close
	}
	return entry, nil
}
