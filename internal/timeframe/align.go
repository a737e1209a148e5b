// Package timeframe implements interval arithmetic and as-of alignment.
//
// The whole pipeline's correctness rests on one rule enforced here: no
// candle opened at or after the as-of cutoff may influence a verdict.
package timeframe

import (
	"github.com/quantfall/perpintel/internal/core"
)

var intervalMs = map[core.Timeframe]int64{
	core.Timeframe30m: 30 * 60 * 1000,
	core.Timeframe1h:  60 * 60 * 1000,
	core.Timeframe4h:  4 * 60 * 60 * 1000,
	core.Timeframe1d:  24 * 60 * 60 * 1000,
}

// IntervalMs returns the duration of one candle in milliseconds.
func IntervalMs(tf core.Timeframe) (int64, error) {
	ms, ok := intervalMs[tf]
	if !ok {
		return 0, core.NewError(core.KindUnknownInterval, "unknown interval %q", tf)
	}
	return ms, nil
}

// MustIntervalMs is IntervalMs for intervals already validated upstream.
func MustIntervalMs(tf core.Timeframe) int64 {
	ms, err := IntervalMs(tf)
	if err != nil {
		panic(err)
	}
	return ms
}

// AlignEndToLastClosed returns the close time of the last candle that is
// fully closed at asOfMs, i.e. the largest interval boundary <= asOfMs.
//
// Exact-boundary semantics: if asOfMs falls exactly on a candle-open
// boundary B, the previous candle [B-interval, B) has just closed, so B is
// returned.
func AlignEndToLastClosed(tf core.Timeframe, asOfMs int64) (int64, error) {
	ms, err := IntervalMs(tf)
	if err != nil {
		return 0, err
	}
	return floorTo(asOfMs, ms), nil
}

// AlignStartToBoundary floors t to the interval boundary in UTC.
func AlignStartToBoundary(tf core.Timeframe, t int64) (int64, error) {
	ms, err := IntervalMs(tf)
	if err != nil {
		return 0, err
	}
	return floorTo(t, ms), nil
}

func floorTo(t, step int64) int64 {
	r := t % step
	if r < 0 {
		r += step
	}
	return t - r
}

// SeriesReport is the result of validating a candle series against an
// as-of cutoff.
type SeriesReport struct {
	// Partial is set when the series has gaps larger than one interval.
	Partial bool
	// Gaps counts missing candles implied by timestamp jumps.
	Gaps int
}

// ValidateSeries checks a candle series for lookahead, ordering, and gaps.
//
// Every candle must satisfy timestamp+interval <= endMs (a violation is a
// Lookahead error and indicates a bug, never tolerated silently).
// Timestamps must be strictly increasing. Gaps wider than one interval mark
// the series partial but are not fatal.
func ValidateSeries(candles []core.Candle, tf core.Timeframe, endMs int64) (SeriesReport, error) {
	var report SeriesReport

	ms, err := IntervalMs(tf)
	if err != nil {
		return report, err
	}

	var prev int64
	for i, c := range candles {
		if c.Timestamp+ms > endMs {
			return report, core.NewError(core.KindLookahead,
				"candle open %d closes at %d, after cutoff %d", c.Timestamp, c.Timestamp+ms, endMs).
				WithContext("interval", string(tf)).
				WithContext("index", i)
		}
		if i > 0 {
			if c.Timestamp <= prev {
				return report, core.NewError(core.KindValidationFailure,
					"candle timestamps not strictly increasing at index %d (%d after %d)", i, c.Timestamp, prev)
			}
			if delta := c.Timestamp - prev; delta > ms {
				report.Partial = true
				report.Gaps += int(delta/ms) - 1
			}
		}
		prev = c.Timestamp
	}

	return report, nil
}

// RequireCandles fails with InsufficientData when fewer than min candles
// are available strictly before endMs.
func RequireCandles(candles []core.Candle, tf core.Timeframe, min int) error {
	if len(candles) < min {
		return core.NewError(core.KindInsufficientData,
			"need %d %s candles, have %d", min, tf, len(candles))
	}
	return nil
}
