// Package marketdata fetches candles, open interest, funding, and taker
// flow from the supported venues. Every provider honors the as-of cutoff
// contract: when an end time is supplied, no returned candle may close
// after it.
package marketdata

import (
	"context"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// Query identifies one series request. StartMs/EndMs of zero mean
// unbounded on that side.
type Query struct {
	Symbol   string
	Interval core.Timeframe
	Limit    int
	StartMs  int64
	EndMs    int64
}

// Provider is the venue-facing data interface the pipeline depends on.
// Series are ascending by timestamp and may be partial.
type Provider interface {
	Exchange() core.Exchange
	GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error)
	GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error)
	GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error)
	GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error)
}

func intervalOf(q Query) (int64, error) {
	return timeframe.IntervalMs(q.Interval)
}

// EnforceCutoff verifies that every candle closed at or before endMs.
// A violation is a lookahead bug, never tolerated silently.
func EnforceCutoff(candles []core.Candle, interval core.Timeframe, endMs int64) error {
	if endMs == 0 {
		return nil
	}
	intervalMs, err := timeframe.IntervalMs(interval)
	if err != nil {
		return err
	}
	for _, c := range candles {
		if c.Timestamp+intervalMs > endMs {
			return core.NewError(core.KindLookahead,
				"candle opening at %d closes after cutoff %d on %s", c.Timestamp, endMs, interval)
		}
	}
	return nil
}

// TrimToCutoff drops candles that have not fully closed by endMs. Venues
// routinely return the forming candle; trimming it is expected, anything
// closing later than that is caught by EnforceCutoff afterwards.
func TrimToCutoff(candles []core.Candle, interval core.Timeframe, endMs int64) []core.Candle {
	if endMs == 0 {
		return candles
	}
	intervalMs, err := timeframe.IntervalMs(interval)
	if err != nil {
		return candles
	}
	out := candles[:0:0]
	for _, c := range candles {
		if c.Timestamp+intervalMs <= endMs {
			out = append(out, c)
		}
	}
	return out
}
