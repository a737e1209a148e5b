package marketdata

import (
	"context"
	"time"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/metrics"
)

// InstrumentedProvider decorates a Provider with request counters and
// latency histograms. It sits under the cache decorator so only real venue
// fetches are measured, never cache hits.
type InstrumentedProvider struct {
	inner Provider
}

// NewInstrumentedProvider wraps a provider.
func NewInstrumentedProvider(inner Provider) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner}
}

func (p *InstrumentedProvider) Exchange() core.Exchange { return p.inner.Exchange() }

func (p *InstrumentedProvider) GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	return instrumented(ctx, p, "price", q, p.inner.GetPriceHistory)
}

func (p *InstrumentedProvider) GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	return instrumented(ctx, p, "oi", q, p.inner.GetOIHistory)
}

func (p *InstrumentedProvider) GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error) {
	return instrumented(ctx, p, "funding", q, p.inner.GetFundingHistory)
}

func (p *InstrumentedProvider) GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error) {
	return instrumented(ctx, p, "taker", q, p.inner.GetTakerBuySellVolume)
}

func instrumented[T any](ctx context.Context, p *InstrumentedProvider, series string, q Query, fetch func(context.Context, Query) ([]T, error)) ([]T, error) {
	start := time.Now()
	out, err := fetch(ctx, q)
	metrics.RecordProviderRequest(p.inner.Exchange(), series, float64(time.Since(start).Milliseconds()), err)
	return out, err
}
