package marketdata

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantfall/perpintel/internal/core"
)

const (
	// Venue REST budgets: a rolling window of 80 requests per minute with a
	// little spacing between calls.
	requestsPerMinute = 80
	// rateLimitCooldown is how long to back off after an HTTP 429 before
	// the single retry.
	rateLimitCooldown = 65 * time.Second
)

// Pacer serializes request pacing for one venue and handles the 429
// cooldown-and-retry cycle.
type Pacer struct {
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  zerolog.Logger
}

// NewPacer builds a venue pacer at the default budget.
func NewPacer(logger zerolog.Logger) *Pacer {
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), 1),
		sleep:   sleepCtx,
		logger:  logger,
	}
}

// Wait blocks until the rolling window permits another request.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return core.WrapError(core.KindTimeout, err, "waiting for rate limit slot")
	}
	return nil
}

// Do runs one HTTP attempt through the pacer. On 429 it cools down and
// retries exactly once; a second 429 surfaces as RateLimited.
func (p *Pacer) Do(ctx context.Context, attempt func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	for try := 0; try < 2; try++ {
		if err := p.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := attempt(ctx)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()
		if try == 1 {
			break
		}
		p.logger.Warn().Dur("cooldown", rateLimitCooldown).Msg("venue rate limit hit, cooling down")
		if err := p.sleep(ctx, rateLimitCooldown); err != nil {
			return nil, core.WrapError(core.KindTimeout, err, "interrupted during rate limit cooldown")
		}
	}
	return nil, core.NewError(core.KindRateLimited, "venue still rate limiting after cooldown")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
