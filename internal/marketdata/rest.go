package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantfall/perpintel/internal/core"
)

const defaultFetchTimeout = 30 * time.Second

// restClient is a paced, circuit-broken JSON GET client shared by the venue
// providers for the endpoints their SDKs do not cover.
type restClient struct {
	base    string
	http    *http.Client
	pacer   *Pacer
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func newRESTClient(base, name string, logger zerolog.Logger) *restClient {
	return &restClient{
		base:  base,
		http:  &http.Client{Timeout: defaultFetchTimeout},
		pacer: NewPacer(logger),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger.With().Str("component", name).Logger(),
	}
}

// getJSON fetches path?params and decodes the body into out.
func (c *restClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, path, params)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return core.WrapError(core.KindRateLimited, err, "venue circuit open")
		}
		return err
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return core.WrapError(core.KindFatal, err, "decoding venue response")
	}
	return nil
}

func (c *restClient) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s%s?%s", c.base, path, params.Encode())

	resp, err := c.pacer.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "building venue request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if fetchCtx.Err() != nil {
				return nil, core.WrapError(core.KindTimeout, err, "venue fetch timed out")
			}
			return nil, core.WrapError(core.KindFatal, err, "venue fetch failed")
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.NewError(core.KindFatal, "venue returned %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
