package marketdata

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
)

const bybitBaseURL = "https://api.bybit.com"

// bybitIntervals maps our timeframes onto Bybit's v5 interval codes.
var bybitIntervals = map[core.Timeframe]string{
	core.Timeframe30m: "30",
	core.Timeframe1h:  "60",
	core.Timeframe4h:  "240",
	core.Timeframe1d:  "D",
}

// bybitOIIntervals is the same mapping for the open-interest endpoint,
// which uses a different vocabulary.
var bybitOIIntervals = map[core.Timeframe]string{
	core.Timeframe30m: "30min",
	core.Timeframe1h:  "1h",
	core.Timeframe4h:  "4h",
	core.Timeframe1d:  "1d",
}

// BybitProvider reads linear-perpetual market data from the Bybit v5 API.
type BybitProvider struct {
	rest   *restClient
	logger zerolog.Logger
}

// NewBybitProvider builds a provider against the public v5 endpoints.
func NewBybitProvider(logger zerolog.Logger) *BybitProvider {
	return &BybitProvider{
		rest:   newRESTClient(bybitBaseURL, "bybit-data", logger),
		logger: logger.With().Str("exchange", string(core.ExchangeBybit)).Logger(),
	}
}

func (p *BybitProvider) Exchange() core.Exchange { return core.ExchangeBybit }

// bybitEnvelope is the v5 response wrapper.
type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type bybitKlineResult struct {
	List [][]string `json:"list"` // newest first
}

func (p *BybitProvider) GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	interval, ok := bybitIntervals[q.Interval]
	if !ok {
		return nil, core.NewError(core.KindUnknownInterval, "bybit does not serve interval %s", q.Interval)
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", q.Symbol)
	params.Set("interval", interval)
	applyRange(params, q)

	var env bybitEnvelope[bybitKlineResult]
	if err := p.rest.getJSON(ctx, "/v5/market/kline", params, &env); err != nil {
		return nil, err
	}
	if env.RetCode != 0 {
		return nil, core.NewError(core.KindFatal, "bybit kline error %d: %s", env.RetCode, env.RetMsg)
	}

	out := make([]core.Candle, 0, len(env.Result.List))
	// Bybit lists newest first; reverse into ascending order.
	for i := len(env.Result.List) - 1; i >= 0; i-- {
		row := env.Result.List[i]
		if len(row) < 6 {
			return nil, core.NewError(core.KindFatal, "bybit kline row has %d fields", len(row))
		}
		c, err := parseBybitKline(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	out = TrimToCutoff(out, q.Interval, q.EndMs)
	if err := EnforceCutoff(out, q.Interval, q.EndMs); err != nil {
		return nil, err
	}
	return out, nil
}

type bybitOIResult struct {
	List []struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	} `json:"list"`
}

func (p *BybitProvider) GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	interval, ok := bybitOIIntervals[q.Interval]
	if !ok {
		return nil, core.NewError(core.KindUnknownInterval, "bybit does not serve oi interval %s", q.Interval)
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", q.Symbol)
	params.Set("intervalTime", interval)
	applyRange(params, q)

	var env bybitEnvelope[bybitOIResult]
	if err := p.rest.getJSON(ctx, "/v5/market/open-interest", params, &env); err != nil {
		return nil, err
	}
	if env.RetCode != 0 {
		return nil, core.NewError(core.KindFatal, "bybit oi error %d: %s", env.RetCode, env.RetMsg)
	}

	out := make([]core.Candle, 0, len(env.Result.List))
	for i := len(env.Result.List) - 1; i >= 0; i-- {
		row := env.Result.List[i]
		ts, err := strconv.ParseInt(row.Timestamp, 10, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing bybit oi timestamp")
		}
		oi, err := strconv.ParseFloat(row.OpenInterest, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing bybit open interest")
		}
		out = append(out, core.Candle{Timestamp: ts, Close: oi})
	}
	return out, nil
}

type bybitFundingResult struct {
	List []struct {
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

func (p *BybitProvider) GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", q.Symbol)
	applyRange(params, q)

	var env bybitEnvelope[bybitFundingResult]
	if err := p.rest.getJSON(ctx, "/v5/market/funding/history", params, &env); err != nil {
		return nil, err
	}
	if env.RetCode != 0 {
		return nil, core.NewError(core.KindFatal, "bybit funding error %d: %s", env.RetCode, env.RetMsg)
	}

	out := make([]core.FundingPoint, 0, len(env.Result.List))
	for i := len(env.Result.List) - 1; i >= 0; i-- {
		row := env.Result.List[i]
		ts, err := strconv.ParseInt(row.FundingRateTimestamp, 10, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing bybit funding timestamp")
		}
		rate, err := strconv.ParseFloat(row.FundingRate, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing bybit funding rate")
		}
		out = append(out, core.FundingPoint{Timestamp: ts, Rate: rate})
	}
	return out, nil
}

// GetTakerBuySellVolume derives taker split from kline turnover and the
// close direction; Bybit's public v5 surface exposes no per-candle taker
// split for linear contracts.
func (p *BybitProvider) GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error) {
	candles, err := p.GetPriceHistory(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]core.TakerPoint, 0, len(candles))
	for _, c := range candles {
		turnover := c.Volume * (c.High + c.Low + c.Close) / 3
		span := c.High - c.Low
		buyShare := 0.5
		if span > 0 {
			buyShare = (c.Close - c.Low) / span
		}
		out = append(out, core.TakerPoint{
			Timestamp: c.Timestamp,
			BuyUSD:    turnover * buyShare,
			SellUSD:   turnover * (1 - buyShare),
		})
	}
	return out, nil
}

func parseBybitKline(row []string) (core.Candle, error) {
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return core.Candle{}, core.WrapError(core.KindFatal, err, "parsing bybit kline timestamp")
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		vals[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return core.Candle{}, core.WrapError(core.KindFatal, err, "parsing bybit kline field %d", i+1)
		}
	}
	return core.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func applyRange(params url.Values, q Query) {
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.StartMs > 0 {
		params.Set("start", strconv.FormatInt(q.StartMs, 10))
	}
	if q.EndMs > 0 {
		params.Set("end", strconv.FormatInt(q.EndMs, 10))
	}
}
