package marketdata

import (
	"context"
	"net/url"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
)

const binanceFuturesDataURL = "https://fapi.binance.com"

// BinanceProvider reads USDT-perpetual market data from Binance futures.
// Klines, funding, and taker flow come through the exchange SDK; the open
// interest history endpoint is not covered by it and goes through the
// shared REST client.
type BinanceProvider struct {
	client *futures.Client
	rest   *restClient
	logger zerolog.Logger
}

// NewBinanceProvider builds a provider. Public market data needs no keys.
func NewBinanceProvider(apiKey, secretKey string, logger zerolog.Logger) *BinanceProvider {
	return &BinanceProvider{
		client: futures.NewClient(apiKey, secretKey),
		rest:   newRESTClient(binanceFuturesDataURL, "binance-data", logger),
		logger: logger.With().Str("exchange", string(core.ExchangeBinance)).Logger(),
	}
}

func (p *BinanceProvider) Exchange() core.Exchange { return core.ExchangeBinance }

func (p *BinanceProvider) GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	klines, err := p.klines(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
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

// GetTakerBuySellVolume derives taker flow from the same klines: the quote
// volume splits into taker-buy and the remainder.
func (p *BinanceProvider) GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error) {
	klines, err := p.klines(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]core.TakerPoint, 0, len(klines))
	for _, k := range klines {
		quote, err := strconv.ParseFloat(k.QuoteAssetVolume, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing quote volume")
		}
		buy, err := strconv.ParseFloat(k.TakerBuyQuoteAssetVolume, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing taker buy volume")
		}
		out = append(out, core.TakerPoint{Timestamp: k.OpenTime, BuyUSD: buy, SellUSD: quote - buy})
	}
	return trimTakerPoints(out, q), nil
}

func (p *BinanceProvider) klines(ctx context.Context, q Query) ([]*futures.Kline, error) {
	svc := p.client.NewKlinesService().Symbol(q.Symbol).Interval(string(q.Interval))
	if q.Limit > 0 {
		svc = svc.Limit(q.Limit)
	}
	if q.StartMs > 0 {
		svc = svc.StartTime(q.StartMs)
	}
	if q.EndMs > 0 {
		svc = svc.EndTime(q.EndMs)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "fetching binance klines")
	}
	return klines, nil
}

type binanceOIRow struct {
	SumOpenInterest      string `json:"sumOpenInterest"`
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
	Timestamp            int64  `json:"timestamp"`
}

func (p *BinanceProvider) GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	params := url.Values{}
	params.Set("symbol", q.Symbol)
	params.Set("period", string(q.Interval))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.StartMs > 0 {
		params.Set("startTime", strconv.FormatInt(q.StartMs, 10))
	}
	if q.EndMs > 0 {
		params.Set("endTime", strconv.FormatInt(q.EndMs, 10))
	}

	var rows []binanceOIRow
	if err := p.rest.getJSON(ctx, "/futures/data/openInterestHist", params, &rows); err != nil {
		return nil, err
	}

	out := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		oi, err := strconv.ParseFloat(r.SumOpenInterest, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing open interest")
		}
		out = append(out, core.Candle{Timestamp: r.Timestamp, Close: oi})
	}
	return out, nil
}

func (p *BinanceProvider) GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error) {
	svc := p.client.NewFundingRateService().Symbol(q.Symbol)
	if q.Limit > 0 {
		svc = svc.Limit(q.Limit)
	}
	if q.StartMs > 0 {
		svc = svc.StartTime(q.StartMs)
	}
	if q.EndMs > 0 {
		svc = svc.EndTime(q.EndMs)
	}
	rates, err := svc.Do(ctx)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "fetching binance funding history")
	}

	out := make([]core.FundingPoint, 0, len(rates))
	for _, r := range rates {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			return nil, core.WrapError(core.KindFatal, err, "parsing funding rate")
		}
		out = append(out, core.FundingPoint{Timestamp: r.FundingTime, Rate: rate})
	}
	return out, nil
}

func klineToCandle(k *futures.Kline) (core.Candle, error) {
	var (
		c   = core.Candle{Timestamp: k.OpenTime}
		err error
	)
	if c.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return c, core.WrapError(core.KindFatal, err, "parsing kline open")
	}
	if c.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return c, core.WrapError(core.KindFatal, err, "parsing kline high")
	}
	if c.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return c, core.WrapError(core.KindFatal, err, "parsing kline low")
	}
	if c.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return c, core.WrapError(core.KindFatal, err, "parsing kline close")
	}
	if c.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return c, core.WrapError(core.KindFatal, err, "parsing kline volume")
	}
	return c, nil
}

// trimTakerPoints applies the cutoff contract to taker series, which share
// candle timestamps.
func trimTakerPoints(points []core.TakerPoint, q Query) []core.TakerPoint {
	if q.EndMs == 0 {
		return points
	}
	intervalMs, err := intervalOf(q)
	if err != nil {
		return points
	}
	out := points[:0:0]
	for _, p := range points {
		if p.Timestamp+intervalMs <= q.EndMs {
			out = append(out, p)
		}
	}
	return out
}
