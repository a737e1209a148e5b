// Historical market-data backfill CLI. Records venue series into Postgres
// so replay batches can run from stored data instead of live endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/perpintel/internal/config"
	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/db"
	"github.com/quantfall/perpintel/internal/marketdata"
	"github.com/quantfall/perpintel/internal/timeframe"
)

const pageLimit = 1000

func main() {
	configPath := flag.String("config", "", "path to config file")
	symbol := flag.String("symbol", "", "symbol to backfill, e.g. BTCUSDT")
	start := flag.String("start", "", "range start, RFC3339")
	end := flag.String("end", "", "range end, RFC3339 (default now)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, "console")

	if *symbol == "" || *start == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest -symbol=BTCUSDT -start=2026-01-01T00:00:00Z [-end=...]")
		os.Exit(1)
	}
	startMs, err := parseTime(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -start: %v\n", err)
		os.Exit(1)
	}
	endMs := time.Now().UnixMilli()
	if *end != "" {
		if endMs, err = parseTime(*end); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -end: %v\n", err)
			os.Exit(1)
		}
	}

	url := cfg.Database.DatabaseURL()
	if url == "" {
		fmt.Fprintln(os.Stderr, "Ingest requires a configured database")
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.New(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	mdLogger := config.NewLogger("ingest")
	source := marketdata.NewBinanceProvider(cfg.Exchanges.Binance.APIKey, cfg.Exchanges.Binance.SecretKey, mdLogger)
	sink := marketdata.NewPGProvider(database.Pool(), source.Exchange())

	if err := backfill(ctx, source, sink, *symbol, startMs, endMs); err != nil {
		log.Fatal().Err(err).Msg("Backfill failed")
	}
	log.Info().Str("symbol", *symbol).Msg("Backfill complete")
}

func parseTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func backfill(ctx context.Context, source marketdata.Provider, sink *marketdata.PGProvider, symbol string, startMs, endMs int64) error {
	for _, tf := range core.Timeframes {
		stepMs := timeframe.MustIntervalMs(tf)
		for cursor := startMs; cursor < endMs; {
			q := marketdata.Query{Symbol: symbol, Interval: tf, Limit: pageLimit, StartMs: cursor, EndMs: endMs}

			candles, err := source.GetPriceHistory(ctx, q)
			if err != nil {
				return fmt.Errorf("fetching %s candles: %w", tf, err)
			}
			if len(candles) == 0 {
				break
			}
			if err := sink.StoreCandles(ctx, symbol, tf, candles); err != nil {
				return err
			}

			oi, err := source.GetOIHistory(ctx, q)
			if err != nil {
				log.Warn().Err(err).Str("timeframe", string(tf)).Msg("Open interest unavailable for range")
			} else if err := sink.StoreOpenInterest(ctx, symbol, tf, oi); err != nil {
				return err
			}

			taker, err := source.GetTakerBuySellVolume(ctx, q)
			if err != nil {
				log.Warn().Err(err).Str("timeframe", string(tf)).Msg("Taker volume unavailable for range")
			} else if err := sink.StoreTakerVolume(ctx, symbol, tf, taker); err != nil {
				return err
			}

			log.Info().
				Str("timeframe", string(tf)).
				Int("candles", len(candles)).
				Int64("cursor", cursor).
				Msg("Stored page")
			cursor = candles[len(candles)-1].Timestamp + stepMs
		}
	}

	for cursor := startMs; cursor < endMs; {
		q := marketdata.Query{Symbol: symbol, Limit: pageLimit, StartMs: cursor, EndMs: endMs}
		funding, err := source.GetFundingHistory(ctx, q)
		if err != nil {
			return fmt.Errorf("fetching funding history: %w", err)
		}
		if len(funding) == 0 {
			break
		}
		if err := sink.StoreFundingRates(ctx, symbol, funding); err != nil {
			return err
		}
		cursor = funding[len(funding)-1].Timestamp + 1
	}
	return nil
}
