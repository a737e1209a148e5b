// Package features computes stateless per-timeframe primitives from closed
// candle series. Every function is pure: same inputs, same outputs.
package features

import (
	"fmt"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// Window sizes. Momentum and OI deltas use 24 timeframe-periods; the CVD
// window comes from config.
const (
	momentumPeriods   = 24
	oiDeltaPeriods    = 24
	volatilityWindow  = 48
	swingWindow       = 2 // +-k candles around a local extremum
	volumeProfileBins = 24
	minTrendCandles   = 50 // EMA50 needs at least its period
)

// Inputs carries everything Compute needs for one (exchange, timeframe).
type Inputs struct {
	Timeframe core.Timeframe
	Candles   []core.Candle // closed, oldest to newest
	OI        []core.Candle // open-interest candles aligned to Candles
	Funding   []core.FundingPoint
	Taker     []core.TakerPoint
	// TakerInterval is the resolution the taker series was fetched at;
	// empty means it matches Timeframe.
	TakerInterval core.Timeframe
	AsOfMs        int64 // the as-of instant (not the aligned end)
	EndMs         int64 // aligned last-closed boundary
	Partial       bool  // series had gaps
}

// TrendFeatures describe EMA posture.
type TrendFeatures struct {
	Direction string  `json:"direction"` // up | down | sideways
	Strength  float64 `json:"strength"`  // slope normalized by stddev
	EMA20     float64 `json:"ema20"`
	EMA50     float64 `json:"ema50"`
	Crossover string  `json:"crossover"` // golden | death | none
}

// MomentumFeatures is the 24-period price change.
type MomentumFeatures struct {
	ChangePct float64 `json:"change_pct"`
}

// VolatilityFeatures hold realized volatility and drawdown.
type VolatilityFeatures struct {
	Realized       float64 `json:"realized"` // annualized stddev of log returns
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// CVDFeatures hold the normalized cumulative-volume-delta view.
type CVDFeatures struct {
	Series     []float64         `json:"-"`
	Slope      float64           `json:"slope"`
	NoiseFloor float64           `json:"noise_floor"`
	Strong     bool              `json:"strong"`
	Direction  core.CVDDirection `json:"direction"`

	ActualCandles   int  `json:"actual_candles"`
	ExpectedCandles int  `json:"expected_candles"`
	ZeroVolumeRun   int  `json:"zero_volume_run"`
	ResolutionOK    bool `json:"resolution_ok"`
	Computed        bool `json:"computed"`
}

// OIFeatures describe open-interest behavior against price.
type OIFeatures struct {
	Current   float64 `json:"current"`
	ChangePct float64 `json:"change_pct"` // over 24 periods
	Alignment string  `json:"alignment"`  // aligned | bullish_divergence | bearish_divergence
	Computed  bool    `json:"computed"`
}

// FundingFeatures hold the funding-rate posture.
type FundingFeatures struct {
	Current  float64 `json:"current"`
	ZScore   float64 `json:"z_score"`
	Computed bool    `json:"computed"`
}

// StructureFeatures describe swings and break-of-structure.
type StructureFeatures struct {
	SwingHigh   float64 `json:"swing_high"`
	SwingHighTs int64   `json:"swing_high_ts"`
	SwingLow    float64 `json:"swing_low"`
	SwingLowTs  int64   `json:"swing_low_ts"`
	BoS         string  `json:"bos"` // bullish | bearish | none
	Support     float64 `json:"support"`
	Resistance  float64 `json:"resistance"`
	Computed    bool    `json:"computed"`
}

// VolumeProfileFeatures hold POC and the 70% value area.
type VolumeProfileFeatures struct {
	POC      float64 `json:"poc"`
	VAH      float64 `json:"vah"`
	VAL      float64 `json:"val"`
	Computed bool    `json:"computed"`
}

// VWAPFeatures hold the session VWAP and percentage bands.
type VWAPFeatures struct {
	Value    float64 `json:"value"`
	Upper1   float64 `json:"upper1"` // +1%
	Lower1   float64 `json:"lower1"`
	Upper2   float64 `json:"upper2"` // +2%
	Lower2   float64 `json:"lower2"`
	Position string  `json:"position"` // above | below | inside
	Computed bool    `json:"computed"`
}

// Features is the complete per-timeframe feature bundle.
type Features struct {
	Timeframe     core.Timeframe        `json:"timeframe"`
	LastClose     float64               `json:"last_close"`
	LastCandleTs  int64                 `json:"last_candle_ts"`
	StalenessMs   int64                 `json:"staleness_ms"`
	Partial       bool                  `json:"partial"`
	Trend         TrendFeatures         `json:"trend"`
	Momentum      MomentumFeatures      `json:"momentum"`
	Volatility    VolatilityFeatures    `json:"volatility"`
	CVD           CVDFeatures           `json:"cvd"`
	OI            OIFeatures            `json:"oi"`
	Funding       FundingFeatures       `json:"funding"`
	Structure     StructureFeatures     `json:"structure"`
	VolumeProfile VolumeProfileFeatures `json:"volume_profile"`
	VWAP          VWAPFeatures          `json:"vwap"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// Compute derives the full feature bundle for one timeframe. Individual
// feature groups degrade independently: a group that lacks data sets its
// Computed flag false and appends a warning instead of failing the bundle.
func Compute(in Inputs, th engineconfig.TimeframeThresholds) (Features, error) {
	if len(in.Candles) == 0 {
		return Features{}, core.NewError(core.KindInsufficientData, "no %s candles", in.Timeframe)
	}

	intervalMs, err := timeframe.IntervalMs(in.Timeframe)
	if err != nil {
		return Features{}, err
	}

	last := in.Candles[len(in.Candles)-1]
	f := Features{
		Timeframe:    in.Timeframe,
		LastClose:    last.Close,
		LastCandleTs: last.Timestamp,
		Partial:      in.Partial,
	}
	if in.AsOfMs > 0 {
		f.StalenessMs = in.AsOfMs - (last.Timestamp + intervalMs)
		if f.StalenessMs < 0 {
			f.StalenessMs = 0
		}
	}

	closes := make([]float64, len(in.Candles))
	for i, c := range in.Candles {
		closes[i] = c.Close
	}

	f.Trend = computeTrend(closes)
	f.Momentum = computeMomentum(closes)
	f.Volatility = computeVolatility(closes, intervalMs)
	f.CVD = computeCVD(in.Taker, th.CVD)
	f.CVD.ResolutionOK = in.TakerInterval == "" || in.TakerInterval == in.Timeframe
	f.OI = computeOI(in.OI, closes)
	f.Funding = computeFunding(in.Funding)
	f.Structure = computeStructure(in.Candles)
	f.VolumeProfile = computeVolumeProfile(in.Candles)
	f.VWAP = computeVWAP(in.Candles, intervalMs)

	if !f.CVD.Computed {
		f.Warnings = append(f.Warnings, fmt.Sprintf("%s: cvd not computed (taker volume unavailable)", in.Timeframe))
	}
	if !f.OI.Computed {
		f.Warnings = append(f.Warnings, fmt.Sprintf("%s: open interest series too short", in.Timeframe))
	}
	if !f.Funding.Computed {
		f.Warnings = append(f.Warnings, fmt.Sprintf("%s: funding series too short", in.Timeframe))
	}
	if !f.Structure.Computed {
		f.Warnings = append(f.Warnings, fmt.Sprintf("%s: not enough candles for swing detection", in.Timeframe))
	}
	if in.Partial {
		f.Warnings = append(f.Warnings, fmt.Sprintf("%s: candle series has gaps", in.Timeframe))
	}

	return f, nil
}
