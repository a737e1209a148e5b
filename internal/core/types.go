package core

// Bias is the directional verdict of a signal, bucket, or final state.
type Bias string

const (
	BiasLong  Bias = "LONG"
	BiasShort Bias = "SHORT"
	BiasWait  Bias = "WAIT"
)

// Opposite returns the inverse directional bias. WAIT has no opposite.
func (b Bias) Opposite() Bias {
	switch b {
	case BiasLong:
		return BiasShort
	case BiasShort:
		return BiasLong
	default:
		return BiasWait
	}
}

// Directional reports whether the bias is LONG or SHORT.
func (b Bias) Directional() bool {
	return b == BiasLong || b == BiasShort
}

// TradeStance maps a bias to expected behavior.
type TradeStance string

const (
	StanceLookForLongs  TradeStance = "LOOK_FOR_LONGS"
	StanceLookForShorts TradeStance = "LOOK_FOR_SHORTS"
	StanceAvoidTrading  TradeStance = "AVOID_TRADING"
)

// RiskMode qualifies how aggressively a stance should be acted on.
type RiskMode string

const (
	RiskNormal     RiskMode = "NORMAL"
	RiskDefensive  RiskMode = "DEFENSIVE"
	RiskAggressive RiskMode = "AGGRESSIVE"
)

// Exchange identifies a derivatives venue.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
)

// Timeframe is a candle interval from the closed supported set.
type Timeframe string

const (
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists all supported timeframes, shortest first.
var Timeframes = []Timeframe{Timeframe30m, Timeframe1h, Timeframe4h, Timeframe1d}

// Bucket is a hierarchical group of timeframes.
type Bucket string

const (
	BucketMacro    Bucket = "macro"
	BucketMicro    Bucket = "micro"
	BucketScalping Bucket = "scalping"
)

// BucketTimeframes maps each bucket to its constituent timeframes.
// 1h and 4h deliberately appear in two buckets.
var BucketTimeframes = map[Bucket][]Timeframe{
	BucketMacro:    {Timeframe4h, Timeframe1d},
	BucketMicro:    {Timeframe1h, Timeframe4h},
	BucketScalping: {Timeframe30m, Timeframe1h},
}

// RegimeLabel is a predictive market classification: the label names what
// price is expected to do next, not what it just did.
type RegimeLabel string

const (
	RegimeDistribution  RegimeLabel = "distribution"
	RegimeAccumulation  RegimeLabel = "accumulation"
	RegimeLongTrap      RegimeLabel = "long_trap"
	RegimeShortTrap     RegimeLabel = "short_trap"
	RegimeHealthyBull   RegimeLabel = "healthy_bull"
	RegimeHealthyBear   RegimeLabel = "healthy_bear"
	RegimeShortCovering RegimeLabel = "short_covering"
	RegimeChop          RegimeLabel = "chop"
	RegimeUnclear       RegimeLabel = "unclear"
)

// DivergenceScenario classifies cross-exchange behavior.
type DivergenceScenario string

const (
	ScenarioWhaleDistribution DivergenceScenario = "whale_distribution"
	ScenarioWhaleAccumulation DivergenceScenario = "whale_accumulation"
	ScenarioRetailFomoRally   DivergenceScenario = "retail_fomo_rally"
	ScenarioShortSqueezeSetup DivergenceScenario = "short_squeeze_setup"
	ScenarioSyncBullish       DivergenceScenario = "synchronized_bullish"
	ScenarioSyncBearish       DivergenceScenario = "synchronized_bearish"
	ScenarioBinanceNoise      DivergenceScenario = "binance_noise"
	ScenarioBybitLeading      DivergenceScenario = "bybit_leading"
	ScenarioUnclear           DivergenceScenario = "unclear"
)

// AbsorptionStatus is the per-cycle status of the absorption detector.
type AbsorptionStatus string

const (
	AbsorptionNone      AbsorptionStatus = "NONE"
	AbsorptionDetecting AbsorptionStatus = "DETECTING"
	AbsorptionResolved  AbsorptionStatus = "RESOLVED"
)

// AbsorptionResolution is the terminal state of an absorption event.
type AbsorptionResolution string

const (
	ResolutionTrap         AbsorptionResolution = "TRAP"
	ResolutionAccumulation AbsorptionResolution = "ACCUMULATION"
	ResolutionDistribution AbsorptionResolution = "DISTRIBUTION"
	ResolutionExpired      AbsorptionResolution = "EXPIRED"
	ResolutionInvalidated  AbsorptionResolution = "INVALIDATED"
)

// CVDDirection is the side doing the absorbing.
type CVDDirection string

const (
	CVDBuying  CVDDirection = "buying"
	CVDSelling CVDDirection = "selling"
)

// PriceLocation classifies where an absorption event fired relative to
// strict support/resistance (last swing extremes).
type PriceLocation string

const (
	LocationNearResistance PriceLocation = "near_resistance"
	LocationNearSupport    PriceLocation = "near_support"
	LocationMidRange       PriceLocation = "mid_range"
)

// OutcomeLabel evaluates whether a state's narrative was borne out.
type OutcomeLabel string

const (
	OutcomeContinuation OutcomeLabel = "CONTINUATION"
	OutcomeReversal     OutcomeLabel = "REVERSAL"
	OutcomeNoise        OutcomeLabel = "NOISE"
	OutcomePending      OutcomeLabel = "PENDING"
)

// Candle is one OHLCV bar. Timestamp is the candle open in ms UTC; the
// candle covers [Timestamp, Timestamp+intervalMs) and is closed once
// now >= Timestamp+intervalMs.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
}

// FundingPoint is one funding-rate observation.
type FundingPoint struct {
	Timestamp int64   `json:"timestamp"`
	Rate      float64 `json:"rate"`
}

// TakerPoint is per-candle taker buy/sell volume in quote USD.
type TakerPoint struct {
	Timestamp int64   `json:"timestamp"`
	BuyUSD    float64 `json:"buy_usd"`
	SellUSD   float64 `json:"sell_usd"`
}

// SignalVerdict is one signal family's opinion on one timeframe.
type SignalVerdict struct {
	Name       string             `json:"name"`
	Bias       Bias               `json:"bias"`
	Confidence float64            `json:"confidence"` // 0..10
	Weight     float64            `json:"weight"`     // effective, post-renormalization
	Reliable   bool               `json:"reliable"`
	Reasoning  string             `json:"reasoning"`
	Details    map[string]float64 `json:"details,omitempty"`
}

// BucketVerdict is the aggregated opinion of one timeframe bucket.
type BucketVerdict struct {
	Bias                   Bias        `json:"bias"`
	Confidence             float64     `json:"confidence"`
	ContributingTimeframes []Timeframe `json:"contributing_timeframes"`
	LongScore              float64     `json:"long_score"`
	ShortScore             float64     `json:"short_score"`
	WaitScore              float64     `json:"wait_score"`
}

// Signal family names recognized by the interpreter. The weights map in the
// pipeline config is data-driven; these are the names it is keyed by.
const (
	SignalExchangeDivergence = "exchange_divergence"
	SignalMarketRegime       = "market_regime"
	SignalStructure          = "structure"
	SignalTechnical          = "technical"
	SignalCVD                = "cvd"
	SignalVWAP               = "vwap"
	SignalFunding            = "funding"
	SignalVolumeProfile      = "volume_profile"
)
