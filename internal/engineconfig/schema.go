// Package engineconfig holds the versioned parameter set that fully
// determines pipeline behavior. Versions are immutable once written;
// updates go through optimistic concurrency with bounded-delta validation.
package engineconfig

import (
	"github.com/quantfall/perpintel/internal/core"
)

// SchemaVersion is the current config schema version. Imports carrying an
// older compatible schema are accepted; newer ones are rejected.
const SchemaVersion = "1.0.0"

// SupportedSchemaVersions lists schema versions this build can import.
var SupportedSchemaVersions = []string{"1.0.0"}

// Weights holds the per-signal weight map. Values must sum to 1.0 +-1e-6.
type Weights struct {
	Signals map[string]float64 `json:"signals" yaml:"signals"`
}

// CVDThresholds configures the CVD reliability gate per timeframe.
type CVDThresholds struct {
	WindowCandles  int     `json:"window_candles" yaml:"window_candles"`
	MinReliablePct float64 `json:"min_reliable_pct" yaml:"min_reliable_pct"`
	SlopeWindow    int     `json:"slope_window" yaml:"slope_window"`
}

// TimeframeThresholds are the per-timeframe numeric triggers.
type TimeframeThresholds struct {
	NoisePct        float64       `json:"noise_pct" yaml:"noise_pct"`
	StrongPct       float64       `json:"strong_pct" yaml:"strong_pct"`
	OIQuietPct      float64       `json:"oi_quiet_pct" yaml:"oi_quiet_pct"`
	OIAggressivePct float64       `json:"oi_aggressive_pct" yaml:"oi_aggressive_pct"`
	CVD             CVDThresholds `json:"cvd" yaml:"cvd"`
}

// Gates are the hierarchical-decision permission thresholds.
type Gates struct {
	MacroPermission     float64 `json:"macro_permission" yaml:"macro_permission"`
	MacroAnchor         float64 `json:"macro_anchor" yaml:"macro_anchor"`
	SetupVeto           float64 `json:"setup_veto" yaml:"setup_veto"`
	StalenessMultiplier float64 `json:"staleness_multiplier" yaml:"staleness_multiplier"`
	FundingZExtreme     float64 `json:"funding_z_extreme" yaml:"funding_z_extreme"`
}

// Penalties tune confidence adjustments in the final decision.
type Penalties struct {
	ConflictRatio          float64 `json:"conflict_ratio" yaml:"conflict_ratio"`
	ConflictPenaltyFactor  float64 `json:"conflict_penalty_factor" yaml:"conflict_penalty_factor"`
	AlignmentBonus         float64 `json:"alignment_bonus" yaml:"alignment_bonus"`
	StalenessPenaltyFactor float64 `json:"staleness_penalty_factor" yaml:"staleness_penalty_factor"`
	// AnchorOppositionFactor dents an anchored macro's confidence when a
	// lower timeframe opposes it.
	AnchorOppositionFactor float64 `json:"anchor_opposition_factor" yaml:"anchor_opposition_factor"`
}

// Bounds limits how far a single update may move each parameter category
// from the active version.
type Bounds struct {
	MaxDelta MaxDelta `json:"max_delta" yaml:"max_delta"`
}

// MaxDelta is expressed as an absolute delta for weights (already in
// [0,1]) and a relative fraction for the remaining categories.
type MaxDelta struct {
	Weights    float64 `json:"weights" yaml:"weights"`
	Thresholds float64 `json:"thresholds" yaml:"thresholds"`
	Gates      float64 `json:"gates" yaml:"gates"`
	Penalties  float64 `json:"penalties" yaml:"penalties"`
}

// DivergenceSettings fixes exchange semantics and the activation floor.
type DivergenceSettings struct {
	RetailExchange core.Exchange `json:"retail_exchange" yaml:"retail_exchange"`
	WhaleExchange  core.Exchange `json:"whale_exchange" yaml:"whale_exchange"`
	MinDeltaPct    float64       `json:"min_delta_pct" yaml:"min_delta_pct"`
	UnclearBelow   float64       `json:"unclear_below_pct" yaml:"unclear_below_pct"`
}

// AbsorptionSettings tune the two-phase absorption detector.
type AbsorptionSettings struct {
	NearLevelPct    float64                 `json:"near_level_pct" yaml:"near_level_pct"`
	WaitCandles     map[core.Timeframe]int  `json:"wait_candles" yaml:"wait_candles"`
	ConfidenceBonus float64                 `json:"confidence_bonus" yaml:"confidence_bonus"`
	ReducedBonus    float64                 `json:"reduced_bonus" yaml:"reduced_bonus"`
	MovedAwayPct    float64                 `json:"moved_away_pct" yaml:"moved_away_pct"`
	GapExtendPct    float64                 `json:"gap_extend_pct" yaml:"gap_extend_pct"`
}

// OutcomeSettings configure the replay outcome labeler.
type OutcomeSettings struct {
	MovePct    float64                 `json:"move_pct" yaml:"move_pct"`
	HorizonsMs map[core.Bucket][]int64 `json:"horizons_ms" yaml:"horizons_ms"` // [min, max]
}

// RegimeRule is one row of the regime condition matrix. Rules are evaluated
// in ascending Priority; the first row whose predicates all hold wins.
// Predicate value "any" matches everything.
type RegimeRule struct {
	Label     core.RegimeLabel `json:"label" yaml:"label"`
	SubType   string           `json:"sub_type,omitempty" yaml:"sub_type,omitempty"`
	Priority  int              `json:"priority" yaml:"priority"`
	Price     string           `json:"price" yaml:"price"`         // up | down | sideways | any
	OI        string           `json:"oi" yaml:"oi"`               // rising | falling | flat | any
	CVD       string           `json:"cvd" yaml:"cvd"`             // buying | selling | any
	Funding   string           `json:"funding" yaml:"funding"`     // extreme_positive | extreme_negative | not_extreme | any
	Structure string           `json:"structure" yaml:"structure"` // bos_up | bos_down | none | any
}

// PipelineConfig is one immutable config version. Readers receive a value
// snapshot at pipeline entry and never observe mid-run mutation.
type PipelineConfig struct {
	Version          int                                     `json:"version" yaml:"version"`
	SchemaVersion    string                                  `json:"schema_version" yaml:"schema_version"`
	PrimaryExchange  core.Exchange                           `json:"primary_exchange" yaml:"primary_exchange"`
	Weights          Weights                                 `json:"weights" yaml:"weights"`
	Thresholds       map[core.Timeframe]TimeframeThresholds  `json:"thresholds" yaml:"thresholds"`
	TimeframeWeights map[core.Timeframe]float64              `json:"timeframe_weights" yaml:"timeframe_weights"`
	Gates            Gates                                   `json:"gates" yaml:"gates"`
	Penalties        Penalties                               `json:"penalties" yaml:"penalties"`
	Bounds           Bounds                                  `json:"bounds" yaml:"bounds"`
	Divergence       DivergenceSettings                      `json:"divergence" yaml:"divergence"`
	Absorption       AbsorptionSettings                      `json:"absorption" yaml:"absorption"`
	Outcome          OutcomeSettings                         `json:"outcome" yaml:"outcome"`
	RegimeRules      []RegimeRule                            `json:"regime_rules" yaml:"regime_rules"`
	CreatedAt        int64                                   `json:"created_at" yaml:"created_at"`
	CreatedBy        string                                  `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Notes            string                                  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Default returns the baseline configuration (version 1).
func Default() PipelineConfig {
	return PipelineConfig{
		Version:         1,
		SchemaVersion:   SchemaVersion,
		PrimaryExchange: core.ExchangeBinance,
		Weights: Weights{
			Signals: map[string]float64{
				core.SignalExchangeDivergence: 0.15,
				core.SignalMarketRegime:       0.15,
				core.SignalStructure:          0.15,
				core.SignalTechnical:          0.20,
				core.SignalCVD:                0.15,
				core.SignalVWAP:               0.08,
				core.SignalFunding:            0.07,
				core.SignalVolumeProfile:      0.05,
			},
		},
		Thresholds: map[core.Timeframe]TimeframeThresholds{
			core.Timeframe30m: {NoisePct: 0.15, StrongPct: 0.6, OIQuietPct: 0.3, OIAggressivePct: 1.5, CVD: CVDThresholds{WindowCandles: 50, MinReliablePct: 0.8, SlopeWindow: 10}},
			core.Timeframe1h:  {NoisePct: 0.25, StrongPct: 1.0, OIQuietPct: 0.5, OIAggressivePct: 2.0, CVD: CVDThresholds{WindowCandles: 50, MinReliablePct: 0.8, SlopeWindow: 10}},
			core.Timeframe4h:  {NoisePct: 0.5, StrongPct: 2.0, OIQuietPct: 1.0, OIAggressivePct: 3.5, CVD: CVDThresholds{WindowCandles: 50, MinReliablePct: 0.8, SlopeWindow: 10}},
			core.Timeframe1d:  {NoisePct: 1.0, StrongPct: 3.5, OIQuietPct: 2.0, OIAggressivePct: 6.0, CVD: CVDThresholds{WindowCandles: 50, MinReliablePct: 0.8, SlopeWindow: 10}},
		},
		TimeframeWeights: map[core.Timeframe]float64{
			core.Timeframe30m: 0.8,
			core.Timeframe1h:  1.0,
			core.Timeframe4h:  1.2,
			core.Timeframe1d:  1.4,
		},
		Gates: Gates{
			MacroPermission:     6,
			MacroAnchor:         6,
			SetupVeto:           6,
			StalenessMultiplier: 2,
			FundingZExtreme:     2,
		},
		Penalties: Penalties{
			ConflictRatio:          0.7,
			ConflictPenaltyFactor:  0.5,
			AlignmentBonus:         1,
			StalenessPenaltyFactor: 0.2,
			AnchorOppositionFactor: 0.2,
		},
		Bounds: Bounds{
			MaxDelta: MaxDelta{Weights: 0.25, Thresholds: 0.15, Gates: 0.10, Penalties: 0.15},
		},
		Divergence: DivergenceSettings{
			RetailExchange: core.ExchangeBinance,
			WhaleExchange:  core.ExchangeBybit,
			MinDeltaPct:    1.0,
			UnclearBelow:   0.5,
		},
		Absorption: AbsorptionSettings{
			NearLevelPct: 0.3,
			WaitCandles: map[core.Timeframe]int{
				core.Timeframe30m: 6,
				core.Timeframe1h:  4,
				core.Timeframe4h:  3,
				core.Timeframe1d:  2,
			},
			ConfidenceBonus: 2,
			ReducedBonus:    1,
			MovedAwayPct:    2,
			GapExtendPct:    0.2,
		},
		Outcome: OutcomeSettings{
			MovePct: 0.5,
			HorizonsMs: map[core.Bucket][]int64{
				core.BucketScalping: {10 * 60 * 1000, 60 * 60 * 1000},
				core.BucketMicro:    {2 * 60 * 60 * 1000, 8 * 60 * 60 * 1000},
				core.BucketMacro:    {24 * 60 * 60 * 1000, 5 * 24 * 60 * 60 * 1000},
			},
		},
		RegimeRules: DefaultRegimeRules(),
	}
}

// DefaultRegimeRules is the baseline condition matrix. Traps rank first so
// that crowded-positioning setups take precedence over the healthy trends
// they superficially resemble; unmatched inputs fall through to unclear.
func DefaultRegimeRules() []RegimeRule {
	return []RegimeRule{
		{Label: core.RegimeLongTrap, SubType: "crowded_longs", Priority: 1, Price: "up", OI: "rising", CVD: "selling", Funding: "extreme_positive", Structure: "any"},
		{Label: core.RegimeShortTrap, SubType: "crowded_shorts", Priority: 2, Price: "down", OI: "rising", CVD: "buying", Funding: "extreme_negative", Structure: "any"},
		{Label: core.RegimeDistribution, SubType: "sell_into_strength", Priority: 3, Price: "sideways", OI: "rising", CVD: "selling", Funding: "any", Structure: "any"},
		{Label: core.RegimeDistribution, SubType: "exhaustion", Priority: 4, Price: "up", OI: "flat", CVD: "selling", Funding: "any", Structure: "any"},
		{Label: core.RegimeAccumulation, SubType: "absorb_weakness", Priority: 5, Price: "sideways", OI: "rising", CVD: "buying", Funding: "any", Structure: "any"},
		{Label: core.RegimeAccumulation, SubType: "basing", Priority: 6, Price: "down", OI: "flat", CVD: "buying", Funding: "any", Structure: "any"},
		{Label: core.RegimeShortCovering, SubType: "", Priority: 7, Price: "up", OI: "falling", CVD: "any", Funding: "any", Structure: "any"},
		{Label: core.RegimeHealthyBull, SubType: "", Priority: 8, Price: "up", OI: "rising", CVD: "buying", Funding: "not_extreme", Structure: "any"},
		{Label: core.RegimeHealthyBear, SubType: "", Priority: 9, Price: "down", OI: "rising", CVD: "selling", Funding: "not_extreme", Structure: "any"},
		{Label: core.RegimeChop, SubType: "", Priority: 10, Price: "sideways", OI: "flat", CVD: "any", Funding: "not_extreme", Structure: "none"},
	}
}

// RequiredSignals are the families every valid weights map must include.
// volume_profile is optional.
var RequiredSignals = []string{
	core.SignalExchangeDivergence,
	core.SignalMarketRegime,
	core.SignalStructure,
	core.SignalTechnical,
	core.SignalCVD,
	core.SignalVWAP,
	core.SignalFunding,
}
