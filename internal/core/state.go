package core

// StateSchemaVersion is bumped whenever the MarketState shape changes in a
// way consumers must detect.
const StateSchemaVersion = "1.0"

// FinalDecision is the headline verdict of a market state.
type FinalDecision struct {
	Bias                Bias        `json:"bias"`
	Confidence          float64     `json:"confidence"` // 0..10
	DirectionConfidence float64     `json:"direction_confidence"`
	NoTradeConfidence   float64     `json:"no_trade_confidence"`
	TradeStance         TradeStance `json:"trade_stance"`
	RiskMode            RiskMode    `json:"risk_mode"`
	PrimaryRegime       RegimeLabel `json:"primary_regime"`
	MacroAnchored       bool        `json:"macro_anchored"`
	Warnings            []string    `json:"warnings"`
}

// BucketSet holds the three hierarchical bucket verdicts.
type BucketSet struct {
	Macro    BucketVerdict `json:"macro"`
	Micro    BucketVerdict `json:"micro"`
	Scalping BucketVerdict `json:"scalping"`
}

// TimeframeAssessment is the composite verdict for a single timeframe plus
// the per-signal breakdown behind it.
type TimeframeAssessment struct {
	Bias       Bias            `json:"bias"`
	Confidence float64         `json:"confidence"`
	Signals    []SignalVerdict `json:"signals"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// RegimeAssessment is the classifier output attached to a state.
type RegimeAssessment struct {
	Label           RegimeLabel `json:"label"`
	SubType         string      `json:"sub_type,omitempty"`
	Confidence      float64     `json:"confidence"`
	Characteristics []string    `json:"characteristics,omitempty"`
}

// DivergenceAssessment is the cross-exchange scenario attached to a state.
type DivergenceAssessment struct {
	Scenario   DivergenceScenario `json:"scenario"`
	Bias       Bias               `json:"bias"`
	Confidence float64            `json:"confidence"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// AbsorptionAssessment summarizes absorption activity for this cycle.
// While an event is merely DETECTING it must not alter bias or confidence;
// only a RESOLVED event carries a bias implication and bonus.
type AbsorptionAssessment struct {
	Status          AbsorptionStatus     `json:"status"`
	Resolution      AbsorptionResolution `json:"resolution,omitempty"`
	BiasImplication Bias                 `json:"bias_implication,omitempty"`
	ConfidenceBonus float64              `json:"confidence_bonus,omitempty"`
}

// ReliabilitySummary records which signals passed their gates and how stale
// each timeframe's data was at assembly time.
type ReliabilitySummary struct {
	PerSignal    map[string]bool      `json:"per_signal"`
	StalenessMs  map[Timeframe]int64  `json:"staleness_ms"`
	GatedSignals []string             `json:"gated_signals,omitempty"`
}

// MarketState is the primary pipeline output. It is immutable once
// assembled: consumers receive a fully-populated value and never a handle
// into mutable pipeline internals.
type MarketState struct {
	SchemaVersion    string                            `json:"schema_version"`
	ConfigVersion    int                               `json:"config_version"`
	Timestamp        int64                             `json:"timestamp"` // ms UTC, the as-of instant
	Symbol           string                            `json:"symbol"`
	PrimaryTimeframe Timeframe                         `json:"primary_timeframe"`
	Final            FinalDecision                     `json:"final"`
	Buckets          BucketSet                         `json:"buckets"`
	PerTimeframe     map[Timeframe]TimeframeAssessment `json:"per_timeframe"`
	Regime           RegimeAssessment                  `json:"regime"`
	Divergence       DivergenceAssessment              `json:"divergence"`
	Absorption       AbsorptionAssessment              `json:"absorption"`
	Reliability      ReliabilitySummary                `json:"reliability"`
}

// LabeledState augments a replayed MarketState with its graded outcome.
type LabeledState struct {
	MarketState
	OutcomeLabel   OutcomeLabel `json:"outcome_label"`
	OutcomeHorizon int64        `json:"outcome_horizon_ms"`
	OutcomeMovePct float64      `json:"outcome_move_pct"`
	MFE            float64      `json:"mfe"`
	MAE            float64      `json:"mae"`
	LabeledAt      int64        `json:"labeled_at"`
}
