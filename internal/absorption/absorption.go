// Package absorption tracks two-phase absorption events: strong one-sided
// delta flow that price refuses to follow. Detection opens a persistent
// event; resolution grades it candles later as a trap, genuine
// accumulation/distribution, or noise. An event that is merely detecting
// never moves bias or confidence.
package absorption

import (
	"context"

	"github.com/quantfall/perpintel/internal/core"
)

// Event is one absorption episode, persisted across pipeline cycles.
type Event struct {
	ID                 string                    `json:"id"`
	Symbol             string                    `json:"symbol"`
	Timeframe          core.Timeframe            `json:"timeframe"`
	DetectedAt         int64                     `json:"detected_at"` // ms UTC
	CVDDirection       core.CVDDirection         `json:"cvd_direction"`
	CVDStrength        float64                   `json:"cvd_strength"`
	CVDNoiseFloor      float64                   `json:"cvd_noise_floor"`
	OIBehavior         string                    `json:"oi_behavior"`
	OIAtDetection      float64                   `json:"oi_at_detection"`
	PriceResponse      string                    `json:"price_response"` // flat | opposite
	PriceAtDetection   float64                   `json:"price_at_detection"`
	Location           core.PriceLocation        `json:"location"`
	SRLevelUsed        float64                   `json:"sr_level_used"`
	ResolvedAt         int64                     `json:"resolved_at,omitempty"`
	Resolution         core.AbsorptionResolution `json:"resolution,omitempty"`
	ResolutionReason   string                    `json:"resolution_reason,omitempty"`
	ResolutionCriteria []string                  `json:"resolution_criteria,omitempty"`
	ExtensionsUsed     int                       `json:"extensions_used"`
}

// Resolved reports whether the event reached a terminal state.
func (e Event) Resolved() bool {
	return e.Resolution != ""
}

// BiasImplication is the directional read of a resolved event. A trap
// punishes the absorbed side; accumulation and distribution confirm it.
func (e Event) BiasImplication() core.Bias {
	switch e.Resolution {
	case core.ResolutionTrap:
		if e.CVDDirection == core.CVDBuying {
			return core.BiasShort
		}
		return core.BiasLong
	case core.ResolutionAccumulation:
		return core.BiasLong
	case core.ResolutionDistribution:
		return core.BiasShort
	}
	return core.BiasWait
}

// Store persists absorption events. The open-event uniqueness constraint on
// (symbol, timeframe, cvdDirection) lives in the storage layer: a duplicate
// open insert is a benign no-op.
type Store interface {
	// Open inserts a new DETECTING event. Returns false when an unresolved
	// event already holds the (symbol, timeframe, direction) slot.
	Open(ctx context.Context, e Event) (bool, error)
	// Unresolved lists open events for one symbol and timeframe.
	Unresolved(ctx context.Context, symbol string, tf core.Timeframe) ([]Event, error)
	// Resolve writes the terminal state of an event.
	Resolve(ctx context.Context, e Event) error
	// MarkExtension records that the event's resolution window was extended.
	MarkExtension(ctx context.Context, id string) error
}
