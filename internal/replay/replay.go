// Package replay reruns the analysis pipeline over historical timestamps and
// grades the resulting states against realized prices. Every sample obeys the
// same no-lookahead cutoff as live runs; a replayed state at time T is
// byte-equal to the state a live run at T would have produced under the same
// config version.
package replay

import (
	"context"

	"github.com/quantfall/perpintel/internal/core"
)

// BatchStatus is the replay batch lifecycle state.
type BatchStatus string

const (
	StatusPending   BatchStatus = "PENDING"
	StatusRunning   BatchStatus = "RUNNING"
	StatusPaused    BatchStatus = "PAUSED"
	StatusCompleted BatchStatus = "COMPLETED"
	StatusFailed    BatchStatus = "FAILED"
)

// MaxSamplesCap bounds any single batch regardless of the requested range.
const MaxSamplesCap = 200

// StepSizes are the intervals a batch may step by.
var StepSizes = map[core.Timeframe]bool{
	core.Timeframe30m: true,
	core.Timeframe1h:  true,
	core.Timeframe4h:  true,
}

// SampleFailure records one sample that could not produce a state.
type SampleFailure struct {
	AsOfMs int64          `json:"as_of_ms"`
	Kind   core.ErrorKind `json:"kind"`
	Reason string         `json:"reason"`
}

// Batch is one replay job. Sample timestamps are not stored: they are a
// deterministic function of (StartMs, EndMs, StepSize, MaxSamples), so
// Processed alone is enough to resume.
type Batch struct {
	ID                 string         `json:"id"`
	Symbol             string         `json:"symbol"`
	StartMs            int64          `json:"start_ms"`
	EndMs              int64          `json:"end_ms"`
	StepSize           core.Timeframe `json:"step_size"`
	MaxSamples         int            `json:"max_samples"`
	SkipDuplicateCheck bool           `json:"skip_duplicate_check"`
	Horizon            core.Bucket    `json:"horizon"`
	ConfigVersion      int            `json:"config_version"`

	Status    BatchStatus     `json:"status"`
	Total     int             `json:"total"`
	Processed int             `json:"processed"`
	Completed int             `json:"completed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Failures  []SampleFailure `json:"failures,omitempty"`
	Error     string          `json:"error,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// StateRecord is one persisted replay state.
type StateRecord struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id"`
	core.LabeledState
}

// BatchStore persists batch rows.
type BatchStore interface {
	Create(ctx context.Context, b Batch) error
	Get(ctx context.Context, id string) (Batch, error)
	Update(ctx context.Context, b Batch) error
	Delete(ctx context.Context, id string) error
}

// StateStore persists replayed states and their outcome labels.
type StateStore interface {
	Save(ctx context.Context, rec StateRecord) error
	// Exists reports whether any batch already holds a state for
	// (symbol, asOfMs, configVersion).
	Exists(ctx context.Context, symbol string, asOfMs int64, configVersion int) (bool, error)
	ByBatch(ctx context.Context, batchID string) ([]StateRecord, error)
	// Labeled writes the outcome fields of an existing record.
	Labeled(ctx context.Context, rec StateRecord) error
	DeleteByBatch(ctx context.Context, batchID string) error
	// AllLabeled lists every record with a terminal outcome label, for the
	// scoreboard.
	AllLabeled(ctx context.Context, symbol string) ([]StateRecord, error)
}
