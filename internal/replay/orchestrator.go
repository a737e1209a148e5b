package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/metrics"
	"github.com/quantfall/perpintel/internal/timeframe"
)

// consecutiveFatalLimit aborts a batch when this many unrecoverable sample
// failures occur back to back.
const consecutiveFatalLimit = 5

// Runner produces one market state for one as-of instant.
type Runner interface {
	Run(ctx context.Context, symbol string, asOfMs int64, cfg engineconfig.PipelineConfig) (core.MarketState, error)
}

// Request describes a batch to start.
type Request struct {
	Symbol             string         `json:"symbol"`
	StartMs            int64          `json:"start_ms"`
	EndMs              int64          `json:"end_ms"`
	StepSize           core.Timeframe `json:"step_size"`
	MaxSamples         int            `json:"max_samples"`
	SkipDuplicateCheck bool           `json:"skip_duplicate_check"`
	Horizon            core.Bucket    `json:"horizon"`
}

// Orchestrator runs replay batches. Each batch runs on its own goroutine;
// pause and cancel are cooperative, checked between samples.
type Orchestrator struct {
	runner  Runner
	batches BatchStore
	states  StateStore
	configs *engineconfig.Store
	logger  zerolog.Logger

	mu       sync.Mutex
	controls map[string]*control
}

type control struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
	cancel context.CancelFunc
}

func (c *control) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *control) unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
		c.resume = make(chan struct{})
	}
}

func (c *control) pauseState() (bool, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, c.resume
}

// NewOrchestrator wires a pipeline runner to the replay stores.
func NewOrchestrator(runner Runner, batches BatchStore, states StateStore, configs *engineconfig.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		runner:   runner,
		batches:  batches,
		states:   states,
		configs:  configs,
		logger:   logger.With().Str("component", "replay").Logger(),
		controls: make(map[string]*control),
	}
}

// SampleTimes produces the deterministic, strictly increasing, step-aligned
// as-of timestamps for a request.
func SampleTimes(startMs, endMs int64, step core.Timeframe, maxSamples int) ([]int64, error) {
	if !StepSizes[step] {
		return nil, core.NewError(core.KindValidationFailure, "step size %s not in {30m, 1h, 4h}", step)
	}
	if endMs <= startMs {
		return nil, core.NewError(core.KindValidationFailure, "end %d not after start %d", endMs, startMs)
	}
	if maxSamples <= 0 || maxSamples > MaxSamplesCap {
		maxSamples = MaxSamplesCap
	}

	first, err := timeframe.AlignStartToBoundary(step, startMs)
	if err != nil {
		return nil, err
	}
	stepMs := timeframe.MustIntervalMs(step)
	if first < startMs {
		first += stepMs
	}

	var out []int64
	for ts := first; ts <= endMs && len(out) < maxSamples; ts += stepMs {
		out = append(out, ts)
	}
	if len(out) == 0 {
		return nil, core.NewError(core.KindValidationFailure,
			"no %s boundaries inside [%d, %d]", step, startMs, endMs)
	}
	return out, nil
}

// Single replays one instant synchronously and returns the state without
// persisting anything.
func (o *Orchestrator) Single(ctx context.Context, symbol string, asOfMs int64) (core.MarketState, error) {
	return o.runner.Run(ctx, symbol, asOfMs, o.configs.Active())
}

// Start validates a request, persists the batch as PENDING, and launches the
// run goroutine. The active config version is captured here: every sample of
// the batch runs under it even if the config changes mid-batch.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Batch, error) {
	if req.Symbol == "" {
		return Batch{}, core.NewError(core.KindValidationFailure, "symbol is required")
	}
	times, err := SampleTimes(req.StartMs, req.EndMs, req.StepSize, req.MaxSamples)
	if err != nil {
		return Batch{}, err
	}
	if req.Horizon == "" {
		req.Horizon = core.BucketMicro
	}

	now := time.Now().UnixMilli()
	b := Batch{
		ID:                 uuid.NewString(),
		Symbol:             req.Symbol,
		StartMs:            req.StartMs,
		EndMs:              req.EndMs,
		StepSize:           req.StepSize,
		MaxSamples:         len(times),
		SkipDuplicateCheck: req.SkipDuplicateCheck,
		Horizon:            req.Horizon,
		ConfigVersion:      o.configs.ActiveVersion(),
		Status:             StatusPending,
		Total:              len(times),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := o.batches.Create(ctx, b); err != nil {
		return Batch{}, err
	}

	o.launch(b, times)
	return b, nil
}

func (o *Orchestrator) launch(b Batch, times []int64) {
	runCtx, cancel := context.WithCancel(context.Background())
	ctrl := &control{resume: make(chan struct{}), cancel: cancel}

	o.mu.Lock()
	o.controls[b.ID] = ctrl
	o.mu.Unlock()

	metrics.ReplayBatchesActive.Inc()
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.controls, b.ID)
			o.mu.Unlock()
			cancel()
			metrics.ReplayBatchesActive.Dec()
		}()
		o.run(runCtx, b, times, ctrl)
	}()
}

// Status returns the batch row.
func (o *Orchestrator) Status(ctx context.Context, id string) (Batch, error) {
	return o.batches.Get(ctx, id)
}

// Results lists the persisted states of a batch.
func (o *Orchestrator) Results(ctx context.Context, id string) ([]StateRecord, error) {
	if _, err := o.batches.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.states.ByBatch(ctx, id)
}

// Pause requests a cooperative pause. The batch transitions to PAUSED once
// the in-flight sample finishes.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	b, err := o.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusRunning && b.Status != StatusPending {
		return core.NewError(core.KindValidationFailure, "batch %s is %s, not pausable", id, b.Status)
	}

	o.mu.Lock()
	ctrl, ok := o.controls[id]
	o.mu.Unlock()
	if !ok {
		return core.NewError(core.KindNotFound, "batch %s has no active runner", id)
	}
	ctrl.pause()
	return nil
}

// Resume continues a paused batch from its next unprocessed timestamp. When
// the original runner goroutine is gone (service restart), a new one is
// launched from the persisted cursor.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	b, err := o.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusPaused {
		return core.NewError(core.KindValidationFailure, "batch %s is %s, not resumable", id, b.Status)
	}

	o.mu.Lock()
	ctrl, ok := o.controls[id]
	o.mu.Unlock()
	if ok {
		ctrl.unpause()
		return nil
	}

	times, err := SampleTimes(b.StartMs, b.EndMs, b.StepSize, b.MaxSamples)
	if err != nil {
		return err
	}
	o.launch(b, times)
	return nil
}

// Delete cancels a batch if it is running and removes its rows.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if _, err := o.batches.Get(ctx, id); err != nil {
		return err
	}

	o.mu.Lock()
	ctrl, ok := o.controls[id]
	o.mu.Unlock()
	if ok {
		ctrl.cancel()
	}

	if err := o.states.DeleteByBatch(ctx, id); err != nil {
		return err
	}
	return o.batches.Delete(ctx, id)
}

func (o *Orchestrator) run(ctx context.Context, b Batch, times []int64, ctrl *control) {
	cfg, err := o.configs.GetVersion(b.ConfigVersion)
	if err != nil {
		o.fail(ctx, &b, fmt.Sprintf("config version %d unavailable: %v", b.ConfigVersion, err))
		return
	}

	b.Status = StatusRunning
	o.save(ctx, &b)

	consecutiveFatal := 0
	for b.Processed < len(times) {
		if paused, resume := ctrl.pauseState(); paused {
			b.Status = StatusPaused
			o.save(ctx, &b)
			o.logger.Info().Str("batch", b.ID).Int("processed", b.Processed).Msg("replay batch paused")
			select {
			case <-resume:
				b.Status = StatusRunning
				o.save(ctx, &b)
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		ts := times[b.Processed]
		b.Processed++

		if !b.SkipDuplicateCheck {
			exists, err := o.states.Exists(ctx, b.Symbol, ts, b.ConfigVersion)
			if err != nil {
				o.fail(ctx, &b, fmt.Sprintf("duplicate check failed: %v", err))
				return
			}
			if exists {
				b.Skipped++
				metrics.RecordReplaySample("skipped")
				o.save(ctx, &b)
				continue
			}
		}

		state, err := o.runner.Run(ctx, b.Symbol, ts, cfg)
		if err != nil {
			b.Failed++
			metrics.RecordReplaySample("failed")
			b.Failures = append(b.Failures, SampleFailure{AsOfMs: ts, Kind: core.KindOf(err), Reason: err.Error()})
			if core.Recoverable(err) {
				consecutiveFatal = 0
			} else {
				consecutiveFatal++
				if consecutiveFatal >= consecutiveFatalLimit {
					o.fail(ctx, &b, fmt.Sprintf("%d consecutive fatal samples, last: %v", consecutiveFatal, err))
					return
				}
			}
			o.save(ctx, &b)
			continue
		}
		consecutiveFatal = 0

		rec := StateRecord{
			ID:      uuid.NewString(),
			BatchID: b.ID,
			LabeledState: core.LabeledState{
				MarketState:  state,
				OutcomeLabel: core.OutcomePending,
			},
		}
		if err := o.states.Save(ctx, rec); err != nil {
			o.fail(ctx, &b, fmt.Sprintf("persisting state at %d: %v", ts, err))
			return
		}
		b.Completed++
		metrics.RecordReplaySample("completed")
		o.save(ctx, &b)
	}

	b.Status = StatusCompleted
	o.save(ctx, &b)
	o.logger.Info().
		Str("batch", b.ID).
		Int("completed", b.Completed).
		Int("skipped", b.Skipped).
		Int("failed", b.Failed).
		Msg("replay batch completed")
}

func (o *Orchestrator) fail(ctx context.Context, b *Batch, reason string) {
	b.Status = StatusFailed
	b.Error = reason
	o.save(ctx, b)
	o.logger.Error().Str("batch", b.ID).Str("reason", reason).Msg("replay batch failed")
}

func (o *Orchestrator) save(ctx context.Context, b *Batch) {
	b.UpdatedAt = time.Now().UnixMilli()
	if err := o.batches.Update(ctx, *b); err != nil {
		o.logger.Error().Err(err).Str("batch", b.ID).Msg("persisting batch progress failed")
	}
}
