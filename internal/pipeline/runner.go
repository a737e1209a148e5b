package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

// Runner composes fetch and assembly into the single analysis operation the
// API and replay layers call.
type Runner struct {
	fetcher *Fetcher
	asm     *Assembler
	logger  zerolog.Logger
}

// NewRunner wires a fetcher and assembler.
func NewRunner(fetcher *Fetcher, asm *Assembler, logger zerolog.Logger) *Runner {
	return &Runner{fetcher: fetcher, asm: asm, logger: logger.With().Str("component", "runner").Logger()}
}

// Run produces the market state for a symbol as of asOfMs. A zero asOfMs
// means now. The config is captured by value, so a concurrent config update
// cannot change parameters mid-run.
func (r *Runner) Run(ctx context.Context, symbol string, asOfMs int64, cfg engineconfig.PipelineConfig) (core.MarketState, error) {
	if asOfMs == 0 {
		asOfMs = time.Now().UnixMilli()
	}

	started := time.Now()
	snap, err := r.fetcher.Fetch(ctx, symbol, asOfMs, cfg)
	if err != nil {
		return core.MarketState{}, err
	}
	state, err := r.asm.Assemble(ctx, snap, cfg)
	if err != nil {
		return core.MarketState{}, err
	}

	r.logger.Info().
		Str("symbol", symbol).
		Int64("as_of_ms", asOfMs).
		Str("bias", string(state.Final.Bias)).
		Float64("confidence", state.Final.Confidence).
		Str("regime", string(state.Regime.Label)).
		Dur("elapsed", time.Since(started)).
		Msg("analysis cycle complete")
	return state, nil
}
