package replay

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
)

func TestPGBatchStoreCreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := Batch{
		ID:            "batch-1",
		Symbol:        "BTCUSDT",
		StartMs:       hourMs,
		EndMs:         5 * hourMs,
		StepSize:      core.Timeframe1h,
		MaxSamples:    4,
		Horizon:       core.BucketMicro,
		ConfigVersion: 1,
		Status:        StatusPending,
		Total:         4,
		CreatedAt:     123,
		UpdatedAt:     123,
	}

	mock.ExpectExec("INSERT INTO replay_batches").
		WithArgs(b.ID, b.Symbol, b.StartMs, b.EndMs, b.StepSize, b.MaxSamples, false,
			b.Horizon, b.ConfigVersion, b.Status, b.Total, 0, 0, 0,
			0, []byte("null"), "", b.CreatedAt, b.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	failures := []byte(`[{"as_of_ms":7200000,"kind":"timeout","reason":"venue fetch timed out"}]`)
	rows := pgxmock.NewRows([]string{
		"id", "symbol", "start_ms", "end_ms", "step_size", "max_samples", "skip_duplicate_check",
		"horizon", "config_version", "status", "total", "processed", "completed", "skipped",
		"failed", "failures", "error", "created_at", "updated_at",
	}).AddRow(
		b.ID, b.Symbol, b.StartMs, b.EndMs, b.StepSize, b.MaxSamples, false,
		b.Horizon, b.ConfigVersion, StatusRunning, b.Total, 2, 1, 0,
		1, failures, "", b.CreatedAt, int64(456),
	)
	mock.ExpectQuery("FROM replay_batches WHERE id").
		WithArgs(b.ID).
		WillReturnRows(rows)

	store := NewPGBatchStore(mock)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, b))

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 2, got.Processed)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, core.KindTimeout, got.Failures[0].Kind)
	assert.Equal(t, int64(2*hourMs), got.Failures[0].AsOfMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGBatchStoreGetUnknownIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM replay_batches WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	store := NewPGBatchStore(mock)
	_, err = store.Get(context.Background(), "missing")
	assert.True(t, core.IsKind(err, core.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGBatchStoreUpdateWritesProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := Batch{
		ID: "batch-1", Status: StatusCompleted,
		Processed: 4, Completed: 3, Skipped: 1, Failed: 0,
		UpdatedAt: 789,
	}
	mock.ExpectExec("UPDATE replay_batches").
		WithArgs(b.ID, b.Status, b.Processed, b.Completed, b.Skipped, b.Failed,
			[]byte("null"), "", b.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewPGBatchStore(mock)
	require.NoError(t, store.Update(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGBatchStoreDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM replay_batches").
		WithArgs("batch-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	store := NewPGBatchStore(mock)
	require.NoError(t, store.Delete(context.Background(), "batch-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreSaveDenormalizesHeadline(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := StateRecord{
		ID:      "state-1",
		BatchID: "batch-1",
		LabeledState: core.LabeledState{
			MarketState: core.MarketState{
				Symbol:        "BTCUSDT",
				Timestamp:     2 * hourMs,
				ConfigVersion: 3,
				Final: core.FinalDecision{
					Bias:       core.BiasLong,
					Confidence: 7.5,
					Warnings:   []string{"funding stale"},
				},
				Regime:     core.RegimeAssessment{Label: core.RegimeHealthyBull},
				Divergence: core.DivergenceAssessment{Scenario: "A"},
			},
			OutcomeLabel: core.OutcomePending,
		},
	}

	mock.ExpectExec("INSERT INTO replay_states").
		WithArgs(rec.ID, rec.BatchID, rec.Timestamp, rec.Symbol, rec.ConfigVersion,
			core.BiasLong, 7.5, core.RegimeHealthyBull,
			core.DivergenceScenario("A"), false, []byte(`["funding stale"]`), pgxmock.AnyArg(),
			core.OutcomePending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPGStateStore(mock)
	require.NoError(t, store.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("BTCUSDT", 2*hourMs, 1).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewPGStateStore(mock)
	exists, err := store.Exists(context.Background(), "BTCUSDT", 2*hourMs, 1)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreByBatchDecodesFullState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	full := []byte(`{"schema_version":"1.0","symbol":"BTCUSDT","timestamp":7200000}`)
	horizon := int64(8 * hourMs)
	movePct := 0.42
	mfe := 0.8
	mae := 0.2
	labeledAt := int64(10 * hourMs)
	rows := pgxmock.NewRows([]string{
		"id", "batch_id", "full_state", "outcome_label", "outcome_horizon_ms",
		"outcome_move_pct", "mfe", "mae", "labeled_at",
	}).
		AddRow("state-1", "batch-1", full, core.OutcomeContinuation, &horizon, &movePct, &mfe, &mae, &labeledAt).
		AddRow("state-2", "batch-1", full, core.OutcomePending, (*int64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*int64)(nil))
	mock.ExpectQuery("FROM replay_states WHERE batch_id").
		WithArgs("batch-1").
		WillReturnRows(rows)

	store := NewPGStateStore(mock)
	got, err := store.ByBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, int64(2*hourMs), got[0].Timestamp)
	assert.Equal(t, core.OutcomeContinuation, got[0].OutcomeLabel)
	assert.Equal(t, horizon, got[0].OutcomeHorizon)
	assert.Equal(t, movePct, got[0].OutcomeMovePct)

	assert.Equal(t, core.OutcomePending, got[1].OutcomeLabel)
	assert.Zero(t, got[1].OutcomeHorizon)
	assert.Zero(t, got[1].LabeledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreLabeledWritesOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := StateRecord{
		ID: "state-1",
		LabeledState: core.LabeledState{
			OutcomeLabel:   core.OutcomeReversal,
			OutcomeHorizon: 8 * hourMs,
			OutcomeMovePct: -0.9,
			MFE:            0.1,
			MAE:            1.4,
			LabeledAt:      10 * hourMs,
		},
	}
	mock.ExpectExec("UPDATE replay_states").
		WithArgs(rec.ID, rec.OutcomeLabel, rec.OutcomeHorizon, rec.OutcomeMovePct,
			rec.MFE, rec.MAE, rec.LabeledAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewPGStateStore(mock)
	require.NoError(t, store.Labeled(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreAllLabeledFiltersBySymbol(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	full := []byte(`{"symbol":"ETHUSDT","timestamp":3600000}`)
	horizon := int64(8 * hourMs)
	movePct := 1.1
	mfe := 1.3
	mae := 0.4
	labeledAt := int64(12 * hourMs)
	rows := pgxmock.NewRows([]string{
		"id", "batch_id", "full_state", "outcome_label", "outcome_horizon_ms",
		"outcome_move_pct", "mfe", "mae", "labeled_at",
	}).AddRow("state-9", "batch-2", full, core.OutcomeContinuation, &horizon, &movePct, &mfe, &mae, &labeledAt)
	mock.ExpectQuery("FROM replay_states").
		WithArgs("ETHUSDT").
		WillReturnRows(rows)

	store := NewPGStateStore(mock)
	got, err := store.AllLabeled(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETHUSDT", got[0].Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStateStoreDeleteByBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM replay_states").
		WithArgs("batch-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	store := NewPGStateStore(mock)
	require.NoError(t, store.DeleteByBatch(context.Background(), "batch-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
