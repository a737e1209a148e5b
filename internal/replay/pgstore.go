package replay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfall/perpintel/internal/core"
)

// Querier is the slice of pgx the stores need; satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGBatchStore persists replay batches.
type PGBatchStore struct {
	db Querier
}

// NewPGBatchStore wraps a pgx pool.
func NewPGBatchStore(db Querier) *PGBatchStore {
	return &PGBatchStore{db: db}
}

const createBatchSQL = `
INSERT INTO replay_batches (
	id, symbol, start_ms, end_ms, step_size, max_samples, skip_duplicate_check,
	horizon, config_version, status, total, processed, completed, skipped,
	failed, failures, error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

func (s *PGBatchStore) Create(ctx context.Context, b Batch) error {
	failures, err := json.Marshal(b.Failures)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "encoding batch failures")
	}
	_, err = s.db.Exec(ctx, createBatchSQL,
		b.ID, b.Symbol, b.StartMs, b.EndMs, b.StepSize, b.MaxSamples, b.SkipDuplicateCheck,
		b.Horizon, b.ConfigVersion, b.Status, b.Total, b.Processed, b.Completed, b.Skipped,
		b.Failed, failures, b.Error, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "inserting replay batch")
	}
	return nil
}

const getBatchSQL = `
SELECT id, symbol, start_ms, end_ms, step_size, max_samples, skip_duplicate_check,
	horizon, config_version, status, total, processed, completed, skipped,
	failed, failures, error, created_at, updated_at
FROM replay_batches WHERE id = $1`

func (s *PGBatchStore) Get(ctx context.Context, id string) (Batch, error) {
	var b Batch
	var failures []byte
	err := s.db.QueryRow(ctx, getBatchSQL, id).Scan(
		&b.ID, &b.Symbol, &b.StartMs, &b.EndMs, &b.StepSize, &b.MaxSamples, &b.SkipDuplicateCheck,
		&b.Horizon, &b.ConfigVersion, &b.Status, &b.Total, &b.Processed, &b.Completed, &b.Skipped,
		&b.Failed, &failures, &b.Error, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, core.NewError(core.KindNotFound, "replay batch %s not found", id)
	}
	if err != nil {
		return Batch{}, core.WrapError(core.KindFatal, err, "loading replay batch")
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &b.Failures); err != nil {
			return Batch{}, core.WrapError(core.KindFatal, err, "decoding batch failures")
		}
	}
	return b, nil
}

const updateBatchSQL = `
UPDATE replay_batches
SET status = $2, processed = $3, completed = $4, skipped = $5, failed = $6,
	failures = $7, error = $8, updated_at = $9
WHERE id = $1`

func (s *PGBatchStore) Update(ctx context.Context, b Batch) error {
	failures, err := json.Marshal(b.Failures)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "encoding batch failures")
	}
	_, err = s.db.Exec(ctx, updateBatchSQL,
		b.ID, b.Status, b.Processed, b.Completed, b.Skipped, b.Failed,
		failures, b.Error, b.UpdatedAt)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "updating replay batch")
	}
	return nil
}

func (s *PGBatchStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM replay_batches WHERE id = $1`, id)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "deleting replay batch")
	}
	return nil
}

// PGStateStore persists replayed states. The unique (batch_id, as_of_ms)
// index keeps a batch from double-writing a timestamp; the dedupe query
// spans batches on (symbol, as_of_ms, config_version).
type PGStateStore struct {
	db Querier
}

// NewPGStateStore wraps a pgx pool.
func NewPGStateStore(db Querier) *PGStateStore {
	return &PGStateStore{db: db}
}

const saveStateSQL = `
INSERT INTO replay_states (
	id, batch_id, as_of_ms, symbol, config_version, bias, confidence, regime,
	scenario, macro_anchored, warnings, full_state, outcome_label, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

func (s *PGStateStore) Save(ctx context.Context, rec StateRecord) error {
	full, err := json.Marshal(rec.MarketState)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "encoding market state")
	}
	warnings, err := json.Marshal(rec.Final.Warnings)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "encoding warnings")
	}
	_, err = s.db.Exec(ctx, saveStateSQL,
		rec.ID, rec.BatchID, rec.Timestamp, rec.Symbol, rec.ConfigVersion,
		rec.Final.Bias, rec.Final.Confidence, rec.Regime.Label,
		rec.Divergence.Scenario, rec.Final.MacroAnchored, warnings, full,
		rec.OutcomeLabel, time.Now().UnixMilli())
	if err != nil {
		return core.WrapError(core.KindFatal, err, "inserting replay state")
	}
	return nil
}

const existsStateSQL = `
SELECT EXISTS (
	SELECT 1 FROM replay_states
	WHERE symbol = $1 AND as_of_ms = $2 AND config_version = $3
)`

func (s *PGStateStore) Exists(ctx context.Context, symbol string, asOfMs int64, configVersion int) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, existsStateSQL, symbol, asOfMs, configVersion).Scan(&exists); err != nil {
		return false, core.WrapError(core.KindFatal, err, "checking replay state existence")
	}
	return exists, nil
}

const byBatchSQL = `
SELECT id, batch_id, full_state, outcome_label, outcome_horizon_ms,
	outcome_move_pct, mfe, mae, labeled_at
FROM replay_states WHERE batch_id = $1 ORDER BY as_of_ms`

func (s *PGStateStore) ByBatch(ctx context.Context, batchID string) ([]StateRecord, error) {
	rows, err := s.db.Query(ctx, byBatchSQL, batchID)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying replay states")
	}
	defer rows.Close()
	return scanRecords(rows)
}

const labeledSQL = `
UPDATE replay_states
SET outcome_label = $2, outcome_horizon_ms = $3, outcome_move_pct = $4,
	mfe = $5, mae = $6, labeled_at = $7
WHERE id = $1`

func (s *PGStateStore) Labeled(ctx context.Context, rec StateRecord) error {
	_, err := s.db.Exec(ctx, labeledSQL,
		rec.ID, rec.OutcomeLabel, rec.OutcomeHorizon, rec.OutcomeMovePct,
		rec.MFE, rec.MAE, rec.LabeledAt)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "updating replay state label")
	}
	return nil
}

func (s *PGStateStore) DeleteByBatch(ctx context.Context, batchID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM replay_states WHERE batch_id = $1`, batchID)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "deleting replay states")
	}
	return nil
}

const allLabeledSQL = `
SELECT id, batch_id, full_state, outcome_label, outcome_horizon_ms,
	outcome_move_pct, mfe, mae, labeled_at
FROM replay_states
WHERE outcome_label <> 'PENDING' AND ($1 = '' OR symbol = $1)
ORDER BY as_of_ms`

func (s *PGStateStore) AllLabeled(ctx context.Context, symbol string) ([]StateRecord, error) {
	rows, err := s.db.Query(ctx, allLabeledSQL, symbol)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying labeled replay states")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]StateRecord, error) {
	var out []StateRecord
	for rows.Next() {
		var rec StateRecord
		var full []byte
		var horizon *int64
		var movePct, mfe, mae *float64
		var labeledAt *int64
		if err := rows.Scan(&rec.ID, &rec.BatchID, &full, &rec.OutcomeLabel,
			&horizon, &movePct, &mfe, &mae, &labeledAt); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning replay state")
		}
		if err := json.Unmarshal(full, &rec.MarketState); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "decoding market state")
		}
		if horizon != nil {
			rec.OutcomeHorizon = *horizon
		}
		if movePct != nil {
			rec.OutcomeMovePct = *movePct
		}
		if mfe != nil {
			rec.MFE = *mfe
		}
		if mae != nil {
			rec.MAE = *mae
		}
		if labeledAt != nil {
			rec.LabeledAt = *labeledAt
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
