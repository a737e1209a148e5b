package absorption

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfall/perpintel/internal/core"
)

// Querier is the slice of pgx the store needs; satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists absorption events in Postgres. The unique partial index
// on (symbol, timeframe, cvd_direction) WHERE resolved_at IS NULL enforces
// the single-open-event invariant; concurrent duplicate opens collapse to a
// no-op via ON CONFLICT DO NOTHING.
type PGStore struct {
	db Querier
}

// NewPGStore wraps a pgx pool.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

const openEventSQL = `
INSERT INTO absorption_events (
	id, symbol, timeframe, detected_at, cvd_direction, cvd_strength,
	cvd_noise_floor, oi_behavior, oi_at_detection, price_response,
	price_at_detection, location, sr_level_used, extensions_used
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0)
ON CONFLICT (symbol, timeframe, cvd_direction) WHERE resolved_at IS NULL
DO NOTHING`

func (s *PGStore) Open(ctx context.Context, e Event) (bool, error) {
	tag, err := s.db.Exec(ctx, openEventSQL,
		e.ID, e.Symbol, e.Timeframe, e.DetectedAt, e.CVDDirection, e.CVDStrength,
		e.CVDNoiseFloor, e.OIBehavior, e.OIAtDetection, e.PriceResponse,
		e.PriceAtDetection, e.Location, e.SRLevelUsed)
	if err != nil {
		return false, core.WrapError(core.KindFatal, err, "inserting absorption event")
	}
	return tag.RowsAffected() > 0, nil
}

const unresolvedSQL = `
SELECT id, symbol, timeframe, detected_at, cvd_direction, cvd_strength,
	cvd_noise_floor, oi_behavior, oi_at_detection, price_response,
	price_at_detection, location, sr_level_used, extensions_used
FROM absorption_events
WHERE symbol = $1 AND timeframe = $2 AND resolved_at IS NULL
ORDER BY detected_at`

func (s *PGStore) Unresolved(ctx context.Context, symbol string, tf core.Timeframe) ([]Event, error) {
	rows, err := s.db.Query(ctx, unresolvedSQL, symbol, tf)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "querying open absorption events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.Symbol, &e.Timeframe, &e.DetectedAt, &e.CVDDirection, &e.CVDStrength,
			&e.CVDNoiseFloor, &e.OIBehavior, &e.OIAtDetection, &e.PriceResponse,
			&e.PriceAtDetection, &e.Location, &e.SRLevelUsed, &e.ExtensionsUsed,
		); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning absorption event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const resolveSQL = `
UPDATE absorption_events
SET resolved_at = $2, resolution = $3, resolution_reason = $4, resolution_criteria = $5
WHERE id = $1 AND resolved_at IS NULL`

func (s *PGStore) Resolve(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, resolveSQL, e.ID, e.ResolvedAt, e.Resolution, e.ResolutionReason, e.ResolutionCriteria)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "resolving absorption event")
	}
	return nil
}

const markExtensionSQL = `
UPDATE absorption_events SET extensions_used = 1 WHERE id = $1 AND resolved_at IS NULL`

func (s *PGStore) MarkExtension(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, markExtensionSQL, id)
	if err != nil {
		return core.WrapError(core.KindFatal, err, "marking absorption extension")
	}
	return nil
}
