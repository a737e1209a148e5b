package engineconfig

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfall/perpintel/internal/core"
)

// Querier is the slice of pgx the repository needs; satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository persists config versions in Postgres. Versions are
// immutable once written; re-saving an existing version is a no-op so a
// crash between the in-memory swap and the write can be retried safely.
type PGRepository struct {
	db Querier
}

// NewPGRepository wraps a pgx pool.
func NewPGRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

const saveVersionSQL = `
INSERT INTO config_versions (version, payload, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (version) DO NOTHING`

func (r *PGRepository) SaveVersion(ctx context.Context, version int, payload []byte) error {
	_, err := r.db.Exec(ctx, saveVersionSQL, version, payload, time.Now().UnixMilli())
	if err != nil {
		return core.WrapError(core.KindFatal, err, "saving config version %d", version)
	}
	return nil
}

const loadVersionsSQL = `SELECT version, payload FROM config_versions ORDER BY version`

func (r *PGRepository) LoadVersions(ctx context.Context) (map[int][]byte, error) {
	rows, err := r.db.Query(ctx, loadVersionsSQL)
	if err != nil {
		return nil, core.WrapError(core.KindFatal, err, "loading config versions")
	}
	defer rows.Close()

	out := make(map[int][]byte)
	for rows.Next() {
		var version int
		var payload []byte
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, core.WrapError(core.KindFatal, err, "scanning config version")
		}
		out[version] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindFatal, err, "reading config versions")
	}
	return out, nil
}
