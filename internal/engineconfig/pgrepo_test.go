package engineconfig

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGRepositorySaveVersionIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	payload := []byte(`{"version":2}`)
	mock.ExpectExec("INSERT INTO config_versions").
		WithArgs(2, payload, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO config_versions").
		WithArgs(2, payload, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewPGRepository(mock)
	require.NoError(t, repo.SaveVersion(context.Background(), 2, payload))
	require.NoError(t, repo.SaveVersion(context.Background(), 2, payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepositoryLoadVersions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"version", "payload"}).
		AddRow(1, []byte(`{"version":1}`)).
		AddRow(2, []byte(`{"version":2}`))
	mock.ExpectQuery("SELECT version, payload FROM config_versions").
		WillReturnRows(rows)

	repo := NewPGRepository(mock)
	versions, err := repo.LoadVersions(context.Background())
	require.NoError(t, err)

	require.Len(t, versions, 2)
	assert.JSONEq(t, `{"version":1}`, string(versions[1]))
	assert.JSONEq(t, `{"version":2}`, string(versions[2]))
	assert.NoError(t, mock.ExpectationsWereMet())
}
