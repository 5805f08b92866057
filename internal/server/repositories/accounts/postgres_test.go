package accounts

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/lockout"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"user_id", "passcode_salt", "wrapped_dir_key", "wrapped_dir_key_iv",
	"failed_attempts", "locked_out", "retry_at", "prf_migrated"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

func TestGet_Found(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+user_id,.*FROM\s+accounts\s+WHERE\s+user_id\s*=\s*\$1$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", []byte("salt"), []byte("wrapped"), []byte("iv"), 4, true, int64(1234), false))

	acc, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", acc.UserID)
	assert.Equal(t, []byte("wrapped"), acc.WrappedDirKey)
	assert.Equal(t, lockout.State{FailedAttempts: 4, LockedOut: true, RetryAt: 1234}, acc.Lockout)
	assert.Equal(t, models.SchemePasscode, acc.Scheme().Tag())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+accounts\s+WHERE\s+user_id\s*=\s*\$1 FOR UPDATE$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", nil, nil, nil, 0, false, int64(0), true))

	acc, err := repo.GetForUpdate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SchemePRF, acc.Scheme().Tag())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+accounts`).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGet_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+accounts`).WithArgs("u1").WillReturnError(errors.New("db down"))

	_, err := repo.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db down")
}

func TestCreate(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+accounts`).
		WithArgs("u1", []byte("salt"), []byte("w"), []byte("iv")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Account{
		UserID: "u1", PasscodeSalt: []byte("salt"), WrappedDirKey: []byte("w"), WrappedDirKeyIV: []byte("iv"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.Account{UserID: "u1"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestSave_WritesAllColumns(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`(?s)UPDATE\s+accounts\s+SET`).
		WithArgs("u1", []byte(nil), []byte(nil), []byte(nil), 9, true, lockout.Permanent, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acc := &models.Account{UserID: "u1", Lockout: lockout.State{FailedAttempts: 9, LockedOut: true, RetryAt: lockout.Permanent}}
	require.NoError(t, repo.Save(context.Background(), acc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Missing(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+accounts`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), &models.Account{UserID: "u1"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
