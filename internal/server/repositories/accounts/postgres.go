// Package accounts provides a PostgreSQL-backed repository for account
// encryption records: the v1 wrapped directory key and the lockout counters.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/dbx"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const selectColumns = `SELECT user_id, passcode_salt, wrapped_dir_key, wrapped_dir_key_iv,
		failed_attempts, locked_out, retry_at, prf_migrated
		FROM accounts
		WHERE user_id = $1`

// PostgresRepository works over dbx.DBTX, so it can be bound to *sql.DB or *sql.Tx.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.Account, error) {
	return r.get(ctx, selectColumns, userID)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID string) (*models.Account, error) {
	return r.get(ctx, selectColumns+" FOR UPDATE", userID)
}

func (r *PostgresRepository) get(ctx context.Context, query, userID string) (*models.Account, error) {
	acc := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&acc.UserID, &acc.PasscodeSalt, &acc.WrappedDirKey, &acc.WrappedDirKeyIV,
		&acc.Lockout.FailedAttempts, &acc.Lockout.LockedOut, &acc.Lockout.RetryAt, &acc.PRFMigrated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}

func (r *PostgresRepository) Create(ctx context.Context, acc *models.Account) error {
	query := `
		INSERT INTO accounts (user_id, passcode_salt, wrapped_dir_key, wrapped_dir_key_iv)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, acc.UserID, acc.PasscodeSalt, acc.WrappedDirKey, acc.WrappedDirKeyIV)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, acc *models.Account) error {
	query := `
		UPDATE accounts
		SET passcode_salt = $2, wrapped_dir_key = $3, wrapped_dir_key_iv = $4,
			failed_attempts = $5, locked_out = $6, retry_at = $7, prf_migrated = $8,
			updated_at = now()
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, acc.UserID,
		acc.PasscodeSalt, acc.WrappedDirKey, acc.WrappedDirKeyIV,
		acc.Lockout.FailedAttempts, acc.Lockout.LockedOut, acc.Lockout.RetryAt, acc.PRFMigrated)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
