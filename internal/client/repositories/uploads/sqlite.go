package uploads

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/client/models"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, u *models.Upload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Status = models.UploadPending

	query := `INSERT INTO uploads (id, folder, name, mime, local_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Folder, u.Name, u.MIME, u.LocalPath, u.Status, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue upload: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]*models.Upload, error) {
	query := `SELECT id, folder, name, mime, local_path, status, object_id, created_at
		FROM uploads WHERE status = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, models.UploadPending)
	if err != nil {
		return nil, fmt.Errorf("error selecting uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.Upload
	for rows.Next() {
		u := &models.Upload{}
		if err := rows.Scan(&u.ID, &u.Folder, &u.Name, &u.MIME, &u.LocalPath, &u.Status, &u.ObjectID, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Attach(ctx context.Context, id, objectID string) error {
	query := `UPDATE uploads SET object_id = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query, objectID, id, models.UploadPending)
	if err != nil {
		return fmt.Errorf("failed to attach object: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) MarkUploaded(ctx context.Context, id, objectID string) error {
	query := `UPDATE uploads SET status = ?, object_id = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query, models.UploadCompleted, objectID, id, models.UploadPending)
	if err != nil {
		return fmt.Errorf("failed to mark upload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}
