package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
)

// Repository persists device sessions.
type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	// Get returns common.ErrorNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*models.Session, error)
	// SetDeviceKey stores the device's v2 wrap and enables PRF on the session.
	SetDeviceKey(ctx context.Context, id, userID string, wrapped, iv []byte) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
