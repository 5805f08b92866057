package accounts

import (
	"context"

	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
)

// Repository persists per-account encryption records.
type Repository interface {
	// Get returns common.ErrorNotFound when the account was never provisioned.
	Get(ctx context.Context, userID string) (*models.Account, error)
	// GetForUpdate is Get with a row lock. It must run inside a transaction.
	GetForUpdate(ctx context.Context, userID string) (*models.Account, error)
	Create(ctx context.Context, acc *models.Account) error
	// Save writes back every mutable column of acc.
	Save(ctx context.Context, acc *models.Account) error
}
