package uploads

import (
	"context"

	"github.com/dmitrijs2005/dirkeeper/internal/client/models"
)

type Repository interface {
	// Enqueue stores a pending upload. ID and CreatedAt are filled in when empty.
	Enqueue(ctx context.Context, u *models.Upload) error

	// Pending returns queued uploads, oldest first.
	Pending(ctx context.Context) ([]*models.Upload, error)

	// Attach records the object id of a pending upload whose bytes are
	// already stored, so a retry can recognise it in the listing.
	Attach(ctx context.Context, id, objectID string) error

	// MarkUploaded completes a pending upload and records its object id.
	MarkUploaded(ctx context.Context, id, objectID string) error

	// Delete drops an upload regardless of its status.
	Delete(ctx context.Context, id string) error
}
