package files

import (
	"context"

	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// Repository persists FileRecords. Lookups of unknown IDs fail with
// common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, rec *models.FileRecord) error
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error)
	Delete(ctx context.Context, id string) error
}
