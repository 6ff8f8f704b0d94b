// Package files stores analysis records.
package files

import (
	"context"

	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

// Repository is owner-scoped except for the weight cascade helpers.
// Missing and foreign rows both yield common.ErrNotFound.
type Repository interface {
	// Create inserts a record; a duplicate (user, name) yields common.ErrConflict.
	Create(ctx context.Context, file *models.File) (*models.File, error)
	FindByName(ctx context.Context, userID, name string) (*models.File, error)
	GetOwned(ctx context.Context, userID, id string) (*models.File, error)
	// ListOwned returns the owner's records ordered by creation time, then id.
	ListOwned(ctx context.Context, userID string) ([]*models.File, error)
	DeleteOwned(ctx context.Context, userID, id string) error
	ListByWeight(ctx context.Context, weightID string) ([]*models.File, error)
}
