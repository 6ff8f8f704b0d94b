// Package weights stores the models registered by users.
package weights

import (
	"context"

	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

// Repository is owner-scoped: a row owned by someone else behaves exactly
// like a missing one (common.ErrNotFound).
type Repository interface {
	Create(ctx context.Context, w *models.Weight) (*models.Weight, error)
	ExistsByAPIKey(ctx context.Context, userID, apiKey string) (bool, error)
	GetOwned(ctx context.Context, userID, id string) (*models.Weight, error)
	ListOwned(ctx context.Context, userID string) ([]*models.Weight, error)
	DeleteOwned(ctx context.Context, userID, id string) error
}
