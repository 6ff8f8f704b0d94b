// Package users declares and implements the account repository.
package users

import (
	"context"

	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

// Repository persists accounts. Lookups return common.ErrNotFound when no
// row matches; writes hitting the username or email unique constraint
// return an error matching common.ErrConflict.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, userName, email string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfileImage(ctx context.Context, id, url string) error
}
