// Package refreshtokens stores server-side refresh sessions.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

// Repository issues, looks up and revokes refresh tokens. Callers pass the
// opaque token; implementations persist only its digest.
type Repository interface {
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Find returns common.ErrNotFound for unknown tokens.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete returns common.ErrNotFound when the token was already gone, which
	// lets exactly one of two concurrent rotations win.
	Delete(ctx context.Context, token string) error

	DeleteByUser(ctx context.Context, userID string) error
}
