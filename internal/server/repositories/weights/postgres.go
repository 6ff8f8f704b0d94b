package weights

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

const apiKeyConstraint = "weights_user_id_api_key_key"

const selectColumns = `id, user_id, workspace, project, api_key, version, model_type, kind, storage_key, created_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWeight(s scanner) (*models.Weight, error) {
	w := &models.Weight{}
	err := s.Scan(&w.ID, &w.UserID, &w.Workspace, &w.Project, &w.APIKey, &w.Version,
		&w.ModelType, &w.Kind, &w.StorageKey, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Create inserts w and fills its id and timestamps. A second registration of
// the same api key by the same owner returns common.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, w *models.Weight) (*models.Weight, error) {
	query := `
		INSERT INTO weights (user_id, workspace, project, api_key, version, model_type, kind, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		w.UserID, w.Workspace, w.Project, w.APIKey, w.Version, w.ModelType, w.Kind, w.StorageKey).
		Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, apiKeyConstraint) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}

// ExistsByAPIKey reports whether userID already registered apiKey.
func (r *PostgresRepository) ExistsByAPIKey(ctx context.Context, userID, apiKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM weights WHERE user_id = $1 AND api_key = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, apiKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// GetOwned returns the weight with id if it belongs to userID.
func (r *PostgresRepository) GetOwned(ctx context.Context, userID, id string) (*models.Weight, error) {
	query := `SELECT ` + selectColumns + ` FROM weights WHERE id = $1 AND user_id = $2`

	w, err := scanWeight(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}

// ListOwned returns the weights of userID, oldest first.
func (r *PostgresRepository) ListOwned(ctx context.Context, userID string) ([]*models.Weight, error) {
	query := `SELECT ` + selectColumns + ` FROM weights WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select weights: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Weight, 0)
	for rows.Next() {
		w, err := scanWeight(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteOwned removes the weight row. Referencing files must already be gone.
func (r *PostgresRepository) DeleteOwned(ctx context.Context, userID, id string) error {
	query := `DELETE FROM weights WHERE id = $1 AND user_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete weight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
