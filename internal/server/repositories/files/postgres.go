package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

const nameConstraint = "files_user_id_name_key"

const selectColumns = `id, user_id, COALESCE(weight_id::text, ''), name, storage_key, dimensions, size, url,
		classification, accuracy, error_rate, created_at, updated_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
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

func scanFile(s scanner) (*models.File, error) {
	f := &models.File{}
	err := s.Scan(&f.ID, &f.UserID, &f.WeightID, &f.Name, &f.StorageKey, &f.Dimensions, &f.Size, &f.URL,
		&f.Classification, &f.Accuracy, &f.ErrorRate, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts file and fills its id and timestamps. The (user_id, name)
// unique constraint is authoritative: a violation returns common.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) (*models.File, error) {
	query := `
		INSERT INTO files (user_id, weight_id, name, storage_key, dimensions, size, url, classification, accuracy, error_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.UserID, nullable(file.WeightID), file.Name, file.StorageKey, file.Dimensions, file.Size, file.URL,
		file.Classification, file.Accuracy, file.ErrorRate).
		Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, nameConstraint) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	return f, nil
}

// FindByName returns the record userID already has for name.
func (r *PostgresRepository) FindByName(ctx context.Context, userID, name string) (*models.File, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM files WHERE user_id = $1 AND name = $2`, userID, name)
}

// GetOwned returns the record with id if it belongs to userID.
func (r *PostgresRepository) GetOwned(ctx context.Context, userID, id string) (*models.File, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM files WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	result := make([]*models.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) ListOwned(ctx context.Context, userID string) ([]*models.File, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM files WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

// ListByWeight returns every record analysed with weightID.
func (r *PostgresRepository) ListByWeight(ctx context.Context, weightID string) ([]*models.File, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM files WHERE weight_id = $1 ORDER BY created_at, id`, weightID)
}

// DeleteOwned removes one record. Exactly one row must be affected.
func (r *PostgresRepository) DeleteOwned(ctx context.Context, userID, id string) error {
	query := `DELETE FROM files WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch ra {
	case 1:
		return nil
	case 0:
		return common.ErrNotFound
	default:
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
}
