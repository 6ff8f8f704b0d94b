package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
)

const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// ErrUserNameTaken and ErrEmailTaken tell the two unique constraints apart.
// Both match common.ErrConflict.
var (
	ErrUserNameTaken = fmt.Errorf("username is already taken: %w", common.ErrConflict)
	ErrEmailTaken    = fmt.Errorf("email is already taken: %w", common.ErrConflict)
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func mapWriteError(err error) error {
	switch {
	case dbx.IsUniqueViolation(err, usernameConstraint):
		return ErrUserNameTaken
	case dbx.IsUniqueViolation(err, emailConstraint):
		return ErrEmailTaken
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (username, email, password_hash)
         VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.UserName, user.Email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return nil, mapWriteError(err)
	}

	return user, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query :=
		`SELECT id, username, email, password_hash, COALESCE(profile_image_url, ''), created_at, updated_at
		 FROM users WHERE ` + where

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.UserName, &user.Email,
		&user.PasswordHash, &user.ProfileImageURL, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByEmail matches case-insensitively; emails are stored lower-cased.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = lower($1)", email)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, userName, email string) error {
	return r.exec(ctx,
		`UPDATE users SET username = $2, email = $3, updated_at = now() WHERE id = $1`,
		id, userName, email)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
}

func (r *PostgresRepository) UpdateProfileImage(ctx context.Context, id, url string) error {
	return r.exec(ctx,
		`UPDATE users SET profile_image_url = $2, updated_at = now() WHERE id = $1`,
		id, url)
}
