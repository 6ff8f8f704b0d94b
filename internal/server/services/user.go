// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login, issuing/refreshing JWTs
// plus server-stored refresh tokens, and profile maintenance.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/auth"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/imaging"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/users"
	"github.com/dmitrijs2005/lscinspector/internal/server/storage"
)

const (
	minPasswordLen = 3
	minUserNameLen = 6
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	TokenPair
	UserName string `json:"username"`
	Email    string `json:"email"`
}

// UserService provides account operations:
// - Register: create users
// - Login: verify credentials and mint tokens
// - RefreshToken: rotate refresh tokens and mint new access tokens
// - Me, UpdateProfile, ChangePassword, ChangeProfileImage
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	store                        storage.Store
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	maxUploadBytes               int64
	hashCost                     int
	log                          logging.Logger

	dummyOnce sync.Once
	dummy     []byte
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, store storage.Store,
	cfg *config.Config, log logging.Logger) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		store:                        store,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		maxUploadBytes:               cfg.MaxUploadBytes,
		hashCost:                     bcrypt.DefaultCost,
		log:                          log.With("module", "users"),
	}
}

func validateUserName(name string) error {
	if len(name) < minUserNameLen {
		return common.Validation(fmt.Sprintf("username must be at least %d characters", minUserNameLen))
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return common.Validation("username must be alphanumeric")
		}
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", common.Validation("invalid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return common.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	return nil
}

func mapAccountConflict(err error) error {
	switch {
	case errors.Is(err, users.ErrUserNameTaken):
		return common.Conflict("username is already taken", nil)
	case errors.Is(err, users.ErrEmailTaken):
		return common.Conflict("email is already taken", nil)
	case errors.Is(err, common.ErrNotFound):
		return common.NotFound("user not found")
	}
	return common.Persistence("save user", err)
}

// Register creates a new user. The stored password is a bcrypt hash.
func (s *UserService) Register(ctx context.Context, userName, email, password string) (*models.Profile, error) {
	userName = strings.TrimSpace(userName)
	if err := validateUserName(userName); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		UserName:     userName,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, mapAccountConflict(err)
	}
	s.log.Info(ctx, "user registered", "user_id", u.ID)
	return u.Profile(), nil
}

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
func (s *UserService) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.hashCost)
	})
	return s.dummy
}

// Login verifies the email and password and, on success, returns a new
// token pair. Unknown emails and wrong passwords fail identically.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
			return nil, common.Unauthorized("invalid email or password")
		}
		return nil, common.Persistence("load user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, common.Unauthorized("invalid email or password")
	}

	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, UserName: user.UserName, Email: user.Email}, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, common.Validation("refresh token is required")
	}
	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.Unauthorized("invalid refresh token")
		}
		return nil, common.Persistence("find refresh token", err)
	}
	if token.Expires.Before(time.Now()) {
		return nil, &common.Error{Kind: common.ErrUnauthorized, Message: "refresh token expired", Err: common.ErrRefreshTokenExpired}
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.Unauthorized("invalid refresh token")
			}
			return common.Persistence("delete refresh token", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Me returns the caller's profile.
func (s *UserService) Me(ctx context.Context, userID string) (*models.Profile, error) {
	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("user not found")
		}
		return nil, common.Persistence("load user", err)
	}
	return u.Profile(), nil
}

// UpdateProfile changes the username and email. Uniqueness is enforced by
// the database and excludes the caller's own row.
func (s *UserService) UpdateProfile(ctx context.Context, userID, userName, email string) (*models.Profile, error) {
	userName = strings.TrimSpace(userName)
	if err := validateUserName(userName); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Users(s.db).UpdateProfile(ctx, userID, userName, email); err != nil {
		return nil, mapAccountConflict(err)
	}
	return s.Me(ctx, userID)
}

// ChangePassword replaces the password after checking the current one and
// revokes every refresh token of the user.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NotFound("user not found")
		}
		return common.Persistence("load user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return common.Unauthorized("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, userID, string(hash)); err != nil {
			return common.Persistence("update password", err)
		}
		if err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, userID); err != nil {
			return common.Persistence("revoke refresh tokens", err)
		}
		return nil
	})
}

// ChangeProfileImage stores a new avatar and points the profile at it.
// Earlier avatars are removed afterwards; failures there are only logged.
func (s *UserService) ChangeProfileImage(ctx context.Context, userID string, data []byte, fileName string) (*models.Profile, error) {
	if len(data) == 0 {
		return nil, common.Validation("no file uploaded")
	}
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return nil, common.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxUploadBytes))
	}
	name, err := SanitizeImageName(fileName)
	if err != nil {
		return nil, err
	}
	if _, _, err := imaging.Decode(data); err != nil {
		return nil, err
	}

	prefix, err := common.RandomPrefix()
	if err != nil {
		return nil, err
	}
	dir := storage.ProfilesPrefix + userID + "/"
	key := dir + prefix + name
	url, err := s.store.Put(ctx, key, data)
	if err != nil {
		return nil, err
	}

	if err := s.repomanager.Users(s.db).UpdateProfileImage(ctx, userID, url); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), key)
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("user not found")
		}
		return nil, common.Persistence("update profile image", err)
	}

	s.removeStaleImages(ctx, dir, key)
	return s.Me(ctx, userID)
}

func (s *UserService) removeStaleImages(ctx context.Context, dir, keep string) {
	keys, err := s.store.List(ctx, dir)
	if err != nil {
		s.log.Warn(ctx, "list profile images failed", "prefix", dir, "error", err)
		return
	}
	for _, k := range keys {
		if k == keep {
			continue
		}
		if err := s.store.Delete(ctx, k); err != nil {
			s.log.Warn(ctx, "delete stale profile image failed", "key", k, "error", err)
		}
	}
}

// --- helpers below ---

func (s *UserService) generateAccessToken(userID string) (string, error) {
	return auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
}

func (s *UserService) generateRefreshToken() (string, error) {
	return common.MakeRandHexString(32)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := s.generateAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.Persistence("save refresh token", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
