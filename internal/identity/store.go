package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/models"
	"github.com/router-for-me/throttlegate/internal/security"
)

var (
	// ErrInvalidCredentials is returned for unknown users or wrong passwords.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUnknownTokenKind rejects token kinds outside models.TokenKind.
	ErrUnknownTokenKind = errors.New("identity: unknown token kind")
)

// Store looks up users and their tokens.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewStore constructs a Store. A nil clock uses the wall clock.
func NewStore(db *gorm.DB, c clock.Clock) *Store {
	return &Store{db: db, clock: clock.OrSystem(c)}
}

// UserForToken returns the owner of a usable token of one of kinds, or nil.
func (s *Store) UserForToken(ctx context.Context, token string, kinds ...models.TokenKind) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(kinds) == 0 {
		return nil, nil
	}
	var row models.AccessToken
	errFind := s.db.WithContext(ctx).
		Preload("User").
		Where("digest = ? AND kind IN ?", security.DigestToken(token), kinds).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: lookup token: %w", errFind)
	}
	if !row.Usable(s.clock.Now()) || !row.User.CanSignIn() {
		return nil, nil
	}
	return row.User, nil
}

// UserByID returns an active user by id, or nil.
func (s *Store) UserByID(ctx context.Context, id uint64) (*models.User, error) {
	if id == 0 {
		return nil, nil
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: lookup user: %w", errFind)
	}
	if !user.CanSignIn() {
		return nil, nil
	}
	return &user, nil
}

// Authenticate checks a username and password.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("identity: lookup user: %w", errFind)
	}
	if !user.CanSignIn() || !security.CheckPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateUser inserts a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password string, admin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("identity: missing username")
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return nil, fmt.Errorf("identity: hash password: %w", errHash)
	}
	now := s.clock.Now()
	user := models.User{
		Username:  username,
		Password:  hash,
		Admin:     admin,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return nil, fmt.Errorf("identity: create user: %w", errCreate)
	}
	return &user, nil
}

// CreateToken issues a token for userID and returns its plaintext once.
func (s *Store) CreateToken(ctx context.Context, userID uint64, name string, kind models.TokenKind, expiresAt *time.Time) (string, *models.AccessToken, error) {
	prefix, ok := tokenPrefixes[kind]
	if !ok {
		return "", nil, ErrUnknownTokenKind
	}
	token, errGenerate := security.GenerateToken(prefix)
	if errGenerate != nil {
		return "", nil, errGenerate
	}
	now := s.clock.Now()
	row := models.AccessToken{
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Kind:      kind,
		Digest:    security.DigestToken(token),
		Prefix:    security.DisplayPrefix(token),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return "", nil, fmt.Errorf("identity: create token: %w", errCreate)
	}
	return token, &row, nil
}

// ListTokens returns the tokens of userID, newest first.
func (s *Store) ListTokens(ctx context.Context, userID uint64) ([]models.AccessToken, error) {
	var rows []models.AccessToken
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("identity: list tokens: %w", errFind)
	}
	return rows, nil
}

// RevokeToken revokes a live token. It reports false when nothing was revoked.
func (s *Store) RevokeToken(ctx context.Context, id uint64) (bool, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"revoked_at": &now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("identity: revoke token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

var tokenPrefixes = map[models.TokenKind]string{
	models.TokenKindPersonal: security.PersonalTokenPrefix,
	models.TokenKindOAuth:    security.OAuthTokenPrefix,
	models.TokenKindFeed:     security.FeedTokenPrefix,
}
