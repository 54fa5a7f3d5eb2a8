package models

import "time"

// TokenKind identifies how a token may be presented.
type TokenKind string

const (
	// TokenKindPersonal is a personal access or private token, accepted on API paths.
	TokenKindPersonal TokenKind = "personal"
	// TokenKindOAuth is an OAuth access token sent as a bearer token.
	TokenKindOAuth TokenKind = "oauth"
	// TokenKindFeed is a feed token, accepted only for Atom feeds.
	TokenKindFeed TokenKind = "feed"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindPersonal, TokenKindOAuth, TokenKindFeed:
		return true
	default:
		return false
	}
}

// AccessToken stores the digest of a user token. The plaintext is never persisted.
type AccessToken struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`        // Owning user.

	Name   string    `gorm:"type:text;not null"`             // Display name.
	Kind   TokenKind `gorm:"type:text;not null;index"`       // Token kind.
	Digest string    `gorm:"type:text;not null;uniqueIndex"` // Hex SHA-256 of the token.
	Prefix string    `gorm:"type:text"`                      // First characters, for display.

	ExpiresAt *time.Time // Optional expiry.
	RevokedAt *time.Time // Revocation timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Usable reports whether the token is neither revoked nor expired at now.
func (t *AccessToken) Usable(now time.Time) bool {
	if t == nil || t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}
