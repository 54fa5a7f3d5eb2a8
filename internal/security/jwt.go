package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "throttlegate"

// Token audiences.
const (
	AudienceSession = "session"
	AudienceAdmin   = "admin"
)

var (
	// ErrMissingSecret indicates the JWT secret is not configured.
	ErrMissingSecret = errors.New("security: missing jwt secret")
	// ErrInvalidToken indicates a malformed, expired or mis-signed token.
	ErrInvalidToken = errors.New("security: invalid token")
)

// Claims identifies the user a session or admin token was issued to.
type Claims struct {
	UserID   uint64 `json:"uid"`
	Username string `json:"username"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the audience.
func IssueToken(secret, audience string, userID uint64, username string, admin bool, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	claims := Claims{
		UserID:   userID,
		Username: username,
		Admin:    admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatUint(userID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseToken verifies a token for the audience as of now.
func ParseToken(secret, audience, token string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	claims := &Claims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if errParse != nil || !parsed.Valid {
		return nil, errors.Join(ErrInvalidToken, errParse)
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAdminToken verifies an admin bearer token.
func ParseAdminToken(secret, token string, now time.Time) (*Claims, error) {
	claims, errParse := ParseToken(secret, AudienceAdmin, token, now)
	if errParse != nil {
		return nil, errParse
	}
	if !claims.Admin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
