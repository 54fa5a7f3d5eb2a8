package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Token prefixes by kind, for recognizability in logs and secret scanners.
const (
	PersonalTokenPrefix = "tgpat-"
	OAuthTokenPrefix    = "tgoat-"
	FeedTokenPrefix     = "tgft-"
)

// GenerateRandomString returns n random bytes encoded as URL-safe base64.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("security: invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: random: %w", errRead)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateToken returns a new random token with the given prefix.
func GenerateToken(prefix string) (string, error) {
	body, errRandom := GenerateRandomString(24)
	if errRandom != nil {
		return "", errRandom
	}
	return prefix + body, nil
}

// DigestToken returns the hex SHA-256 digest stored for a token.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the leading characters of a token for listings.
func DisplayPrefix(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10]
}
