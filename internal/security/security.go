// Package security covers admin authentication: JWT session tokens,
// admin password verification, and proxy key generation.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	errEmptySecret  = errors.New("jwt secret is empty")
	errInvalidToken = errors.New("invalid token")
)

// Claims is the admin session token payload.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an admin session token valid for the given ttl.
func IssueToken(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errEmptySecret
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates an admin session token and returns its claims.
func ParseToken(secret, raw string) (*Claims, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// CheckPassword verifies a candidate against the configured admin
// password. Values with a bcrypt prefix are compared as hashes,
// anything else as plaintext in constant time.
func CheckPassword(configured, candidate string) bool {
	if configured == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(candidate)) == 1
}

// GenerateProxyKey returns a new random proxy key: 32 bytes of
// entropy, url-safe base64, prefixed for recognizability.
func GenerateProxyKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate proxy key: %w", err)
	}
	return "pk-" + base64.RawURLEncoding.EncodeToString(buf), nil
}
