// Package auth covers the Google sign-in flow and the session tokens
// issued after it.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

const defaultSessionTTL = 24 * time.Hour

// TokenManager signs and verifies the HS256 session tokens kept in the
// frontend's cookie. The subject claim carries the local user id.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue mints a session token for the user.
func (m *TokenManager) Issue(userID int64, email, name string) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.New("session token secret is not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"jti":   uuid.NewString(),
		"sub":   strconv.FormatInt(userID, 10),
		"email": email,
		"name":  name,
		"iat":   now.Unix(),
		"exp":   now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the user id.
func (m *TokenManager) Verify(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// TTL reports the configured session lifetime, used to size the cookie.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}
