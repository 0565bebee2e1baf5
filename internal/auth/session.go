// Package auth models sessions explicitly: a Session is issued at sign-in,
// carried into every operation that needs a user identity, and expires on
// its own. No ambient process-wide auth state.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrSessionExpired = errors.New("auth: session expired")
)

// Session identifies an authenticated user for the lifetime of a token.
type Session struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the session is usable at time now.
func (s Session) Valid(now time.Time) bool {
	return s.UserID != "" && now.Before(s.ExpiresAt)
}

// Manager issues and verifies session tokens with an HS256 secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: non-positive session ttl")
	}
	return &Manager{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a session and its signed token for userID.
func (m *Manager) Issue(userID string, now time.Time) (Session, string, error) {
	if strings.TrimSpace(userID) == "" {
		return Session{}, "", errors.New("auth: empty user id")
	}
	sess := Session{
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign token: %w", err)
	}
	return sess, token, nil
}

// Verify parses a token back into a Session.
func (m *Manager) Verify(token string, now time.Time) (Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrSessionExpired
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Session{}, ErrInvalidToken
	}

	sess := Session{UserID: claims.Subject}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	if !sess.Valid(now) {
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}
