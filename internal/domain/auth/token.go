package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims is what a verified admin token carries.
type AdminClaims struct {
	SessionID string
	Username  string
	ExpiresAt time.Time
}

// AdminToken signs and verifies admin JWT tokens.
type AdminToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAdminToken builds a token helper using the provided secret.
func NewAdminToken(secretKey string) *AdminToken {
	return &AdminToken{
		secretKey: []byte(secretKey),
		ttl:       24 * time.Hour,
		now:       time.Now,
	}
}

// WithTTL allows customising the expiration duration.
func (at *AdminToken) WithTTL(ttl time.Duration) *AdminToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// TTL returns the configured lifetime.
func (at *AdminToken) TTL() time.Duration {
	return at.ttl
}

// Generate issues a JWT bound to an admin session.
func (at *AdminToken) Generate(sessionID, username string) (string, time.Time, error) {
	if at == nil {
		return "", time.Time{}, errors.New("admin token is nil")
	}
	if len(at.secretKey) == 0 {
		return "", time.Time{}, errors.New("admin token secret is empty")
	}

	now := at.now()
	expireTime := now.Add(at.ttl)
	claims := jwt.MapClaims{
		"session_id": sessionID,
		"username":   username,
		"exp":        expireTime.Unix(),
		"iat":        now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expireTime, nil
}

// Verify validates the JWT and extracts the session claims.
func (at *AdminToken) Verify(tokenString string) (AdminClaims, error) {
	if at == nil {
		return AdminClaims{}, errors.New("admin token is nil")
	}
	if len(at.secretKey) == 0 {
		return AdminClaims{}, errors.New("admin token secret is empty")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	}, jwt.WithTimeFunc(at.now), jwt.WithExpirationRequired())
	if err != nil {
		return AdminClaims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return AdminClaims{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AdminClaims{}, errors.New("invalid claims")
	}
	sessionID, ok := claims["session_id"].(string)
	if !ok || sessionID == "" {
		return AdminClaims{}, errors.New("invalid session_id claim")
	}
	username, _ := claims["username"].(string)

	out := AdminClaims{SessionID: sessionID, Username: username}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
