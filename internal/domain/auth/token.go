// Package auth issues and validates bearer tokens: short-lived HS512 JWT
// access tokens plus opaque, persisted refresh tokens rotated on every use.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chocomarket/backend/internal/domain/user"
)

const (
	tokenIssuer     = "chocomarket"
	tokenAudience   = "chocomarket-users"
	accessTokenTTL  = 2 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned when a token fails signature, claim, or
// lifetime validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenManager signs and verifies access tokens and mints refresh tokens.
type TokenManager struct {
	key []byte
	now func() time.Time
}

// NewTokenManager creates a TokenManager with the given HMAC signing key.
func NewTokenManager(key []byte) (*TokenManager, error) {
	if len(key) < 32 {
		return nil, errors.New("token key must be at least 32 bytes")
	}
	return &TokenManager{key: key, now: time.Now}, nil
}

// Access issues a signed HS512 access token for the user.
func (m *TokenManager) Access(u *user.User) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			ID:        uuid.New().String(),
		},
		Email: u.Email,
		Role:  u.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.key)
	if err != nil {
		return "", errors.Wrap(err, "sign access token")
	}
	return signed, nil
}

// Verify parses and validates an access token, returning its claims.
// No clock skew leeway is applied.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.key, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// UserID extracts the subject user ID from the claims.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// NewRefreshToken mints an opaque 64-byte random token, base64 encoded.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
