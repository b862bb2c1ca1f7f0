package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of a session token and of its cookie.
const TokenTTL = 7 * 24 * time.Hour

// Token parse failures. Both collapse to 401 at the HTTP edge; they are kept
// apart so callers and tests can tell why a token was refused.
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

var errEmptySecret = errors.New("token signing secret must not be empty")

// tokenClaims is the JWT payload: the identity plus iat/exp.
type tokenClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec issues and parses HS256 JWT session tokens signed with a single
// process-wide secret. Rotating the secret invalidates every token.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec returns a codec for secret. An empty secret is an error so a
// missing configuration can never produce unsigned-looking tokens.
func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	return &TokenCodec{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}, nil
}

// Issue signs a token for id, valid from now for TokenTTL.
func (c *TokenCodec) Issue(id Identity) (string, error) {
	now := c.now()
	claims := tokenClaims{
		UserID:   id.ID,
		Username: id.Username,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Parse verifies the signature over the received header.payload bytes, then
// the expiry, and returns the identity. It returns ErrInvalidToken for
// anything malformed, unsigned, signed with another algorithm or key, and
// ErrExpiredToken for a correctly signed token past its exp.
func (c *TokenCodec) Parse(token string) (Identity, error) {
	if !wellFormed(token) {
		return Identity{}, ErrInvalidToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrExpiredToken
	default:
		return Identity{}, ErrInvalidToken
	}

	if claims.UserID <= 0 {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		ID:       claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}

// wellFormed reports whether token has exactly three non-empty segments.
func wellFormed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
