// Package session issues and verifies the signed dashboard session token.
//
// A token is two base64url segments joined by ".": a JSON payload
// {"iat","exp"} in Unix milliseconds, and the HS256 MAC of that segment.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrMalformed = errors.New("session: malformed token")
	ErrSignature = errors.New("session: signature mismatch")
	ErrExpired   = errors.New("session: token expired")
)

var encoding = base64.RawURLEncoding.Strict()

// Claims is the token payload.
type Claims struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Signer issues and verifies tokens with one HMAC key.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner creates a Signer. A non-positive ttl selects DefaultTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("session: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue returns a token valid from now until now+TTL.
func (s *Signer) Issue(now time.Time) (string, error) {
	payload, err := json.Marshal(Claims{
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	body := encoding.EncodeToString(payload)
	sig, err := jwt.SigningMethodHS256.Sign(body, s.key)
	if err != nil {
		return "", err
	}
	return body + "." + encoding.EncodeToString(sig), nil
}

// Parse verifies token at now and returns its claims. The token is valid
// strictly before its expiry; an expired token still yields its claims.
func (s *Signer) Parse(token string, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Claims{}, ErrMalformed
	}

	sig, err := encoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0], sig, s.key); err != nil {
		return Claims{}, ErrSignature
	}

	payload, err := encoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var raw struct {
		IssuedAt  *int64 `json:"iat"`
		ExpiresAt *int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || raw.IssuedAt == nil || raw.ExpiresAt == nil {
		return Claims{}, ErrMalformed
	}

	claims := Claims{IssuedAt: *raw.IssuedAt, ExpiresAt: *raw.ExpiresAt}
	if now.UnixMilli() >= claims.ExpiresAt {
		return claims, ErrExpired
	}
	return claims, nil
}

// Verify reports whether token is authentic and unexpired at now.
func (s *Signer) Verify(token string, now time.Time) bool {
	_, err := s.Parse(token, now)
	return err == nil
}
