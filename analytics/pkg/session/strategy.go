package session

import (
	"encoding/base64"
	"time"
)

// Credentials are what a request presented: the session cookie value and
// the bearer token from the Authorization header. Either may be empty.
type Credentials struct {
	Cookie string
	Bearer string
}

// Strategy is one way of accepting credentials.
type Strategy interface {
	Name() string
	Verify(c Credentials, now time.Time) bool
}

// TokenStrategy accepts a signed session token in the cookie or as bearer.
type TokenStrategy struct {
	Signer *Signer
}

func (TokenStrategy) Name() string { return "token" }

func (s TokenStrategy) Verify(c Credentials, now time.Time) bool {
	if c.Cookie != "" && s.Signer.Verify(c.Cookie, now) {
		return true
	}
	return c.Bearer != "" && s.Signer.Verify(c.Bearer, now)
}

// LegacyStrategy accepts the pre-token credentials: a cookie holding the
// base64 password, or the password itself as bearer. It stops accepting
// anything at Sunset; a zero Sunset never expires.
//
// TODO: drop LegacyStrategy once every deployment has passed its sunset date.
type LegacyStrategy struct {
	Passwords *PasswordChecker
	Sunset    time.Time
}

func (LegacyStrategy) Name() string { return "legacy" }

// Active reports whether legacy credentials are still accepted at now.
func (s LegacyStrategy) Active(now time.Time) bool {
	return s.Sunset.IsZero() || now.Before(s.Sunset)
}

func (s LegacyStrategy) Verify(c Credentials, now time.Time) bool {
	if !s.Active(now) {
		return false
	}
	if c.Cookie != "" {
		if pw, err := base64.StdEncoding.DecodeString(c.Cookie); err == nil && s.Passwords.Check(string(pw)) {
			return true
		}
	}
	return c.Bearer != "" && s.Passwords.Check(c.Bearer)
}

// Chain tries strategies in order.
type Chain []Strategy

// Authenticate returns the name of the first strategy that accepts c.
func (ch Chain) Authenticate(c Credentials, now time.Time) (string, bool) {
	if c.Cookie == "" && c.Bearer == "" {
		return "", false
	}
	for _, s := range ch {
		if s.Verify(c, now) {
			return s.Name(), true
		}
	}
	return "", false
}

// NewChain builds the verification chain: signed tokens first, then legacy
// credentials when legacy is enabled.
func NewChain(signer *Signer, passwords *PasswordChecker, legacy bool, sunset time.Time) Chain {
	chain := Chain{TokenStrategy{Signer: signer}}
	if legacy {
		chain = append(chain, LegacyStrategy{Passwords: passwords, Sunset: sunset})
	}
	return chain
}
