package session

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordChecker compares login attempts against a bcrypt hash.
type PasswordChecker struct {
	hash []byte
}

// NewPasswordChecker uses hash when set, otherwise hashes plain with cost
// (bcrypt.DefaultCost when cost <= 0).
func NewPasswordChecker(plain, hash string, cost int) (*PasswordChecker, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		return &PasswordChecker{hash: []byte(hash)}, nil
	}
	if plain == "" {
		return nil, errors.New("no dashboard password configured")
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &PasswordChecker{hash: h}, nil
}

// Check reports whether candidate matches the configured password.
func (p *PasswordChecker) Check(candidate string) bool {
	if candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(p.hash, []byte(candidate)) == nil
}
