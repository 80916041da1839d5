package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Vault hashes and verifies user secrets with bcrypt. The salt is embedded
// in the returned hash; no separate salt storage exists.
type Vault struct {
	cost int
}

// NewVault creates a password vault with the given bcrypt cost factor.
// A non-positive cost selects the library default.
func NewVault(cost int) *Vault {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Vault{cost: cost}
}

// Hash produces a salted one-way hash of a password
func (v *Vault) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify recomputes and compares a password against a stored hash. A
// malformed or unparseable hash verifies as false; callers cannot
// distinguish format errors from mismatches.
func (v *Vault) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
