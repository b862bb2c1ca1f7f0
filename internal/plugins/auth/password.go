package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is the bcrypt work factor.
const passwordCost = 10

// maxPasswordBytes is bcrypt's input limit; longer passwords are rejected
// at registration instead of being silently truncated.
const maxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt. The stored hash
// embeds algorithm version, cost and salt, so verification needs nothing else.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using the default work factor.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: passwordCost}
}

// Hash returns a freshly salted bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed or corrupted
// hash is indistinguishable from a wrong password.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
