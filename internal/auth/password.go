package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewSalt returns a fresh random salt for a user
func NewSalt() string {
	return uuid.New().String()
}

// HashPassword hashes password with salt. The result is deterministic so it
// can be compared against the stored hash with a plain equality check.
func HashPassword(salt, password string) string {
	hasher := sha256.New()
	hasher.Write([]byte(salt + password))
	return hex.EncodeToString(hasher.Sum(nil))
}
