package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Digest derives the login digest sent in place of the raw password:
// lowercase hex SHA-256 of password+salt. The salt is unique per
// installation, so precomputed tables built against one deployment are
// useless against another. An empty password maps to the empty string
// so the login call fails server-side rather than sending sha256(salt).
func Digest(password, salt string) string {
	if password == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// HashPassword bcrypt-hashes a login digest for storage
func HashPassword(digest string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(digest), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPasswordHash verifies a login digest against a stored bcrypt hash
func CheckPasswordHash(digest, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(digest)) == nil
}
