package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a session token (256 bits).
const tokenBytes = 32

// NewToken generates an opaque bearer token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenHash returns the SHA-256 fingerprint under which a token is
// persisted. The raw token never reaches the store or the logs.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenFingerprint is a short, log-safe prefix of the token hash.
func TokenFingerprint(token string) string {
	return TokenHash(token)[:12]
}
