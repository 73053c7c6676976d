package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// TokenBytes is the entropy of a session or reset token.
	TokenBytes    = 32
	minTokenBytes = 16
)

// TokenPair is a bearer token and the digest kasal stores in its place.
type TokenPair struct {
	Token string
	Hash  string
}

// GenerateHashedToken returns a fresh TokenBytes token and its digest.
func GenerateHashedToken() (*TokenPair, error) {
	return GenerateHashedTokenSize(TokenBytes)
}

// GenerateHashedTokenSize is GenerateHashedToken with size random bytes.
func GenerateHashedTokenSize(size int) (*TokenPair, error) {
	if size < minTokenBytes {
		return nil, fmt.Errorf("token size %d is below %d bytes", size, minTokenBytes)
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	return &TokenPair{Token: token, Hash: HashToken(token)}, nil
}

// HashToken returns the hex SHA-256 of token, the key sessions and reset
// tokens are stored under. Tokens are random so no salt is needed.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
