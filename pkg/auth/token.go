package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenLength is the number of random bytes in a reset token (256 bits).
const TokenLength = 32

// TokenGenerator generates reset tokens and the digests stored for them.
type TokenGenerator struct {
	random io.Reader
}

// NewTokenGenerator creates a generator reading from crypto/rand.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{random: rand.Reader}
}

// NewTokenGeneratorFrom creates a generator reading from r.
func NewTokenGeneratorFrom(r io.Reader) *TokenGenerator {
	return &TokenGenerator{random: r}
}

// GenerateToken returns a hex encoded token and the digest to persist.
// The plaintext is returned once and never stored.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := io.ReadFull(tg.random, randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = hex.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidTokenFormat reports whether token looks like a generated token.
// Malformed tokens are rejected without touching the store.
func ValidTokenFormat(token string) bool {
	if len(token) != TokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
