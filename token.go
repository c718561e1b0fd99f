package contentdrop

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// InvalidTokenPattern matches any character that cannot appear in a key.
var InvalidTokenPattern = regexp.MustCompile(`[^a-zA-Z0-9]`)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TokenGenerator produces opaque keys for new uploads from a
// cryptographically strong random source. It is safe for concurrent
// use. Uniqueness is not checked here; the store's exclusive-create
// catches collisions.
type TokenGenerator struct {
	length int
}

// NewTokenGenerator creates a generator for keys of the given length.
// Lengths below 2 are rejected.
func NewTokenGenerator(length int) (*TokenGenerator, error) {
	if length < 2 {
		return nil, fmt.Errorf("token length must be at least 2, got %d", length)
	}
	return &TokenGenerator{length: length}, nil
}

// Length returns the length of generated keys.
func (g *TokenGenerator) Length() int {
	return g.length
}

// Generate returns a fresh key drawn uniformly from the 62-character
// alphanumeric alphabet.
func (g *TokenGenerator) Generate() string {
	// 248 is the largest multiple of 62 below 256; rejecting bytes at or
	// above it keeps the modulo draw uniform.
	const limit = 248

	token := make([]byte, 0, g.length)
	buf := make([]byte, g.length)
	for len(token) < g.length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("contentdrop: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == g.length {
				break
			}
		}
	}
	return string(token)
}
