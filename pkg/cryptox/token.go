// Package cryptox wraps the small amount of cryptography the auth
// service needs: opaque token generation, secret hashing and key
// generation for the signing key set.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// DefaultTokenBytes is the entropy used for opaque tokens such as
	// refresh tokens, device codes and pushed request references.
	DefaultTokenBytes = 32
)

// GenerateToken returns a random base64url token with n bytes of
// entropy. The encoding is unpadded so tokens are URL safe.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustGenerateToken is GenerateToken for callers that cannot recover
// from an entropy failure.
func MustGenerateToken(n int) string {
	tok, err := GenerateToken(n)
	if err != nil {
		panic(err)
	}
	return tok
}

// FingerprintToken returns the SHA-256 fingerprint of an opaque token,
// base64url encoded. Stores persist the fingerprint rather than the
// token so a leaked database does not leak redeemable secrets.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
