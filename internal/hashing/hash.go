// Package hashing provides the short digest and opaque token primitives
// used throughout the auth server. None of this is a cryptographic KDF —
// per design, password hashing here is deliberately simple, with stronger
// derivation left to an integrator that wraps this server.
package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// ShortDigest returns the SHA-256 digest of input's UTF-8 bytes, base64url
// encoded with padding stripped. The result never contains '+', '/', or '='.
func ShortDigest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomToken returns an opaque bearer token: 32 cryptographically random
// bytes, hex-encoded, then passed through ShortDigest.
func RandomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken,
		// a condition this process cannot recover from.
		panic("hashing: crypto/rand unavailable: " + err.Error())
	}
	return ShortDigest(hex.EncodeToString(buf))
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) string {
	return ShortDigest(password)
}

// VerifyPassword reports whether password hashes to the given stored hash.
func VerifyPassword(password, hash string) bool {
	return ShortDigest(password) == hash
}
