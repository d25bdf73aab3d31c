// Package token mints and validates the opaque tokens that identify
// grants. A token is a lookup key with no embedded claims: revocation
// and expiry are enforced by the store, so nothing about the grant can
// be learned from the token itself.
package token

import (
	"crypto/rand"
	"encoding/base64"
)

// tokenBytes is the raw entropy per token. 24 bytes is 192 bits, well
// past the 128-bit floor for collision resistance.
const tokenBytes = 24

// Length is the encoded token length in characters.
const Length = 32 // base64url of 24 bytes, no padding

// Generate returns a new URL-safe token from the system CSPRNG.
func Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateShape reports whether s has the length and charset of a
// generated token. Callers use it to reject malformed input before any
// store lookup.
func ValidateShape(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
