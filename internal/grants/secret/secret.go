// Package secret wraps slow password hashing for share-link passwords
// and user credentials, using Argon2id with PHC-formatted digests.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedDigest is returned by Verify when the stored digest is
// not a valid PHC string. A wrong password is never an error; a
// corrupt digest is a configuration fault the caller must surface.
var ErrMalformedDigest = errors.New("malformed password digest")

// Argon2id parameters (OWASP recommendation).
const (
	defaultTime    = 3
	defaultMemory  = 64 * 1024 // KiB
	defaultThreads = 4
	defaultKeyLen  = 32
	saltLen        = 16
)

// Verifier hashes and verifies secrets.
type Verifier struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// NewVerifier returns a Verifier with production parameters.
func NewVerifier() *Verifier {
	return &Verifier{
		time:    defaultTime,
		memory:  defaultMemory,
		threads: defaultThreads,
		keyLen:  defaultKeyLen,
	}
}

// NewVerifierFast returns a Verifier with reduced parameters for tests.
func NewVerifierFast() *Verifier {
	return &Verifier{
		time:    1,
		memory:  16 * 1024,
		threads: 2,
		keyLen:  32,
	}
}

// Hash derives an Argon2id digest of plaintext with a fresh salt.
// The result is a PHC string: $argon2id$v=19$m=...,t=...,p=...$salt$hash
func (v *Verifier) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plaintext), salt, v.time, v.memory, v.threads, v.keyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Key := base64.RawStdEncoding.EncodeToString(key)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, v.memory, v.time, v.threads, b64Salt, b64Key), nil
}

// Verify reports whether plaintext matches digest. A mismatch returns
// (false, nil); only a digest that cannot be parsed returns an error.
// The comparison is constant time in the digest length.
func (v *Verifier) Verify(plaintext, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrMalformedDigest
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, ErrMalformedDigest
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrMalformedDigest
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrMalformedDigest
	}

	// Recompute with the parameters recorded in the digest so old
	// hashes stay verifiable after a parameter bump.
	got := argon2.IDKey([]byte(plaintext), salt, time, memory, threads, uint32(len(want)))

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
