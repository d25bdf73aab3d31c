package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	v := NewVerifierFast()

	digest, err := v.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$") {
		t.Errorf("digest is not PHC formatted: %q", digest)
	}

	ok, err := v.Verify("correct horse battery staple", digest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("correct password did not verify")
	}

	ok, err = v.Verify("wrong password", digest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("wrong password verified")
	}
}

func TestHashSaltsUniquely(t *testing.T) {
	v := NewVerifierFast()

	d1, err := v.Hash("same input")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := v.Hash("same input")
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Error("two hashes of the same input are identical; salt is not fresh")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	v := NewVerifierFast()

	tests := []string{
		"",
		"not a digest",
		"$argon2i$v=19$m=16384,t=1,p=2$AAAA$BBBB",
		"$argon2id$v=19$m=16384,t=1,p=2$!!notbase64!!$BBBB",
		"$argon2id$garbage",
	}

	for _, digest := range tests {
		_, err := v.Verify("password", digest)
		if !errors.Is(err, ErrMalformedDigest) {
			t.Errorf("Verify(%q) error = %v, want ErrMalformedDigest", digest, err)
		}
	}
}

func TestVerifyAcrossParameterChange(t *testing.T) {
	// A digest hashed with one parameter set must verify under a
	// verifier configured differently, because the parameters are
	// recorded in the digest.
	fast := NewVerifierFast()
	digest, err := fast.Hash("portable")
	if err != nil {
		t.Fatal(err)
	}

	prod := NewVerifier()
	ok, err := prod.Verify("portable", digest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("digest did not verify under different verifier parameters")
	}
}
