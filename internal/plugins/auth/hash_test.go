package auth

import (
	"strings"
	"testing"
)

// testArgon2Params keep hashing fast in tests.
var testArgon2Params = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	h := NewArgon2Hasher(testArgon2Params)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("unexpected hash format: %s", hash)
	}
	if !h.Verify("correct horse", hash) {
		t.Error("expected matching secret to verify")
	}
	if h.Verify("wrong horse", hash) {
		t.Error("expected wrong secret to fail")
	}
}

func TestArgon2Hasher_SaltsDiffer(t *testing.T) {
	h := NewArgon2Hasher(testArgon2Params)
	a, _ := h.Hash("123456")
	b, _ := h.Hash("123456")
	if a == b {
		t.Error("expected distinct salts to give distinct hashes")
	}
}

func TestArgon2Hasher_VerifyUsesStoredParams(t *testing.T) {
	hash, _ := NewArgon2Hasher(testArgon2Params).Hash("secret")
	other := NewArgon2Hasher(Argon2Params{Time: 2, Memory: 2048, Threads: 2, KeyLen: 32, SaltLen: 16})
	if !other.Verify("secret", hash) {
		t.Error("expected verification with parameters read from the hash")
	}
}

func TestArgon2Hasher_RejectsMalformed(t *testing.T) {
	h := NewArgon2Hasher(testArgon2Params)
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
	} {
		if h.Verify("secret", encoded) {
			t.Errorf("expected %q to be rejected", encoded)
		}
	}
}
