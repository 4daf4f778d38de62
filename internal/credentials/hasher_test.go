package credentials

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherProducesSaltedHashes(t *testing.T) {
	hasher, err := NewHasher(bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := hasher.Hash("Secret123!")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := hasher.Hash("Secret123!")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salts for repeated hashing")
	}
	if strings.Contains(first, "Secret123!") {
		t.Fatalf("hash must not contain the plaintext")
	}

	for _, hash := range []string{first, second} {
		matches, err := hasher.Matches(hash, "Secret123!")
		if err != nil || !matches {
			t.Fatalf("expected hash to match original password, matches=%v err=%v", matches, err)
		}
	}
	matches, err := hasher.Matches(first, "secret123!")
	if err != nil {
		t.Fatalf("mismatch should not be an error: %v", err)
	}
	if matches {
		t.Fatalf("expected case-changed password to be rejected")
	}
}

func TestHasherRejectsWeakCost(t *testing.T) {
	if _, err := NewHasher(bcrypt.MinCost); err == nil {
		t.Fatalf("expected error for cost below the default")
	}
	hasher, err := NewHasher(0)
	if err != nil {
		t.Fatalf("zero cost should select the default: %v", err)
	}
	if hasher.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost %d, got %d", DefaultBcryptCost, hasher.cost)
	}
}

func TestHasherReportsMalformedHash(t *testing.T) {
	hasher, err := NewHasher(bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := hasher.Matches("not-a-bcrypt-hash", "Secret123!"); err == nil {
		t.Fatalf("expected malformed hash to surface an error")
	}
}
