package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	a := DeriveSessionKey("alice@example.com", "conv-1")
	b := DeriveSessionKey("alice@example.com", "conv-1")
	assert.Equal(t, a, b)
	assert.Len(t, a.String(), 64)
}

func TestDeriveSessionKey_DistinctIdentitiesNeverCollide(t *testing.T) {
	conversations := []string{"", "1", "123", "shared", "alice@example.com", "a:b", "conv-1"}
	identities := []string{"alice@example.com", "bob@example.com", "alice@example.co", "Alice@example.com", ""}

	for _, conv := range conversations {
		seen := make(map[SessionKey]string)
		for _, id := range identities {
			key := DeriveSessionKey(id, conv)
			if other, dup := seen[key]; dup {
				t.Fatalf("identities %q and %q collide on conversation %q", other, id, conv)
			}
			seen[key] = id
		}
	}
}

func TestDeriveSessionKey_ConcatenationAmbiguity(t *testing.T) {
	// A naive "identity:conversation" join would make these equal.
	k1 := DeriveSessionKey("alice", "x:y")
	k2 := DeriveSessionKey("alice:x", "y")
	assert.NotEqual(t, k1, k2)
}

func TestAuthorizedIdentity_SessionKey(t *testing.T) {
	alice := AuthorizedIdentity{Subject: "alice@example.com"}
	mallory := AuthorizedIdentity{Subject: "mallory@example.com"}
	assert.NotEqual(t, alice.SessionKey("123"), mallory.SessionKey("123"))
	assert.Equal(t, DeriveSessionKey("alice@example.com", "123"), alice.SessionKey("123"))
}
