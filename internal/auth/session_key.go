package auth

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// SessionKey is the storage key for one identity's conversation.
type SessionKey string

func (k SessionKey) String() string { return string(k) }

// sessionDomainKey separates session keys from any other keyed hash.
// ASCII of the domain name, zero-padded to 32 bytes.
var sessionDomainKey = [32]byte{
	'g', 'u', 'a', 'r', 'd', '-', 'g', 'a', 't', 'e', 'w', 'a', 'y', '.', 's', 'e',
	's', 's', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DeriveSessionKey hashes the server-asserted identity together with the
// client-chosen conversation id. Both fields are length-prefixed, so no two
// distinct (identity, conversationID) pairs share an encoding.
func DeriveSessionKey(identity, conversationID string) SessionKey {
	h, err := blake3.NewKeyed(sessionDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("session domain key must be 32 bytes: " + err.Error())
	}
	writeField(h, identity)
	writeField(h, conversationID)
	return SessionKey(hex.EncodeToString(h.Sum(nil)))
}

func writeField(h *blake3.Hasher, field string) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(field)))
	_, _ = h.Write(prefix[:])
	_, _ = h.Write([]byte(field))
}
