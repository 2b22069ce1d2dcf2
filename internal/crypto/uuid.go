package crypto

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewConnID returns a fresh connection handle.
func NewConnID() string {
	return NewUUIDv7().String()
}

// NewMessageID returns a ULID. ulid.Make draws from a process-wide
// monotonic source, so ids are strictly increasing within one process.
func NewMessageID() string {
	return ulid.Make().String()
}

// Fingerprint returns a hex BLAKE2b-256 digest of data.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
