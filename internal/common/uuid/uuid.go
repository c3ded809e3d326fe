// Package uuid wraps google/uuid with version-7 defaults. Record, run, and
// job identifiers are UUIDv7 so that lexical order tracks creation time,
// which keeps queue claims close to FIFO without a separate sequence.
package uuid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// UUID represents a UUID.
type UUID = uuid.UUID

// Nil is the zero UUID.
var Nil = uuid.Nil

// New returns a new UUIDv7.
func New() UUID {
	u, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return u
}

// NewRandom returns a new UUIDv7 and any generation error.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// Parse parses a UUID string.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// MustParse parses a UUID string and panics on failure.
func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// Timestamp extracts the embedded creation time from a UUIDv7.
func Timestamp(u UUID) time.Time {
	tsMillis := binary.BigEndian.Uint64(u[0:8]) >> 16 // top 48 bits, milliseconds
	return time.UnixMilli(int64(tsMillis))
}
