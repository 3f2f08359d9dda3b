package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewGUID returns a random RFC 4122 identifier. SIF refIds and session
// tokens are GUIDs on the wire.
func NewGUID() string {
	return uuid.NewString()
}

// IsGUID reports whether s parses as a GUID.
func IsGUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
