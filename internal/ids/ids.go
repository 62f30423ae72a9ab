// Package ids centralizes identifier generation: ULIDs for audit records
// that benefit from lexical, time-sortable ordering (ScalingEvent,
// ShutdownLog), and UUIDs for identities that must survive a backend
// being re-dialed under a new host:port.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new, lexically sortable identifier for audit records.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUUID returns a new random UUID for stable entity identity.
func NewUUID() string {
	return uuid.NewString()
}
