// Package clock provides the monotonic time source and opaque identifier
// generator shared by every stateful component (sessions, messages, memory
// records).
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts "now" so session-expiration and archival logic can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewID returns a fresh opaque identifier suitable for session, message, and
// memory-record ids.
func NewID() string {
	return uuid.NewString()
}
