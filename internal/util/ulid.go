package util

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewTrackingID returns a ULID for t. IDs minted in the same millisecond
// still sort in creation order.
func NewTrackingID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidTrackingID reports whether s parses as a ULID.
func ValidTrackingID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
