// Package ids generates the identifiers used for job dispatches and
// temporary workspaces.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// RandomSuffix returns a short lowercase token suitable for
// collision-resistant file and dispatch names. It is the entropy half of
// a ULID, so two suffixes generated in the same millisecond still differ.
func RandomSuffix() string {
	id := CreateULID()
	return strings.ToLower(id[10:])
}
