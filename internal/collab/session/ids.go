package session

import "github.com/google/uuid"

// shortID returns a random hex identifier suitable for message/session ids,
// matching the donor's preference for uuid-derived ids over counters.
func shortID() string {
	return uuid.NewString()[:8]
}
