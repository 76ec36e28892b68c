package interfaces

import "errors"

// Sentinel errors shared across store implementations so callers can
// branch without knowing the backing store.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBookingNotFound = errors.New("booking not found")
)
