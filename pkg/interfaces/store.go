package interfaces

import (
	"context"

	"mentorlive/pkg/types"
)

// BookingStore is the narrow read/write view of the marketplace's
// booking and session records that the coordination layer consumes.
// The marketplace owns these records; this layer never creates them.
type BookingStore interface {
	// IsMentorOf reports whether the user is the session's mentor.
	IsMentorOf(ctx context.Context, userID, sessionID string) (bool, error)

	// HasBooking reports whether the user holds a booking for the session
	// in any of the given statuses. An empty status list matches any booking.
	HasBooking(ctx context.Context, userID, sessionID string, statuses []string) (bool, error)

	// GetSession returns the session record, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// SessionStatus returns the session's marketplace status.
	SessionStatus(ctx context.Context, sessionID string) (types.SessionStatus, error)

	// SetSessionStatus transitions a session's status.
	SetSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus) error

	// UserName resolves a display name for outbound envelopes. A missing
	// record is not an error; implementations return the user ID as-is.
	UserName(ctx context.Context, userID string) (string, error)
}

// NotificationStore is the durable half of the notification pipeline.
// Live delivery and persistence stay independent: a Record failure is
// logged and must never block the live push.
type NotificationStore interface {
	Record(ctx context.Context, n *types.Notification) error
}
