// Package meetings generates and tears down video meeting links for
// online bookings, and measures recorded session durations for the
// auto-completion gate. Integration credentials are read from the
// meeting_integrations table as opaque usable tokens; the OAuth exchange
// that produced them is out of scope.
package meetings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Meeting is a generated video meeting.
type Meeting struct {
	Provider   string
	ExternalID string
	JoinURL    string
}

// BookingInfo is what providers need to create a meeting.
type BookingInfo struct {
	BookingID   uuid.UUID
	ProviderID  uuid.UUID
	Title       string
	ScheduledAt time.Time
	Duration    time.Duration
	Attendees   []string
}

// Generator creates and deletes meetings. Implementations exist for
// Google Meet and Zoom; the dispatcher picks one from the provider's
// stored integration.
type Generator interface {
	GenerateMeetingLinkForBooking(ctx context.Context, info BookingInfo) (*Meeting, error)
	DeleteMeetingForBooking(ctx context.Context, providerID uuid.UUID, externalID string) error
}

// SessionReport holds the measured provider presence in a meeting.
type SessionReport struct {
	ProviderSeconds int64
	Found           bool
}

// DurationChecker reports how long the provider was present in the
// booking's meeting. "Not found" is data-unavailable, not an error; an
// error means the dependency itself failed and the caller must block
// auto-completion defensively.
type DurationChecker interface {
	CheckSessionDuration(ctx context.Context, providerID uuid.UUID, meetingLink string, scheduledAt time.Time) (*SessionReport, error)
}
