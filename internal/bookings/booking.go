package bookings

import (
	"time"

	"github.com/google/uuid"
)

// Booking is the central marketplace entity. The internal UUID and the
// chain booking id are separate namespaces: ChainBookingID always holds
// the hash embedded in the most recently issued authorization signature,
// because that is the value the chain emits in its events.
type Booking struct {
	ID             uuid.UUID `json:"id"`
	ChainBookingID string    `json:"blockchain_booking_id,omitempty"`

	ServiceID  uuid.UUID `json:"service_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ProviderID uuid.UUID `json:"provider_id"`

	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`

	// Money, in cents. TotalPrice is the USDC amount actually payable
	// (post points deduction); OriginalAmount is the pre-points price.
	TotalPriceCents     int64 `json:"total_price"`
	ServiceFeeCents     int64 `json:"service_fee"`
	OriginalAmountCents int64 `json:"original_amount"`
	PointsUsed          int64 `json:"points_used"`
	PointsValueCents    int64 `json:"points_value"`
	UsdcPaidCents       int64 `json:"usdc_paid"`

	Status Status `json:"status"`

	Location      string `json:"location,omitempty"`
	IsOnline      bool   `json:"is_online"`
	MeetingLink   string `json:"meeting_link,omitempty"`
	CustomerNotes string `json:"customer_notes,omitempty"`

	AutoCompleteBlocked       bool   `json:"auto_complete_blocked"`
	AutoCompleteBlockedReason string `json:"auto_complete_blocked_reason,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`

	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	CompletionNotes         string     `json:"completion_notes,omitempty"`
	BackendCompleted        bool       `json:"backend_completed"`
	BackendCompletionReason string     `json:"backend_completion_reason,omitempty"`

	PaymentTxHash string `json:"payment_tx_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// End returns the exclusive end of the booked window.
func (b *Booking) End() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the booking window intersects [start, end).
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.ScheduledAt.Before(end) && b.End().After(start)
}

// PaidOnChain reports whether the booking was settled through the escrow
// contract. Bookings without a payment hash follow the manual path.
func (b *Booking) PaidOnChain() bool {
	return b.PaymentTxHash != ""
}
