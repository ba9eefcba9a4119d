// Package events carries the booking lifecycle events this service emits
// for downstream consumers (notifications, the chain reconciler, analytics)
// and the outbox machinery that delivers them.
package events

import "time"

const (
	TypeBookingCreated    = "booking.created.v1"
	TypeBookingStatus     = "booking.status_changed.v1"
	TypeBookingCancelled  = "booking.cancelled.v1"
	TypeBookingRejected   = "booking.rejected.v1"
	TypeBookingCompleted  = "booking.completed.v1"
	TypeRefundAuthorized  = "booking.refund_authorized.v1"
	TypePaymentAuthorized = "booking.payment_authorized.v1"
)

type BookingCreatedV1 struct {
	EventID     string    `json:"event_id"`
	BookingID   string    `json:"booking_id"`
	CustomerID  string    `json:"customer_id"`
	ProviderID  string    `json:"provider_id"`
	ServiceID   string    `json:"service_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	TotalCents  int64     `json:"total_cents"`
	PointsUsed  int64     `json:"points_used"`
	CreatedAt   time.Time `json:"created_at"`
}

type BookingStatusChangedV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingCancelledV1 struct {
	EventID        string    `json:"event_id"`
	BookingID      string    `json:"booking_id"`
	CancelledBy    string    `json:"cancelled_by"`
	Reason         string    `json:"reason,omitempty"`
	RefundCents    int64     `json:"refund_cents"`
	PolicyTitle    string    `json:"policy_title,omitempty"`
	PointsReleased int64     `json:"points_released"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type BookingRejectedV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	ProviderID string    `json:"provider_id"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingCompletedV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	Method     string    `json:"method"` // customer_onchain or backend
	TxHash     string    `json:"tx_hash,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type RefundAuthorizedV1 struct {
	EventID      string    `json:"event_id"`
	BookingID    string    `json:"booking_id"`
	Nonce        string    `json:"nonce"`
	CustomerUsdc string    `json:"customer_usdc"`
	ProviderUsdc string    `json:"provider_usdc"`
	PlatformUsdc string    `json:"platform_usdc"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type PaymentAuthorizedV1 struct {
	EventID    string    `json:"event_id"`
	BookingID  string    `json:"booking_id"`
	Nonce      string    `json:"nonce"`
	AmountUsdc string    `json:"amount_usdc"`
	Deadline   int64     `json:"deadline"`
	OccurredAt time.Time `json:"occurred_at"`
}
