package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event types recorded locally. payment_confirmed and service_completed
// rows arrive via the external reconciler; refund_processed rows are
// written by this service's own fire-and-forget refund path.
const (
	EventPaymentConfirmed = "payment_confirmed"
	EventServiceCompleted = "service_completed"
	EventRefundProcessed  = "refund_processed"
)

// Event is a locally logged on-chain occurrence for a booking.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	BookingID       uuid.UUID       `json:"booking_id"`
	EventType       string          `json:"event_type"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	EventData       json.RawMessage `json:"event_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventStore persists blockchain_events rows.
type EventStore struct {
	db Querier
}

func NewEventStore(db Querier) *EventStore {
	if db == nil {
		panic("chain: db required")
	}
	return &EventStore{db: db}
}

// Insert logs an event for a booking.
func (s *EventStore) Insert(ctx context.Context, bookingID uuid.UUID, eventType, txHash string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("chain: marshal event data: %w", err)
	}
	query := `
		INSERT INTO blockchain_events (booking_id, event_type, transaction_hash, event_data)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, bookingID, eventType, txHash, payload); err != nil {
		return fmt.Errorf("chain: insert event: %w", err)
	}
	return nil
}

// ListForBooking returns all logged events for a booking, oldest first.
func (s *EventStore) ListForBooking(ctx context.Context, bookingID uuid.UUID) ([]Event, error) {
	query := `
		SELECT id, booking_id, event_type, COALESCE(transaction_hash, ''), event_data, created_at
		FROM blockchain_events
		WHERE booking_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("chain: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.BookingID, &e.EventType, &e.TransactionHash, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("chain: scan event: %w", err)
		}
		e.EventData = append([]byte(nil), data...)
		out = append(out, e)
	}
	return out, rows.Err()
}
