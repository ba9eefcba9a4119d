package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/pkg/logging"
)

// Envelope is the wire shape queued messages carry: the type tag lets
// consumers dispatch without parsing the payload.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	BookingID string          `json:"booking_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher records booking events in the outbox. Publication is
// fire-and-forget from the caller's point of view: a failed insert is
// logged and swallowed so the booking flow never fails on telemetry.
type Publisher struct {
	outbox *OutboxStore
	logger *logging.Logger
}

func NewPublisher(outbox *OutboxStore, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{outbox: outbox, logger: logger}
}

// Publish enqueues an event for delivery. Never returns an error; outbox
// failures are logged.
func (p *Publisher) Publish(ctx context.Context, bookingID uuid.UUID, eventType string, payload any) {
	if p == nil || p.outbox == nil {
		return
	}
	if _, err := p.outbox.Insert(ctx, bookingID, eventType, payload); err != nil {
		p.logger.Error("event publish failed",
			"type", eventType,
			"booking_id", bookingID,
			"error", err,
		)
		return
	}
	p.logger.Debug("event published", "type", eventType, "booking_id", bookingID)
}

// QueueHandler delivers outbox entries onto a Queue.
type QueueHandler struct {
	queue Queue
}

func NewQueueHandler(queue Queue) *QueueHandler {
	if queue == nil {
		panic("events: queue required")
	}
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	env := Envelope{
		ID:        entry.ID.String(),
		Type:      entry.Type,
		BookingID: entry.BookingID.String(),
		Payload:   entry.Payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	return h.queue.Send(ctx, string(body))
}
