package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/pkg/logging"
)

// BookingLookup resolves the participants of a booking named in an event.
type BookingLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*bookings.Booking, error)
}

// Consumer drains the event queue and turns lifecycle events into emails.
// A failed send leaves the message on the queue for redelivery; a message
// that cannot be parsed is deleted so it cannot wedge the queue.
type Consumer struct {
	queue   events.Queue
	svc     *Service
	lookup  BookingLookup
	logger  *logging.Logger
	backoff time.Duration
}

func NewConsumer(queue events.Queue, svc *Service, lookup BookingLookup, logger *logging.Logger) *Consumer {
	if queue == nil || svc == nil || lookup == nil {
		panic("notify: queue, service and lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:   queue,
		svc:     svc,
		lookup:  lookup,
		logger:  logger,
		backoff: 5 * time.Second,
	}
}

// Run receives until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("notification consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("notification consumer stopping")
			return
		}
		msgs, err := c.queue.Receive(ctx, 10, 20)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg events.Message) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		c.logger.Error("dropping malformed event", "message_id", msg.ID, "error", err)
		c.delete(ctx, msg)
		return
	}

	if err := c.dispatch(ctx, env); err != nil {
		c.logger.Error("event handling failed, leaving for redelivery",
			"type", env.Type,
			"booking_id", env.BookingID,
			"error", err,
		)
		return
	}
	c.delete(ctx, msg)
}

func (c *Consumer) dispatch(ctx context.Context, env events.Envelope) error {
	switch env.Type {
	case events.TypeBookingCreated:
		var evt events.BookingCreatedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		return c.svc.BookingCreated(ctx, evt)

	case events.TypeBookingStatus:
		var evt events.BookingStatusChangedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		b, err := c.booking(ctx, env.BookingID)
		if err != nil {
			return err
		}
		return c.svc.BookingStatusChanged(ctx, b.CustomerID, b.ProviderID, evt)

	case events.TypeBookingCancelled:
		var evt events.BookingCancelledV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		b, err := c.booking(ctx, env.BookingID)
		if err != nil {
			return err
		}
		return c.svc.BookingCancelled(ctx, b.CustomerID, b.ProviderID, evt)

	case events.TypeBookingRejected:
		var evt events.BookingRejectedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		b, err := c.booking(ctx, env.BookingID)
		if err != nil {
			return err
		}
		return c.svc.BookingRejected(ctx, b.CustomerID, evt)

	case events.TypeBookingCompleted:
		var evt events.BookingCompletedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		b, err := c.booking(ctx, env.BookingID)
		if err != nil {
			return err
		}
		return c.svc.BookingCompleted(ctx, b.ProviderID, evt)

	default:
		// Payment and refund authorizations carry no email today.
		c.logger.Debug("no notification for event type", "type", env.Type)
		return nil
	}
}

func (c *Consumer) booking(ctx context.Context, id string) (*bookings.Booking, error) {
	bookingID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("notify: bad booking id %q: %w", id, err)
	}
	b, err := c.lookup.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("notify: load booking: %w", err)
	}
	return b, nil
}

func (c *Consumer) delete(ctx context.Context, msg events.Message) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("delete message failed", "message_id", msg.ID, "error", err)
	}
}
