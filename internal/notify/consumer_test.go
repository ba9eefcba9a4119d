package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/events"
)

type mockLookup map[uuid.UUID]*bookings.Booking

func (m mockLookup) GetByID(_ context.Context, id uuid.UUID) (*bookings.Booking, error) {
	b, ok := m[id]
	if !ok {
		return nil, errors.New("unknown booking")
	}
	return b, nil
}

func enqueue(t *testing.T, q *events.MemoryQueue, eventType, bookingID string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(events.Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		BookingID: bookingID,
		Payload:   data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := q.Send(context.Background(), string(body)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestConsumerDispatchesStatusChange(t *testing.T) {
	queue := events.NewMemoryQueue(8)
	sender := &mockEmailSender{}
	customer := uuid.New()
	provider := uuid.New()
	bookingID := uuid.New()
	dir := mockDirectory{
		customer: {Email: "customer@example.com"},
		provider: {Email: "provider@example.com"},
	}
	lookup := mockLookup{bookingID: {ID: bookingID, CustomerID: customer, ProviderID: provider}}
	consumer := NewConsumer(queue, NewService(sender, dir, nil), lookup, nil)

	enqueue(t, queue, events.TypeBookingStatus, bookingID.String(), events.BookingStatusChangedV1{
		BookingID:  bookingID.String(),
		FromStatus: "paid",
		ToStatus:   "confirmed",
		ChangedBy:  "provider",
	})

	msgs, err := queue.Receive(t.Context(), 10, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	for _, msg := range msgs {
		consumer.handle(t.Context(), msg)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	if sender.sent[0].To != "customer@example.com" {
		t.Errorf("provider-driven change should email the customer, got %q", sender.sent[0].To)
	}
	if !strings.Contains(sender.sent[0].Body, "confirmed") {
		t.Errorf("body missing new status: %s", sender.sent[0].Body)
	}
}

func TestConsumerDropsMalformedMessage(t *testing.T) {
	queue := events.NewMemoryQueue(8)
	sender := &mockEmailSender{}
	consumer := NewConsumer(queue, NewService(sender, mockDirectory{}, nil), mockLookup{}, nil)

	if err := queue.Send(context.Background(), "not json"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := queue.Receive(t.Context(), 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	consumer.handle(t.Context(), msgs[0])

	if len(sender.sent) != 0 {
		t.Errorf("malformed message produced %d emails", len(sender.sent))
	}
}

func TestConsumerIgnoresAuthorizationEvents(t *testing.T) {
	queue := events.NewMemoryQueue(8)
	sender := &mockEmailSender{}
	consumer := NewConsumer(queue, NewService(sender, mockDirectory{}, nil), mockLookup{}, nil)

	enqueue(t, queue, events.TypePaymentAuthorized, uuid.NewString(), events.PaymentAuthorizedV1{
		Nonce: "0xabc",
	})
	msgs, err := queue.Receive(t.Context(), 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	consumer.handle(t.Context(), msgs[0])

	if len(sender.sent) != 0 {
		t.Errorf("authorization event produced %d emails", len(sender.sent))
	}
}

func TestConsumerCompletedEmailsProvider(t *testing.T) {
	queue := events.NewMemoryQueue(8)
	sender := &mockEmailSender{}
	provider := uuid.New()
	bookingID := uuid.New()
	dir := mockDirectory{provider: {Email: "provider@example.com"}}
	lookup := mockLookup{bookingID: {ID: bookingID, CustomerID: uuid.New(), ProviderID: provider}}
	consumer := NewConsumer(queue, NewService(sender, dir, nil), lookup, nil)

	enqueue(t, queue, events.TypeBookingCompleted, bookingID.String(), events.BookingCompletedV1{
		BookingID: bookingID.String(),
		Method:    "backend",
		TxHash:    "0xdeadbeef",
	})
	msgs, err := queue.Receive(t.Context(), 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	consumer.handle(t.Context(), msgs[0])

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "0xdeadbeef") {
		t.Errorf("body missing tx hash: %s", sender.sent[0].Body)
	}
}
