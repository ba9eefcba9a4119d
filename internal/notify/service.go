// Package notify emails booking lifecycle updates to the two sides of a
// booking. Delivery is best-effort: callers treat failures as log lines,
// never as booking failures.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/pkg/logging"
)

// Contact is the address a notification goes to.
type Contact struct {
	Email string
	Name  string
}

// Directory resolves user IDs to contact details.
type Directory interface {
	Contact(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

// DirectoryFunc adapts a lookup function to Directory.
type DirectoryFunc func(ctx context.Context, userID uuid.UUID) (*Contact, error)

func (f DirectoryFunc) Contact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	return f(ctx, userID)
}

// Service handles sending notifications to customers and providers.
type Service struct {
	email     EmailSender
	directory Directory
	logger    *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, directory Directory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:     email,
		directory: directory,
		logger:    logger,
	}
}

// BookingCreated tells the provider a new booking request arrived.
func (s *Service) BookingCreated(ctx context.Context, evt events.BookingCreatedV1) error {
	providerID, err := uuid.Parse(evt.ProviderID)
	if err != nil {
		return fmt.Errorf("notify: bad provider id: %w", err)
	}

	amountStr := fmt.Sprintf("$%.2f", float64(evt.TotalCents)/100)
	scheduled := evt.ScheduledAt.Format("Monday, January 2 at 3:04 PM")

	subject := "New booking request"
	body := fmt.Sprintf(`You have a new booking request.

Scheduled: %s
Amount: %s
Booking: %s

The booking will confirm once the customer's payment settles.

— Chainslot`, scheduled, amountStr, evt.BookingID)

	return s.sendTo(ctx, providerID, subject, body, evt.BookingID)
}

// BookingStatusChanged tells the customer about provider-driven moves and
// the provider about customer-driven ones.
func (s *Service) BookingStatusChanged(ctx context.Context, customerID, providerID uuid.UUID, evt events.BookingStatusChangedV1) error {
	recipient := customerID
	if evt.ChangedBy == "customer" {
		recipient = providerID
	}

	subject := fmt.Sprintf("Booking %s", evt.ToStatus)
	body := fmt.Sprintf(`Your booking status changed from %s to %s.

Booking: %s

— Chainslot`, evt.FromStatus, evt.ToStatus, evt.BookingID)

	return s.sendTo(ctx, recipient, subject, body, evt.BookingID)
}

// BookingCancelled tells both sides, with the refund split.
func (s *Service) BookingCancelled(ctx context.Context, customerID, providerID uuid.UUID, evt events.BookingCancelledV1) error {
	refundStr := fmt.Sprintf("$%.2f", float64(evt.RefundCents)/100)

	subject := "Booking cancelled"
	body := fmt.Sprintf(`The booking was cancelled by the %s.

Booking: %s
Refund to customer: %s
Policy: %s

Refunds for on-chain payments settle once the refund transaction confirms.

— Chainslot`, evt.CancelledBy, evt.BookingID, refundStr, evt.PolicyTitle)

	var errs []error
	for _, recipient := range []uuid.UUID{customerID, providerID} {
		if err := s.sendTo(ctx, recipient, subject, body, evt.BookingID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

// BookingRejected tells the customer the provider declined.
func (s *Service) BookingRejected(ctx context.Context, customerID uuid.UUID, evt events.BookingRejectedV1) error {
	subject := "Booking declined"
	body := fmt.Sprintf(`The provider declined your booking.

Booking: %s

Your payment will be refunded in full.

— Chainslot`, evt.BookingID)

	return s.sendTo(ctx, customerID, subject, body, evt.BookingID)
}

// BookingCompleted tells the provider funds were released.
func (s *Service) BookingCompleted(ctx context.Context, providerID uuid.UUID, evt events.BookingCompletedV1) error {
	subject := "Booking completed"
	body := fmt.Sprintf(`The booking was marked completed and escrow released.

Booking: %s
Transaction: %s

— Chainslot`, evt.BookingID, evt.TxHash)

	return s.sendTo(ctx, providerID, subject, body, evt.BookingID)
}

func (s *Service) sendTo(ctx context.Context, userID uuid.UUID, subject, body, bookingID string) error {
	if s.email == nil || s.directory == nil {
		s.logger.Debug("notify: email not configured, skipping", "booking_id", bookingID)
		return nil
	}

	contact, err := s.directory.Contact(ctx, userID)
	if err != nil {
		s.logger.Error("notify: failed to resolve contact", "error", err, "user_id", userID)
		return fmt.Errorf("notify: resolve contact: %w", err)
	}
	if contact.Email == "" {
		s.logger.Debug("notify: user has no email, skipping", "user_id", userID)
		return nil
	}

	msg := EmailMessage{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send email", "error", err, "to", contact.Email, "booking_id", bookingID)
		return err
	}
	s.logger.Info("notify: email sent", "to", contact.Email, "subject", subject, "booking_id", bookingID)
	return nil
}
