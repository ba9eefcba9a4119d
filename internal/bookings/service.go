package bookings

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainslot/chainslot/internal/availability"
	"github.com/chainslot/chainslot/internal/catalog"
	"github.com/chainslot/chainslot/internal/chain"
	"github.com/chainslot/chainslot/internal/escrow"
	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/internal/meetings"
	"github.com/chainslot/chainslot/internal/observability/metrics"
	"github.com/chainslot/chainslot/internal/points"
	"github.com/chainslot/chainslot/internal/users"
	"github.com/chainslot/chainslot/pkg/logging"
)

var bookingTracer = otel.Tracer("chainslot.internal.bookings")

// PaymentSetupPending marks bookings created without a signable payment:
// one of the wallets is missing, so the authorization must be requested
// later via the payment endpoint.
const PaymentSetupPending = "payment_setup_pending"

var (
	ErrNotParticipant    = errors.New("bookings: caller is not on this booking")
	ErrNotCustomer       = errors.New("bookings: only the customer may do this")
	ErrNotProvider       = errors.New("bookings: only the provider may do this")
	ErrNotEligible       = errors.New("bookings: booking not eligible for payment")
	ErrInvalidTransition = errors.New("bookings: transition not allowed")
	ErrTooManyBookings   = errors.New("bookings: creation velocity limit reached")
)

// ValidationError rejects a request before any write happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Store is the persistence surface the service drives. *Repository
// implements it.
type Store interface {
	CreateAtomic(ctx context.Context, params CreateParams, reserve ReserveFunc) (*Booking, *ConflictError, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListForUser(ctx context.Context, userID uuid.UUID, role Actor) ([]*Booking, error)
	SetChainBookingID(ctx context.Context, id uuid.UUID, chainID string, status Status) (*Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
	SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason string, cancelledBy Actor) (*Booking, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (*Booking, error)
	MarkCompletedBackend(ctx context.Context, id uuid.UUID, from Status, notes, reason string) (*Booking, error)
	MarkAutoCompleteBlocked(ctx context.Context, id uuid.UUID, reason string) error
	ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int32) ([]*Booking, error)
}

// UserDirectory resolves wallets and referral links.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	InviterWallet(ctx context.Context, userID uuid.UUID) (string, error)
}

// Catalog resolves bookable services.
type Catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
}

// PointsLedger is the two-phase points surface the booking flow uses.
type PointsLedger interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	ReserveIn(ctx context.Context, tx points.Querier, userID, bookingID uuid.UUID, pts int64) error
	Release(ctx context.Context, bookingID uuid.UUID) error
}

// AuthorizationSigner issues payment authorizations.
type AuthorizationSigner interface {
	SignBookingAuthorization(ctx context.Context, req escrow.BookingAuthRequest) (*escrow.SignedAuthorization, error)
}

// RefundSigner issues the full-refund authorization when a provider
// rejects a chain-paid booking.
type RefundSigner interface {
	SignCancellation(ctx context.Context, req escrow.CancellationAuthRequest) (*escrow.SignedCancellation, error)
}

// MeetingGenerator creates meeting links for online bookings.
type MeetingGenerator interface {
	GenerateMeetingLinkForBooking(ctx context.Context, info meetings.BookingInfo) (*meetings.Meeting, error)
}

// ChainClient submits backend completions and reads tx state.
type ChainClient interface {
	CompleteServiceAsBackend(ctx context.Context, chainBookingID common.Hash) (string, error)
	TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error)
}

// EventLog records on-chain occurrences locally.
type EventLog interface {
	Insert(ctx context.Context, bookingID uuid.UUID, eventType, txHash string, data any) error
	ListForBooking(ctx context.Context, bookingID uuid.UUID) ([]chain.Event, error)
}

// Velocity rate-limits booking creation per customer.
type Velocity interface {
	Check(ctx context.Context, customerID string) (*VelocityResult, error)
}

// ServiceDeps wires the booking service. Store, users and catalog are
// required; everything else degrades to a log line when absent.
type ServiceDeps struct {
	Store        Store
	Users        UserDirectory
	Catalog      Catalog
	Availability availability.Oracle
	Velocity     Velocity
	Points       PointsLedger
	PointsCalc   points.Calculator
	Signer       AuthorizationSigner
	Refunds      RefundSigner
	Meetings     MeetingGenerator
	Durations    meetings.DurationChecker
	Chain        ChainClient
	EventLog     EventLog
	Publisher    *events.Publisher
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger

	ContractAddress          string
	PlatformFeeBps           int
	AutoCompleteThresholdPct int
	AutoCompleteAfter        time.Duration
}

// Service orchestrates the booking lifecycle.
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	if deps.Store == nil || deps.Users == nil || deps.Catalog == nil {
		panic("bookings: store, users and catalog required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.AutoCompleteThresholdPct <= 0 {
		deps.AutoCompleteThresholdPct = 90
	}
	if deps.AutoCompleteAfter <= 0 {
		deps.AutoCompleteAfter = 24 * time.Hour
	}
	return &Service{deps: deps}
}

// CreateRequest is the input for a new booking.
type CreateRequest struct {
	CustomerID  uuid.UUID
	ServiceID   uuid.UUID
	ScheduledAt time.Time
	Notes       string
	UsePoints   bool
}

// CreateResult is the booking plus its payment authorization, when one
// could be issued immediately.
type CreateResult struct {
	Booking       *Booking                    `json:"booking"`
	Authorization *escrow.SignedAuthorization `json:"authorization,omitempty"`
	PointsUsage   points.Usage                `json:"points_usage"`
	PaymentSetup  string                      `json:"payment_setup,omitempty"`
}

// Create runs the full creation pipeline: validation, velocity, the
// availability oracle, points reservation and the atomic slot guard, then
// the payment authorization. The database transaction is the only
// authority on slot conflicts; the oracle is advisory.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := bookingTracer.Start(ctx, "bookings.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("chainslot.customer_id", req.CustomerID.String()),
		attribute.String("chainslot.service_id", req.ServiceID.String()),
	)
	start := time.Now()

	svc, err := s.deps.Catalog.GetByID(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &ValidationError{Reason: "Service not found"}
		}
		return nil, err
	}
	if svc.ProviderID == req.CustomerID {
		return nil, &ValidationError{Reason: "Cannot book your own service"}
	}
	if !req.ScheduledAt.After(time.Now()) {
		return nil, &ValidationError{Reason: "Cannot book a time in the past"}
	}

	if s.deps.Velocity != nil {
		res, err := s.deps.Velocity.Check(ctx, req.CustomerID.String())
		if err == nil && res != nil && !res.Allowed {
			return nil, ErrTooManyBookings
		}
	}

	if s.deps.Availability != nil {
		slots, err := s.deps.Availability.GetDayAvailability(ctx, req.ServiceID, req.ScheduledAt)
		if err != nil {
			// The slot guard below is authoritative; a down oracle must
			// not take bookings with it.
			s.deps.Logger.Error("availability oracle unavailable", "error", err, "service_id", req.ServiceID)
		} else if !availability.WindowFree(slots, req.ScheduledAt, time.Duration(svc.DurationMinutes)*time.Minute) {
			s.deps.Metrics.ObserveConflict()
			return nil, &ConflictError{}
		}
	}

	usage := points.Usage{OriginalPrice: svc.PriceCents, UsdcToPay: svc.PriceCents}
	if req.UsePoints && s.deps.Points != nil {
		balance, err := s.deps.Points.Balance(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("bookings: read points balance: %w", err)
		}
		usage = s.deps.PointsCalc.CalculateUsage(svc.PriceCents, balance)
	}

	params := CreateParams{
		ServiceID:           req.ServiceID,
		CustomerID:          req.CustomerID,
		ProviderID:          svc.ProviderID,
		ScheduledAt:         req.ScheduledAt,
		DurationMinutes:     svc.DurationMinutes,
		TotalPriceCents:     usage.UsdcToPay,
		ServiceFeeCents:     usage.OriginalPrice * int64(s.deps.PlatformFeeBps) / 10_000,
		OriginalAmountCents: usage.OriginalPrice,
		PointsUsed:          usage.PointsToUse,
		PointsValueCents:    usage.PointsValue,
		Location:            svc.Location,
		IsOnline:            svc.IsOnline,
		CustomerNotes:       req.Notes,
	}

	var reserve ReserveFunc
	if usage.PointsToUse > 0 {
		reserve = func(ctx context.Context, tx pgx.Tx, b *Booking) error {
			return s.deps.Points.ReserveIn(ctx, tx, req.CustomerID, b.ID, usage.PointsToUse)
		}
	}

	booking, conflict, err := s.deps.Store.CreateAtomic(ctx, params, reserve)
	if err != nil {
		s.deps.Metrics.ObserveCreated("error")
		return nil, err
	}
	if conflict != nil {
		s.deps.Metrics.ObserveConflict()
		s.deps.Metrics.ObserveCreated("conflict")
		return nil, conflict
	}
	s.deps.Metrics.ObserveCreateLatency(time.Since(start).Seconds())

	result := &CreateResult{Booking: booking, PointsUsage: usage}

	auth, err := s.authorize(ctx, booking)
	switch {
	case err == nil:
		// The chain booking id must be on record before the signature goes
		// out. If the write fails the booking still stands; the signature is
		// withheld and payment setup completes through the authorize-payment
		// endpoint.
		updated, setErr := s.deps.Store.SetChainBookingID(ctx, booking.ID, auth.ChainBookingID.Hex(), StatusPendingPayment)
		if setErr != nil {
			result.PaymentSetup = PaymentSetupPending
			s.deps.Metrics.ObserveCreated("pending")
			s.deps.Logger.Error("chain booking id persist failed, withholding authorization",
				"booking_id", booking.ID, "error", setErr)
			break
		}
		booking = updated
		result.Booking = booking
		result.Authorization = auth
		s.deps.Metrics.ObserveCreated("pending_payment")
	case errors.Is(err, errWalletMissing):
		// The booking stands; payment setup completes later through the
		// authorize-payment endpoint.
		result.PaymentSetup = PaymentSetupPending
		s.deps.Metrics.ObserveCreated("pending")
		s.deps.Logger.Info("booking created without payment authorization",
			"booking_id", booking.ID, "reason", err)
	default:
		s.deps.Metrics.ObserveSignature(escrow.SignatureTypeBookingPayment, "failed")
		result.PaymentSetup = PaymentSetupPending
		s.deps.Logger.Error("payment authorization failed at creation",
			"booking_id", booking.ID, "error", err)
	}

	s.publish(ctx, booking.ID, events.TypeBookingCreated, events.BookingCreatedV1{
		EventID:     uuid.NewString(),
		BookingID:   booking.ID.String(),
		CustomerID:  booking.CustomerID.String(),
		ProviderID:  booking.ProviderID.String(),
		ServiceID:   booking.ServiceID.String(),
		ScheduledAt: booking.ScheduledAt,
		TotalCents:  booking.TotalPriceCents,
		PointsUsed:  booking.PointsUsed,
		CreatedAt:   booking.CreatedAt,
	})

	return result, nil
}

var errWalletMissing = errors.New("bookings: wallet address missing")

// authorize signs a payment authorization for the booking's current terms.
func (s *Service) authorize(ctx context.Context, b *Booking) (*escrow.SignedAuthorization, error) {
	if s.deps.Signer == nil {
		return nil, fmt.Errorf("bookings: signer not configured: %w", errWalletMissing)
	}
	customer, err := s.deps.Users.GetByID(ctx, b.CustomerID)
	if err != nil {
		return nil, err
	}
	provider, err := s.deps.Users.GetByID(ctx, b.ProviderID)
	if err != nil {
		return nil, err
	}
	if customer.WalletAddress == "" || provider.WalletAddress == "" {
		return nil, errWalletMissing
	}
	inviterWallet, err := s.deps.Users.InviterWallet(ctx, b.CustomerID)
	if err != nil {
		return nil, err
	}

	auth, err := s.deps.Signer.SignBookingAuthorization(ctx, escrow.BookingAuthRequest{
		BookingID:      b.ID,
		Customer:       common.HexToAddress(customer.WalletAddress),
		Provider:       common.HexToAddress(provider.WalletAddress),
		Inviter:        common.HexToAddress(inviterWallet),
		Amount:         escrow.UsdcFromCents(b.TotalPriceCents),
		OriginalAmount: escrow.UsdcFromCents(b.OriginalAmountCents),
		ScheduledAt:    b.ScheduledAt,
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveSignature(escrow.SignatureTypeBookingPayment, "signed")
	return auth, nil
}

// AuthorizePayment re-issues the payment authorization. Only the customer
// may request one, and only while the booking still awaits payment. Each
// call produces a fresh nonce and chain booking id; the stored id is
// updated so the chain reconciler matches the latest signature.
func (s *Service) AuthorizePayment(ctx context.Context, bookingID, callerID uuid.UUID) (*escrow.SignedAuthorization, error) {
	ctx, span := bookingTracer.Start(ctx, "bookings.authorize_payment")
	defer span.End()
	span.SetAttributes(attribute.String("chainslot.booking_id", bookingID.String()))

	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != callerID {
		return nil, ErrNotCustomer
	}
	if b.Status != StatusPending && b.Status != StatusPendingPayment {
		return nil, ErrNotEligible
	}

	auth, err := s.authorize(ctx, b)
	if err != nil {
		if errors.Is(err, errWalletMissing) {
			return nil, &ValidationError{Reason: "Wallet address required for payment"}
		}
		return nil, err
	}
	if _, err := s.deps.Store.SetChainBookingID(ctx, b.ID, auth.ChainBookingID.Hex(), StatusPendingPayment); err != nil {
		return nil, err
	}

	s.publish(ctx, b.ID, events.TypePaymentAuthorized, events.PaymentAuthorizedV1{
		EventID:    uuid.NewString(),
		BookingID:  b.ID.String(),
		Nonce:      auth.Nonce,
		AmountUsdc: auth.Amount,
		Deadline:   auth.Expiry,
		OccurredAt: time.Now().UTC(),
	})
	return auth, nil
}

// Get returns the booking if the caller is on it.
func (s *Service) Get(ctx context.Context, bookingID, callerID uuid.UUID) (*Booking, error) {
	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != callerID && b.ProviderID != callerID {
		return nil, ErrNotParticipant
	}
	return b, nil
}

// List returns the caller's bookings in the given role.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, role Actor) ([]*Booking, error) {
	return s.deps.Store.ListForUser(ctx, callerID, role)
}

// UpdateStatus applies one state-machine step on behalf of the caller.
// The write is compare-and-swap on the loaded status, so two racing
// updates cannot both win.
func (s *Service) UpdateStatus(ctx context.Context, bookingID, callerID uuid.UUID, to Status) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "bookings.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("chainslot.booking_id", bookingID.String()),
		attribute.String("chainslot.to_status", string(to)),
	)

	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorOn(b, callerID)
	if err != nil {
		return nil, err
	}
	if !to.Valid() || !ActorAllowed(b.Status, to, actor) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.deps.Store.UpdateStatus(ctx, b.ID, b.Status, to)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveTransition(string(b.Status), string(to))

	// Online bookings get their meeting link when the provider moves the
	// booking toward delivery. A failed generation never blocks the
	// transition.
	if updated.IsOnline && updated.MeetingLink == "" && (to == StatusConfirmed || to == StatusInProgress) {
		s.attachMeetingLink(ctx, updated)
	}

	s.publish(ctx, updated.ID, events.TypeBookingStatus, events.BookingStatusChangedV1{
		EventID:    uuid.NewString(),
		BookingID:  updated.ID.String(),
		FromStatus: string(b.Status),
		ToStatus:   string(to),
		ChangedBy:  string(actor),
		OccurredAt: time.Now().UTC(),
	})
	return updated, nil
}

func (s *Service) attachMeetingLink(ctx context.Context, b *Booking) {
	if s.deps.Meetings == nil {
		return
	}
	meeting, err := s.deps.Meetings.GenerateMeetingLinkForBooking(ctx, meetings.BookingInfo{
		BookingID:   b.ID,
		ProviderID:  b.ProviderID,
		Title:       "Chainslot booking",
		ScheduledAt: b.ScheduledAt,
		Duration:    time.Duration(b.DurationMinutes) * time.Minute,
	})
	if err != nil {
		s.deps.Logger.Error("meeting link generation failed", "booking_id", b.ID, "error", err)
		return
	}
	if err := s.deps.Store.SetMeetingLink(ctx, b.ID, meeting.JoinURL); err != nil {
		s.deps.Logger.Error("meeting link persist failed", "booking_id", b.ID, "error", err)
		return
	}
	b.MeetingLink = meeting.JoinURL
}

// Cancel performs a plain (non-policy) cancellation. Reserved points go
// back to the customer. Refund math for paid bookings lives in the
// cancellation engine; this path is for bookings that have not settled.
func (s *Service) Cancel(ctx context.Context, bookingID, callerID uuid.UUID, reason string) (*Booking, error) {
	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorOn(b, callerID)
	if err != nil {
		return nil, err
	}
	if !ActorAllowed(b.Status, StatusCancelled, actor) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.deps.Store.MarkCancelled(ctx, b.ID, b.Status, reason, actor)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveTransition(string(b.Status), string(StatusCancelled))
	s.releasePoints(ctx, cancelled)

	s.publish(ctx, cancelled.ID, events.TypeBookingCancelled, events.BookingCancelledV1{
		EventID:        uuid.NewString(),
		BookingID:      cancelled.ID.String(),
		CancelledBy:    string(actor),
		Reason:         reason,
		PointsReleased: cancelled.PointsUsed,
		OccurredAt:     time.Now().UTC(),
	})
	return cancelled, nil
}

// Reject lets the provider decline a confirmed booking. The customer is
// made whole: points come back immediately, and for chain-settled
// bookings a full-refund authorization is signed and logged so the
// escrowed USDC flows back.
func (s *Service) Reject(ctx context.Context, bookingID, callerID uuid.UUID, reason string) (*Booking, error) {
	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != callerID {
		return nil, ErrNotProvider
	}
	if b.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}

	rejected, err := s.deps.Store.MarkRejected(ctx, b.ID, reason)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveTransition(string(b.Status), string(StatusRejected))
	s.releasePoints(ctx, rejected)
	s.refundRejected(ctx, rejected, reason)

	s.publish(ctx, rejected.ID, events.TypeBookingRejected, events.BookingRejectedV1{
		EventID:    uuid.NewString(),
		BookingID:  rejected.ID.String(),
		ProviderID: rejected.ProviderID.String(),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	return rejected, nil
}

// refundRejected signs the full-refund authorization for a rejected
// chain-paid booking and records it as a refund_processed event. The
// rejection stands even when this fails; a missing refund is visible in
// the event log and can be re-driven by operations.
func (s *Service) refundRejected(ctx context.Context, b *Booking, reason string) {
	if !b.PaidOnChain() || b.ChainBookingID == "" {
		return
	}
	if s.deps.Refunds == nil {
		s.deps.Logger.Error("no refund signer configured for rejected booking", "booking_id", b.ID)
		return
	}

	auth, err := s.deps.Refunds.SignCancellation(ctx, escrow.CancellationAuthRequest{
		BookingID:      b.ID,
		ChainBookingID: common.HexToHash(b.ChainBookingID),
		CustomerAmount: escrow.UsdcFromCents(b.TotalPriceCents),
		ProviderAmount: big.NewInt(0),
		PlatformAmount: big.NewInt(0),
		Reason:         reason,
	})
	if err != nil {
		s.deps.Logger.Error("refund authorization failed for rejected booking",
			"booking_id", b.ID, "error", err)
		return
	}
	s.deps.Metrics.ObserveSignature(escrow.SignatureTypeCancellation, "signed")

	if s.deps.EventLog != nil {
		data := map[string]any{
			"refund_cents": b.TotalPriceCents,
			"nonce":        auth.Nonce,
			"reason":       reason,
		}
		if err := s.deps.EventLog.Insert(ctx, b.ID, chain.EventRefundProcessed, "", data); err != nil {
			s.deps.Logger.Error("failed to log refund event", "booking_id", b.ID, "error", err)
		}
	}
}

func (s *Service) releasePoints(ctx context.Context, b *Booking) {
	if s.deps.Points == nil || b.PointsUsed == 0 {
		return
	}
	if err := s.deps.Points.Release(ctx, b.ID); err != nil {
		s.deps.Logger.Error("points release failed", "booking_id", b.ID, "error", err)
	}
}

// CompletionInstructions is what the customer's wallet needs to release
// escrow on-chain. No database write happens here; the reconciler flips
// the status when the chain event lands.
type CompletionInstructions struct {
	To             string `json:"to"`
	Data           string `json:"data"`
	ChainBookingID string `json:"blockchain_booking_id"`
}

// CompleteByCustomer returns the transaction the customer submits to
// release escrow. Only in-progress chain-paid bookings qualify.
func (s *Service) CompleteByCustomer(ctx context.Context, bookingID, callerID uuid.UUID) (*CompletionInstructions, error) {
	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != callerID {
		return nil, ErrNotCustomer
	}
	if b.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}
	if !b.PaidOnChain() || b.ChainBookingID == "" {
		return nil, &ValidationError{Reason: "Booking has no on-chain escrow to release"}
	}

	data := chain.CompleteServiceCallData(common.HexToHash(b.ChainBookingID))
	return &CompletionInstructions{
		To:             s.deps.ContractAddress,
		Data:           "0x" + common.Bytes2Hex(data),
		ChainBookingID: b.ChainBookingID,
	}, nil
}

// CompleteAsBackend completes a booking with the backend key, gated on
// measured session duration for online bookings. reason distinguishes
// auto-completion from operator action.
func (s *Service) CompleteAsBackend(ctx context.Context, bookingID uuid.UUID, reason, notes string) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "bookings.complete_backend")
	defer span.End()
	span.SetAttributes(attribute.String("chainslot.booking_id", bookingID.String()))

	b, err := s.deps.Store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}

	if blocked, blockReason := s.sessionTooShort(ctx, b); blocked {
		if err := s.deps.Store.MarkAutoCompleteBlocked(ctx, b.ID, blockReason); err != nil {
			s.deps.Logger.Error("failed to persist auto-complete block", "booking_id", b.ID, "error", err)
		}
		return nil, &ValidationError{Reason: blockReason}
	}

	txHash := ""
	if b.PaidOnChain() && b.ChainBookingID != "" && s.deps.Chain != nil {
		txHash, err = s.deps.Chain.CompleteServiceAsBackend(ctx, common.HexToHash(b.ChainBookingID))
		if err != nil {
			return nil, fmt.Errorf("bookings: backend completion tx: %w", err)
		}
		if s.deps.EventLog != nil {
			if logErr := s.deps.EventLog.Insert(ctx, b.ID, chain.EventServiceCompleted, txHash, map[string]string{"reason": reason}); logErr != nil {
				s.deps.Logger.Error("failed to log completion event", "booking_id", b.ID, "error", logErr)
			}
		}
	}

	completed, err := s.deps.Store.MarkCompletedBackend(ctx, b.ID, b.Status, notes, reason)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveTransition(string(b.Status), string(StatusCompleted))

	s.publish(ctx, completed.ID, events.TypeBookingCompleted, events.BookingCompletedV1{
		EventID:    uuid.NewString(),
		BookingID:  completed.ID.String(),
		Method:     "backend",
		TxHash:     txHash,
		OccurredAt: time.Now().UTC(),
	})
	return completed, nil
}

// sessionTooShort applies the auto-completion gate for online bookings.
// A failing checker blocks completion: releasing escrow without evidence
// is the one mistake this gate exists to prevent.
func (s *Service) sessionTooShort(ctx context.Context, b *Booking) (bool, string) {
	if !b.IsOnline || b.MeetingLink == "" || s.deps.Durations == nil {
		return false, ""
	}

	report, err := s.deps.Durations.CheckSessionDuration(ctx, b.ProviderID, b.MeetingLink, b.ScheduledAt)
	if err != nil {
		s.deps.Logger.Error("session duration check failed", "booking_id", b.ID, "error", err)
		return true, "Session duration could not be verified"
	}
	if !report.Found {
		// No recording data for this meeting; do not hold the provider's
		// funds hostage to missing telemetry.
		s.deps.Logger.Info("no session recording found", "booking_id", b.ID)
		return false, ""
	}

	bookedSeconds := int64(b.DurationMinutes) * 60
	required := bookedSeconds * int64(s.deps.AutoCompleteThresholdPct) / 100
	if report.ProviderSeconds < required {
		reason := fmt.Sprintf(
			"Provider was present %ds of the booked %ds, below the %d%% threshold",
			report.ProviderSeconds, bookedSeconds, s.deps.AutoCompleteThresholdPct,
		)
		return true, reason
	}
	return false, ""
}

// RunAutoCompletion is one worker pass: every in-progress booking whose
// window ended more than AutoCompleteAfter ago gets a backend completion
// attempt. Individual failures are logged and skipped.
func (s *Service) RunAutoCompletion(ctx context.Context, limit int32) int {
	cutoff := time.Now().Add(-s.deps.AutoCompleteAfter)
	candidates, err := s.deps.Store.ListAutoCompletable(ctx, cutoff, limit)
	if err != nil {
		s.deps.Logger.Error("auto-completion list failed", "error", err)
		return 0
	}

	completed := 0
	for _, b := range candidates {
		if _, err := s.CompleteAsBackend(ctx, b.ID, "auto_complete", ""); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				s.deps.Logger.Info("auto-completion blocked", "booking_id", b.ID, "reason", ve.Reason)
			} else {
				s.deps.Logger.Error("auto-completion failed", "booking_id", b.ID, "error", err)
			}
			continue
		}
		completed++
	}
	return completed
}

// ChainStatus is the on-chain projection for a booking.
type ChainStatus struct {
	Booking   *Booking        `json:"booking"`
	PaymentTx *chain.TxStatus `json:"payment_tx,omitempty"`
	Events    []chain.Event   `json:"events"`
}

// BlockchainStatus assembles the locally recorded chain events and the
// live payment transaction state.
func (s *Service) BlockchainStatus(ctx context.Context, bookingID, callerID uuid.UUID) (*ChainStatus, error) {
	b, err := s.Get(ctx, bookingID, callerID)
	if err != nil {
		return nil, err
	}

	status := &ChainStatus{Booking: b}
	if s.deps.EventLog != nil {
		evts, err := s.deps.EventLog.ListForBooking(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		status.Events = evts
	}
	if b.PaymentTxHash != "" && s.deps.Chain != nil {
		tx, err := s.deps.Chain.TransactionStatus(ctx, b.PaymentTxHash)
		if err != nil {
			s.deps.Logger.Error("tx status lookup failed", "tx_hash", b.PaymentTxHash, "error", err)
		} else {
			status.PaymentTx = tx
		}
	}
	return status, nil
}

func (s *Service) actorOn(b *Booking, callerID uuid.UUID) (Actor, error) {
	switch callerID {
	case b.CustomerID:
		return ActorCustomer, nil
	case b.ProviderID:
		return ActorProvider, nil
	}
	return "", ErrNotParticipant
}

func (s *Service) publish(ctx context.Context, bookingID uuid.UUID, eventType string, payload any) {
	if s.deps.Publisher == nil {
		return
	}
	s.deps.Publisher.Publish(ctx, bookingID, eventType, payload)
}
