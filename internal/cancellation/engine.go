package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/escrow"
	"github.com/chainslot/chainslot/pkg/logging"
)

var cancellationTracer = otel.Tracer("chainslot.internal.cancellation")

var (
	ErrNotParticipant      = errors.New("cancellation: actor is not on this booking")
	ErrNotCancellable      = errors.New("cancellation: booking status does not allow cancellation")
	ErrPolicyNotApplicable = errors.New("cancellation: policy does not apply at this time")
)

// Breakdown is the three-way split of the paid amount, in cents. The
// identity CustomerRefund + ProviderEarnings + PlatformFee == amount paid
// always holds; the same computation backs both the preview and the
// signed authorization so they can never disagree.
type Breakdown struct {
	CustomerRefundCents   int64  `json:"customer_refund"`
	ProviderEarningsCents int64  `json:"provider_earnings"`
	PlatformFeeCents      int64  `json:"platform_fee"`
	PolicyTitle           string `json:"policy_title"`
	RefundPct             int    `json:"refund_pct"`
}

// BookingStore is the slice of the bookings repository the engine needs.
type BookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*bookings.Booking, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, from bookings.Status, reason string, cancelledBy bookings.Actor) (*bookings.Booking, error)
}

// RefundSigner produces the signed on-chain refund authorization.
type RefundSigner interface {
	SignCancellation(ctx context.Context, req escrow.CancellationAuthRequest) (*escrow.SignedCancellation, error)
}

// PolicySource yields the policy rules. Satisfied by PolicyRepository.
type PolicySource interface {
	List(ctx context.Context) ([]Policy, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
}

// PointsReleaser returns reserved points to the customer once a booking
// is cancelled. Satisfied by the points repository.
type PointsReleaser interface {
	Release(ctx context.Context, bookingID uuid.UUID) error
}

// Engine applies cancellation policies to bookings.
type Engine struct {
	store          BookingStore
	policies       PolicySource
	signer         RefundSigner
	points         PointsReleaser
	platformFeeBps int
	now            func() time.Time
	logger         *logging.Logger
}

func NewEngine(store BookingStore, policies PolicySource, signer RefundSigner, points PointsReleaser, platformFeeBps int, logger *logging.Logger) *Engine {
	if store == nil || policies == nil {
		panic("cancellation: store and policies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:          store,
		policies:       policies,
		signer:         signer,
		points:         points,
		platformFeeBps: platformFeeBps,
		now:            time.Now,
		logger:         logger,
	}
}

// actorOn returns the role userID plays on the booking, or an error when
// the user is not a participant.
func actorOn(b *bookings.Booking, userID uuid.UUID) (bookings.Actor, error) {
	switch userID {
	case b.CustomerID:
		return bookings.ActorCustomer, nil
	case b.ProviderID:
		return bookings.ActorProvider, nil
	}
	return "", ErrNotParticipant
}

// ApplicablePolicies returns the policies the actor may select for the
// booking right now.
func (e *Engine) ApplicablePolicies(ctx context.Context, bookingID, actorID uuid.UUID) ([]Policy, error) {
	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := actorOn(b, actorID); err != nil {
		return nil, err
	}
	if !bookings.CanTransition(b.Status, bookings.StatusCancelled) {
		return nil, ErrNotCancellable
	}

	all, err := e.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var applicable []Policy
	for _, p := range all {
		if p.AppliesAt(b.ScheduledAt, now) {
			applicable = append(applicable, p)
		}
	}
	return applicable, nil
}

// ValidateSelection reports whether the actor may cancel the booking
// under the given policy right now.
func (e *Engine) ValidateSelection(ctx context.Context, bookingID, actorID, policyID uuid.UUID) error {
	applicable, err := e.ApplicablePolicies(ctx, bookingID, actorID)
	if err != nil {
		return err
	}
	for _, p := range applicable {
		if p.ID == policyID {
			return nil
		}
	}
	return ErrPolicyNotApplicable
}

// RefundBreakdown computes the split the customer previews and the signer
// authorizes. The refundable base is the USDC amount that actually moved;
// the platform takes its fee only from the rendered (non-refunded) part.
func (e *Engine) RefundBreakdown(ctx context.Context, bookingID, policyID uuid.UUID) (*Breakdown, error) {
	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return computeBreakdown(b, policy, e.platformFeeBps), nil
}

// PreviewRefund is the participant-facing breakdown: same computation,
// plus the access check the raw RefundBreakdown skips.
func (e *Engine) PreviewRefund(ctx context.Context, bookingID, actorID, policyID uuid.UUID) (*Breakdown, error) {
	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := actorOn(b, actorID); err != nil {
		return nil, err
	}
	policy, err := e.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return computeBreakdown(b, policy, e.platformFeeBps), nil
}

func computeBreakdown(b *bookings.Booking, policy *Policy, platformFeeBps int) *Breakdown {
	paid := b.TotalPriceCents
	refund := paid * int64(policy.RefundPct) / 100
	remainder := paid - refund
	platformFee := remainder * int64(platformFeeBps) / 10_000
	providerEarnings := remainder - platformFee

	return &Breakdown{
		CustomerRefundCents:   refund,
		ProviderEarningsCents: providerEarnings,
		PlatformFeeCents:      platformFee,
		PolicyTitle:           policy.Title,
		RefundPct:             policy.RefundPct,
	}
}

// CancelResult is the outcome of a policy-governed cancellation.
type CancelResult struct {
	Booking       *bookings.Booking          `json:"booking"`
	Breakdown     *Breakdown                 `json:"breakdown"`
	Authorization *escrow.SignedCancellation `json:"authorization,omitempty"`
}

// CancelWithPolicy validates the selection, marks the booking cancelled,
// and signs the refund authorization for chain-settled bookings. The same
// computeBreakdown call that produced the preview produces the signed
// amounts.
func (e *Engine) CancelWithPolicy(ctx context.Context, bookingID, actorID, policyID uuid.UUID, reason string) (*CancelResult, error) {
	ctx, span := cancellationTracer.Start(ctx, "cancellation.cancel_with_policy")
	defer span.End()
	span.SetAttributes(
		attribute.String("chainslot.booking_id", bookingID.String()),
		attribute.String("chainslot.policy_id", policyID.String()),
	)

	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	actor, err := actorOn(b, actorID)
	if err != nil {
		return nil, err
	}
	if !bookings.ActorAllowed(b.Status, bookings.StatusCancelled, actor) {
		return nil, ErrNotCancellable
	}
	if err := e.ValidateSelection(ctx, bookingID, actorID, policyID); err != nil {
		return nil, err
	}
	policy, err := e.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}

	breakdown := computeBreakdown(b, policy, e.platformFeeBps)

	cancelled, err := e.store.MarkCancelled(ctx, bookingID, b.Status, reason, actor)
	if err != nil {
		return nil, fmt.Errorf("cancellation: mark cancelled: %w", err)
	}

	// Reserved points go back to the customer regardless of which
	// cancellation path ran.
	if e.points != nil && cancelled.PointsUsed > 0 {
		if err := e.points.Release(ctx, cancelled.ID); err != nil {
			e.logger.Error("points release failed after cancellation",
				"booking_id", cancelled.ID, "error", err)
		}
	}

	result := &CancelResult{Booking: cancelled, Breakdown: breakdown}

	// Only chain-settled bookings need a refund authorization. Failure to
	// sign must not reverse the cancellation; the cancelled state stays
	// the source of truth and a fresh authorization can be requested.
	if cancelled.PaidOnChain() && e.signer != nil {
		auth, err := e.signer.SignCancellation(ctx, escrow.CancellationAuthRequest{
			BookingID:      cancelled.ID,
			ChainBookingID: common.HexToHash(cancelled.ChainBookingID),
			CustomerAmount: escrow.UsdcFromCents(breakdown.CustomerRefundCents),
			ProviderAmount: escrow.UsdcFromCents(breakdown.ProviderEarningsCents),
			PlatformAmount: escrow.UsdcFromCents(breakdown.PlatformFeeCents),
			Reason:         reason,
		})
		if err != nil {
			e.logger.Error("refund authorization failed after cancellation",
				"booking_id", cancelled.ID,
				"error", err,
			)
		} else {
			result.Authorization = auth
		}
	}

	return result, nil
}

// AuthorizeCancellation re-issues the refund authorization for an already
// cancelled booking, e.g. after the previous one expired unsubmitted.
func (e *Engine) AuthorizeCancellation(ctx context.Context, bookingID, actorID, policyID uuid.UUID) (*CancelResult, error) {
	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := actorOn(b, actorID); err != nil {
		return nil, err
	}
	if b.Status != bookings.StatusCancelled {
		return nil, ErrNotCancellable
	}
	if !b.PaidOnChain() || e.signer == nil {
		return nil, fmt.Errorf("cancellation: booking has no on-chain payment to refund")
	}
	policy, err := e.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}

	breakdown := computeBreakdown(b, policy, e.platformFeeBps)
	auth, err := e.signer.SignCancellation(ctx, escrow.CancellationAuthRequest{
		BookingID:      b.ID,
		ChainBookingID: common.HexToHash(b.ChainBookingID),
		CustomerAmount: escrow.UsdcFromCents(breakdown.CustomerRefundCents),
		ProviderAmount: escrow.UsdcFromCents(breakdown.ProviderEarningsCents),
		PlatformAmount: escrow.UsdcFromCents(breakdown.PlatformFeeCents),
		Reason:         b.CancellationReason,
	})
	if err != nil {
		return nil, fmt.Errorf("cancellation: sign refund: %w", err)
	}
	return &CancelResult{Booking: b, Breakdown: breakdown, Authorization: auth}, nil
}
