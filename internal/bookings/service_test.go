package bookings

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/catalog"
	"github.com/chainslot/chainslot/internal/chain"
	"github.com/chainslot/chainslot/internal/escrow"
	"github.com/chainslot/chainslot/internal/meetings"
	"github.com/chainslot/chainslot/internal/points"
	"github.com/chainslot/chainslot/internal/users"
)

type fakeStore struct {
	bookings map[uuid.UUID]*Booking

	conflictOnCreate bool
	chainIDErr       error
	reserveRan       bool
	blockedReason    string
	meetingLink      string
	completedVia     string
	autoCompletable  []*Booking
}

func newFakeStore() *fakeStore {
	return &fakeStore{bookings: map[uuid.UUID]*Booking{}}
}

func (f *fakeStore) put(b *Booking) *Booking {
	cp := *b
	f.bookings[b.ID] = &cp
	return b
}

func (f *fakeStore) CreateAtomic(ctx context.Context, params CreateParams, reserve ReserveFunc) (*Booking, *ConflictError, error) {
	if f.conflictOnCreate {
		return nil, &ConflictError{Conflicts: []ConflictingSlot{{ID: uuid.New()}}}, nil
	}
	b := &Booking{
		ID:                  uuid.New(),
		ServiceID:           params.ServiceID,
		CustomerID:          params.CustomerID,
		ProviderID:          params.ProviderID,
		ScheduledAt:         params.ScheduledAt,
		DurationMinutes:     params.DurationMinutes,
		TotalPriceCents:     params.TotalPriceCents,
		ServiceFeeCents:     params.ServiceFeeCents,
		OriginalAmountCents: params.OriginalAmountCents,
		PointsUsed:          params.PointsUsed,
		PointsValueCents:    params.PointsValueCents,
		IsOnline:            params.IsOnline,
		Status:              StatusPending,
		CreatedAt:           time.Now(),
	}
	if reserve != nil {
		if err := reserve(ctx, nil, b); err != nil {
			return nil, nil, err
		}
		f.reserveRan = true
	}
	return f.put(b), nil, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ListForUser(ctx context.Context, userID uuid.UUID, role Actor) ([]*Booking, error) {
	var out []*Booking
	for _, b := range f.bookings {
		if (role == ActorCustomer && b.CustomerID == userID) || (role == ActorProvider && b.ProviderID == userID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) SetChainBookingID(ctx context.Context, id uuid.UUID, chainID string, status Status) (*Booking, error) {
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusPending && b.Status != StatusPendingPayment {
		return nil, ErrStaleStatus
	}
	b.ChainBookingID = chainID
	b.Status = status
	cp := *b
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != from {
		return nil, ErrStaleStatus
	}
	b.Status = to
	cp := *b
	return &cp, nil
}

func (f *fakeStore) SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error {
	f.meetingLink = link
	if b, ok := f.bookings[id]; ok {
		b.MeetingLink = link
	}
	return nil
}

func (f *fakeStore) MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason string, cancelledBy Actor) (*Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Status = StatusCancelled
	b.CancellationReason = reason
	b.CancelledBy = string(cancelledBy)
	cp := *b
	return &cp, nil
}

func (f *fakeStore) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusConfirmed {
		return nil, ErrStaleStatus
	}
	b.Status = StatusRejected
	b.RejectionReason = reason
	cp := *b
	return &cp, nil
}

func (f *fakeStore) MarkCompletedBackend(ctx context.Context, id uuid.UUID, from Status, notes, reason string) (*Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Status = StatusCompleted
	b.BackendCompleted = true
	b.BackendCompletionReason = reason
	f.completedVia = reason
	cp := *b
	return &cp, nil
}

func (f *fakeStore) MarkAutoCompleteBlocked(ctx context.Context, id uuid.UUID, reason string) error {
	f.blockedReason = reason
	if b, ok := f.bookings[id]; ok {
		b.AutoCompleteBlocked = true
		b.AutoCompleteBlockedReason = reason
	}
	return nil
}

func (f *fakeStore) ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int32) ([]*Booking, error) {
	return f.autoCompletable, nil
}

type fakeDirectory map[uuid.UUID]*users.User

func (d fakeDirectory) GetByID(ctx context.Context, id uuid.UUID) (*users.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

func (d fakeDirectory) InviterWallet(ctx context.Context, userID uuid.UUID) (string, error) {
	return "", nil
}

type fakeCatalog map[uuid.UUID]*catalog.Service

func (c fakeCatalog) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Service, error) {
	svc, ok := c[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return svc, nil
}

type fakeLedger struct {
	balance  int64
	reserved map[uuid.UUID]int64
	released []uuid.UUID
}

func (l *fakeLedger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return l.balance, nil
}

func (l *fakeLedger) ReserveIn(ctx context.Context, tx points.Querier, userID, bookingID uuid.UUID, pts int64) error {
	if pts > l.balance {
		return points.ErrInsufficientBalance
	}
	if l.reserved == nil {
		l.reserved = map[uuid.UUID]int64{}
	}
	l.reserved[bookingID] = pts
	return nil
}

func (l *fakeLedger) Release(ctx context.Context, bookingID uuid.UUID) error {
	l.released = append(l.released, bookingID)
	return nil
}

type fakeSigner struct {
	err   error
	calls int
}

func (s *fakeSigner) SignBookingAuthorization(ctx context.Context, req escrow.BookingAuthRequest) (*escrow.SignedAuthorization, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &escrow.SignedAuthorization{
		ChainBookingID: common.HexToHash("0x1234"),
		Amount:         req.Amount.String(),
		Nonce:          "42",
		Expiry:         time.Now().Add(5 * time.Minute).Unix(),
	}, nil
}

type fakeRefundSigner struct {
	err   error
	calls int
	last  escrow.CancellationAuthRequest
}

func (s *fakeRefundSigner) SignCancellation(ctx context.Context, req escrow.CancellationAuthRequest) (*escrow.SignedCancellation, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &escrow.SignedCancellation{Nonce: "7"}, nil
}

type fakeEventLog struct {
	types []string
}

func (l *fakeEventLog) Insert(ctx context.Context, bookingID uuid.UUID, eventType, txHash string, data any) error {
	l.types = append(l.types, eventType)
	return nil
}

func (l *fakeEventLog) ListForBooking(ctx context.Context, bookingID uuid.UUID) ([]chain.Event, error) {
	return nil, nil
}

type fakeMeetings struct {
	err   error
	calls int
}

func (m *fakeMeetings) GenerateMeetingLinkForBooking(ctx context.Context, info meetings.BookingInfo) (*meetings.Meeting, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &meetings.Meeting{Provider: "google", JoinURL: "https://meet.google.com/abc-defg-hij"}, nil
}

type fakeChecker struct {
	report *meetings.SessionReport
	err    error
}

func (c *fakeChecker) CheckSessionDuration(ctx context.Context, providerID uuid.UUID, meetingLink string, scheduledAt time.Time) (*meetings.SessionReport, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.report, nil
}

type fakeChain struct {
	txHash string
	err    error
	calls  int
}

func (c *fakeChain) CompleteServiceAsBackend(ctx context.Context, chainBookingID common.Hash) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.txHash, nil
}

func (c *fakeChain) TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error) {
	return &chain.TxStatus{Hash: txHash, Confirmed: true, Success: true}, nil
}

type serviceFixture struct {
	svc      *Service
	store    *fakeStore
	ledger   *fakeLedger
	signer   *fakeSigner
	refunds  *fakeRefundSigner
	eventLog *fakeEventLog
	meetings *fakeMeetings
	checker  *fakeChecker
	chain    *fakeChain

	customerID uuid.UUID
	providerID uuid.UUID
	serviceID  uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:      newFakeStore(),
		ledger:     &fakeLedger{balance: 500},
		signer:     &fakeSigner{},
		refunds:    &fakeRefundSigner{},
		eventLog:   &fakeEventLog{},
		meetings:   &fakeMeetings{},
		checker:    &fakeChecker{report: &meetings.SessionReport{Found: false}},
		chain:      &fakeChain{txHash: "0xfeed"},
		customerID: uuid.New(),
		providerID: uuid.New(),
		serviceID:  uuid.New(),
	}
	dir := fakeDirectory{
		f.customerID: {ID: f.customerID, WalletAddress: "0x1111111111111111111111111111111111111111"},
		f.providerID: {ID: f.providerID, WalletAddress: "0x2222222222222222222222222222222222222222"},
	}
	cat := fakeCatalog{
		f.serviceID: {
			ID:              f.serviceID,
			ProviderID:      f.providerID,
			Title:           "1:1 consultation",
			PriceCents:      2_000,
			DurationMinutes: 60,
			IsOnline:        true,
		},
	}
	f.svc = NewService(ServiceDeps{
		Store:                    f.store,
		Users:                    dir,
		Catalog:                  cat,
		Points:                   f.ledger,
		PointsCalc:               points.NewCalculator(100),
		Signer:                   f.signer,
		Refunds:                  f.refunds,
		Meetings:                 f.meetings,
		Durations:                f.checker,
		Chain:                    f.chain,
		EventLog:                 f.eventLog,
		ContractAddress:          "0x3333333333333333333333333333333333333333",
		PlatformFeeBps:           1000,
		AutoCompleteThresholdPct: 90,
		AutoCompleteAfter:        24 * time.Hour,
	})
	return f
}

func (f *serviceFixture) createReq() CreateRequest {
	return CreateRequest{
		CustomerID:  f.customerID,
		ServiceID:   f.serviceID,
		ScheduledAt: time.Now().Add(48 * time.Hour),
		UsePoints:   true,
	}
}

func TestCreateHappyPath(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Authorization == nil {
		t.Fatal("expected a payment authorization")
	}
	if result.Booking.Status != StatusPendingPayment {
		t.Errorf("status = %s, want pending_payment", result.Booking.Status)
	}
	if result.Booking.ChainBookingID == "" {
		t.Error("chain booking id not stored")
	}
	// 500 points on a $20 service: $5 in points, $15 in USDC.
	if result.PointsUsage.PointsToUse != 500 || result.PointsUsage.UsdcToPay != 1_500 {
		t.Errorf("points usage = %+v", result.PointsUsage)
	}
	if !f.store.reserveRan {
		t.Error("points reservation did not run inside the create transaction")
	}
}

func TestCreateRejectsSelfBooking(t *testing.T) {
	f := newServiceFixture(t)
	req := f.createReq()
	req.CustomerID = f.providerID

	_, err := f.svc.Create(context.Background(), req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCreateRejectsPastTime(t *testing.T) {
	f := newServiceFixture(t)
	req := f.createReq()
	req.ScheduledAt = time.Now().Add(-time.Hour)

	_, err := f.svc.Create(context.Background(), req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCreateReturnsConflict(t *testing.T) {
	f := newServiceFixture(t)
	f.store.conflictOnCreate = true

	_, err := f.svc.Create(context.Background(), f.createReq())
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestCreateDegradesWithoutWallet(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.deps.Users = fakeDirectory{
		f.customerID: {ID: f.customerID}, // no wallet yet
		f.providerID: {ID: f.providerID, WalletAddress: "0x2222222222222222222222222222222222222222"},
	}

	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.PaymentSetup != PaymentSetupPending {
		t.Errorf("PaymentSetup = %q, want %q", result.PaymentSetup, PaymentSetupPending)
	}
	if result.Authorization != nil {
		t.Error("no authorization should be issued without a wallet")
	}
	if result.Booking.Status != StatusPending {
		t.Errorf("status = %s, want pending", result.Booking.Status)
	}
}

func TestCreateSurvivesSignerFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.signer.err = errors.New("nonce store down")

	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create should not fail when only signing fails: %v", err)
	}
	if result.PaymentSetup != PaymentSetupPending {
		t.Errorf("PaymentSetup = %q, want %q", result.PaymentSetup, PaymentSetupPending)
	}
}

func TestAuthorizePaymentChecks(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := result.Booking.ID

	if _, err := f.svc.AuthorizePayment(context.Background(), id, f.providerID); !errors.Is(err, ErrNotCustomer) {
		t.Errorf("provider authorize err = %v, want ErrNotCustomer", err)
	}

	f.store.bookings[id].Status = StatusPaid
	if _, err := f.svc.AuthorizePayment(context.Background(), id, f.customerID); !errors.Is(err, ErrNotEligible) {
		t.Errorf("paid authorize err = %v, want ErrNotEligible", err)
	}

	f.store.bookings[id].Status = StatusPendingPayment
	auth, err := f.svc.AuthorizePayment(context.Background(), id, f.customerID)
	if err != nil {
		t.Fatalf("AuthorizePayment: %v", err)
	}
	if auth == nil {
		t.Fatal("expected authorization")
	}
}

func TestUpdateStatusEnforcesMachine(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID

	// pending_payment -> completed is not a legal edge for anyone.
	if _, err := f.svc.UpdateStatus(context.Background(), id, f.providerID, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}

	// paid -> confirmed is the provider's move; the customer may not.
	f.store.bookings[id].Status = StatusPaid
	if _, err := f.svc.UpdateStatus(context.Background(), id, f.customerID, StatusConfirmed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("customer confirm err = %v, want ErrInvalidTransition", err)
	}

	updated, err := f.svc.UpdateStatus(context.Background(), id, f.providerID, StatusConfirmed)
	if err != nil {
		t.Fatalf("provider confirm: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Errorf("status = %s", updated.Status)
	}
	if f.meetings.calls == 0 {
		t.Error("online booking should get a meeting link on confirmation")
	}
	if f.store.meetingLink == "" {
		t.Error("meeting link was not persisted")
	}
}

func TestUpdateStatusStrangerRejected(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())

	_, err := f.svc.UpdateStatus(context.Background(), result.Booking.ID, uuid.New(), StatusCancelled)
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}
}

func TestCancelReleasesPoints(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID

	cancelled, err := f.svc.Cancel(context.Background(), id, f.customerID, "changed plans")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	if len(f.ledger.released) != 1 || f.ledger.released[0] != id {
		t.Errorf("points not released: %v", f.ledger.released)
	}
}

func TestRejectProviderOnly(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	f.store.bookings[id].Status = StatusConfirmed

	if _, err := f.svc.Reject(context.Background(), id, f.customerID, "no show"); !errors.Is(err, ErrNotProvider) {
		t.Errorf("customer reject err = %v, want ErrNotProvider", err)
	}

	rejected, err := f.svc.Reject(context.Background(), id, f.providerID, "double booked")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s", rejected.Status)
	}
}

func TestRejectOnlyFromConfirmed(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())

	// Still pending_payment: rejection is not a legal move yet.
	_, err := f.svc.Reject(context.Background(), result.Booking.ID, f.providerID, "too early")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if f.store.bookings[result.Booking.ID].Status == StatusRejected {
		t.Error("booking must not be rejected from a non-confirmed status")
	}
}

func TestRejectRefundsChainPaidBooking(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusConfirmed
	b.PaymentTxHash = "0xabc"

	if _, err := f.svc.Reject(context.Background(), id, f.providerID, "emergency"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if f.refunds.calls != 1 {
		t.Fatalf("refund signer calls = %d, want 1", f.refunds.calls)
	}
	// Full refund: the customer gets everything that moved, nobody else
	// takes a cut.
	if got, want := f.refunds.last.CustomerAmount, escrow.UsdcFromCents(b.TotalPriceCents); got.Cmp(want) != 0 {
		t.Errorf("CustomerAmount = %s, want %s", got, want)
	}
	if f.refunds.last.ProviderAmount.Sign() != 0 || f.refunds.last.PlatformAmount.Sign() != 0 {
		t.Errorf("provider/platform amounts must be zero on rejection: %+v", f.refunds.last)
	}

	found := false
	for _, et := range f.eventLog.types {
		if et == chain.EventRefundProcessed {
			found = true
		}
	}
	if !found {
		t.Errorf("no refund_processed event recorded, events = %v", f.eventLog.types)
	}
}

func TestRejectStandsWhenRefundSigningFails(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusConfirmed
	b.PaymentTxHash = "0xabc"
	f.refunds.err = errors.New("kms unavailable")

	rejected, err := f.svc.Reject(context.Background(), id, f.providerID, "emergency")
	if err != nil {
		t.Fatalf("Reject should not fail when only refund signing fails: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s", rejected.Status)
	}
	for _, et := range f.eventLog.types {
		if et == chain.EventRefundProcessed {
			t.Error("no refund event may be logged for an unsigned refund")
		}
	}
}

func TestCreateSetsServiceFee(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// 10% of the $20 original price.
	if result.Booking.ServiceFeeCents != 200 {
		t.Errorf("ServiceFeeCents = %d, want 200", result.Booking.ServiceFeeCents)
	}
}

func TestCreateDegradesWhenChainIDWriteFails(t *testing.T) {
	f := newServiceFixture(t)
	f.store.chainIDErr = ErrStaleStatus

	result, err := f.svc.Create(context.Background(), f.createReq())
	if err != nil {
		t.Fatalf("Create should not fail when the chain id write loses: %v", err)
	}
	if result.Booking == nil {
		t.Fatal("the created booking must stay in the response")
	}
	if result.Authorization != nil {
		t.Error("the signature must be withheld when its chain id is not on record")
	}
	if result.PaymentSetup != PaymentSetupPending {
		t.Errorf("PaymentSetup = %q, want %q", result.PaymentSetup, PaymentSetupPending)
	}
}

func TestCompleteByCustomerReturnsCallData(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	f.store.bookings[id].Status = StatusInProgress
	f.store.bookings[id].PaymentTxHash = "0xabc"

	instr, err := f.svc.CompleteByCustomer(context.Background(), id, f.customerID)
	if err != nil {
		t.Fatalf("CompleteByCustomer: %v", err)
	}
	if instr.To != "0x3333333333333333333333333333333333333333" {
		t.Errorf("To = %s", instr.To)
	}
	if !strings.HasPrefix(instr.Data, "0x") || len(instr.Data) != 2+8+64 {
		t.Errorf("calldata = %s, want selector plus bytes32", instr.Data)
	}

	if _, err := f.svc.CompleteByCustomer(context.Background(), id, f.providerID); !errors.Is(err, ErrNotCustomer) {
		t.Errorf("provider complete err = %v, want ErrNotCustomer", err)
	}
}

func TestCompleteAsBackendShortSessionBlocks(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusInProgress
	b.MeetingLink = "https://meet.google.com/abc-defg-hij"
	b.PaymentTxHash = "0xabc"
	f.checker.report = &meetings.SessionReport{Found: true, ProviderSeconds: 600} // 10 of 60 min

	_, err := f.svc.CompleteAsBackend(context.Background(), id, "auto_complete", "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, want := range []string{"600", "3600", "90%"} {
		if !strings.Contains(f.store.blockedReason, want) {
			t.Errorf("blocked reason %q missing %q", f.store.blockedReason, want)
		}
	}
	if f.chain.calls != 0 {
		t.Error("no completion tx may be submitted for a blocked booking")
	}
}

func TestCompleteAsBackendCheckerErrorBlocks(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusInProgress
	b.MeetingLink = "https://meet.google.com/abc-defg-hij"
	f.checker.err = errors.New("meet api down")

	_, err := f.svc.CompleteAsBackend(context.Background(), id, "auto_complete", "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if f.store.blockedReason == "" {
		t.Error("block reason should be persisted when verification is impossible")
	}
}

func TestCompleteAsBackendSubmitsChainTx(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusInProgress
	b.MeetingLink = "https://meet.google.com/abc-defg-hij"
	b.PaymentTxHash = "0xabc"
	b.ChainBookingID = "0x1234"
	f.checker.report = &meetings.SessionReport{Found: true, ProviderSeconds: 3_500}

	completed, err := f.svc.CompleteAsBackend(context.Background(), id, "auto_complete", "")
	if err != nil {
		t.Fatalf("CompleteAsBackend: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s", completed.Status)
	}
	if f.chain.calls != 1 {
		t.Errorf("chain calls = %d, want 1", f.chain.calls)
	}
}

func TestCompleteAsBackendNoRecordingProceeds(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())
	id := result.Booking.ID
	b := f.store.bookings[id]
	b.Status = StatusInProgress
	b.MeetingLink = "https://meet.google.com/abc-defg-hij"
	f.checker.report = &meetings.SessionReport{Found: false}

	if _, err := f.svc.CompleteAsBackend(context.Background(), id, "auto_complete", ""); err != nil {
		t.Fatalf("missing recording should not block completion: %v", err)
	}
}

func TestRunAutoCompletion(t *testing.T) {
	f := newServiceFixture(t)
	r1, _ := f.svc.Create(context.Background(), f.createReq())

	req2 := f.createReq()
	req2.ScheduledAt = req2.ScheduledAt.Add(2 * time.Hour)
	r2, _ := f.svc.Create(context.Background(), req2)

	b1 := f.store.bookings[r1.Booking.ID]
	b2 := f.store.bookings[r2.Booking.ID]
	b1.Status = StatusInProgress
	b2.Status = StatusInProgress
	b2.MeetingLink = "https://meet.google.com/abc-defg-hij"
	f.store.autoCompletable = []*Booking{b1, b2}
	f.checker.report = &meetings.SessionReport{Found: true, ProviderSeconds: 0}

	// b1 has no meeting link so the gate passes; b2's measured session is
	// zero so it blocks.
	n := f.svc.RunAutoCompletion(context.Background(), 10)
	if n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}
	if !f.store.bookings[b2.ID].AutoCompleteBlocked {
		t.Error("short-session booking should be blocked")
	}
}

func TestBlockchainStatusRequiresParticipant(t *testing.T) {
	f := newServiceFixture(t)
	result, _ := f.svc.Create(context.Background(), f.createReq())

	if _, err := f.svc.BlockchainStatus(context.Background(), result.Booking.ID, uuid.New()); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}

	status, err := f.svc.BlockchainStatus(context.Background(), result.Booking.ID, f.customerID)
	if err != nil {
		t.Fatalf("BlockchainStatus: %v", err)
	}
	if status.Booking == nil {
		t.Fatal("booking missing from projection")
	}
}
