package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// test key, never used anywhere real
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type recordingNonceStore struct {
	recorded []string
	types    []string
	failNext bool
}

func (r *recordingNonceStore) Record(_ context.Context, nonce string, _ uuid.UUID, signatureType string) error {
	if r.failNext {
		return errors.New("nonce table unavailable")
	}
	r.recorded = append(r.recorded, nonce)
	r.types = append(r.types, signatureType)
	return nil
}

func newTestSigner(t *testing.T, nonces NonceRecorder) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, 8453, "0x5FbDB2315678afecb367f032d93F642f64180aa3", 5*time.Minute, FeeConfig{PlatformBps: 1000, InviterBps: 200}, nonces, nil)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func paymentRequest() BookingAuthRequest {
	return BookingAuthRequest{
		BookingID:      uuid.New(),
		Customer:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Provider:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:         UsdcFromCents(10_000),
		OriginalAmount: UsdcFromCents(10_000),
		ScheduledAt:    time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSignBookingAuthorizationNoInviter(t *testing.T) {
	store := &recordingNonceStore{}
	signer := newTestSigner(t, store)

	auth, err := signer.SignBookingAuthorization(context.Background(), paymentRequest())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if auth.InviterFeeBps != 0 {
		t.Errorf("inviter rate = %d, want 0 without referrer", auth.InviterFeeBps)
	}
	if auth.Amount != "100000000" || auth.OriginalAmount != "100000000" {
		t.Errorf("amounts not decimal base-unit strings: %s / %s", auth.Amount, auth.OriginalAmount)
	}
	if auth.ChainBookingID == (common.Hash{}) {
		t.Error("chain booking id is zero")
	}

	sig, err := hexutil.Decode(auth.Signature)
	if err != nil {
		t.Fatalf("signature not hex: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("recovery id = %d, want 27 or 28", v)
	}
}

func TestNonceRecordedBeforeSignatureReturned(t *testing.T) {
	store := &recordingNonceStore{failNext: true}
	signer := newTestSigner(t, store)

	auth, err := signer.SignBookingAuthorization(context.Background(), paymentRequest())
	if err == nil {
		t.Fatal("expected error when nonce cannot be recorded")
	}
	if auth != nil {
		t.Fatal("no signature may leave the process without a recorded nonce")
	}
}

func TestRepeatedAuthorizationsUseDistinctNonces(t *testing.T) {
	store := &recordingNonceStore{}
	signer := newTestSigner(t, store)
	req := paymentRequest()

	first, err := signer.SignBookingAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	second, err := signer.SignBookingAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}

	if first.Nonce == second.Nonce {
		t.Error("two authorizations share a nonce")
	}
	if first.ChainBookingID == second.ChainBookingID {
		t.Error("chain booking id must change with the nonce")
	}
	if len(store.recorded) != 2 {
		t.Errorf("recorded %d nonces, want 2", len(store.recorded))
	}
	for _, typ := range store.types {
		if typ != SignatureTypeBookingPayment {
			t.Errorf("unexpected signature type %s", typ)
		}
	}
}

func TestSignCancellationSplits(t *testing.T) {
	store := &recordingNonceStore{}
	signer := newTestSigner(t, store)

	cancel, err := signer.SignCancellation(context.Background(), CancellationAuthRequest{
		BookingID:      uuid.New(),
		ChainBookingID: common.HexToHash("0xdeadbeef"),
		CustomerAmount: UsdcFromCents(5_000),
		ProviderAmount: UsdcFromCents(4_000),
		PlatformAmount: UsdcFromCents(1_000),
		Reason:         "provider requested",
	})
	if err != nil {
		t.Fatalf("sign cancellation: %v", err)
	}

	if cancel.CustomerAmount != "50000000" {
		t.Errorf("customer amount = %s", cancel.CustomerAmount)
	}
	if cancel.InviterAmount != "0" {
		t.Errorf("nil inviter amount should serialize as 0, got %s", cancel.InviterAmount)
	}
	if len(store.types) != 1 || store.types[0] != SignatureTypeCancellation {
		t.Errorf("cancellation nonce not recorded with its own type: %v", store.types)
	}
}

func TestInvalidAmountsRejected(t *testing.T) {
	signer := newTestSigner(t, &recordingNonceStore{})

	req := paymentRequest()
	req.OriginalAmount = big.NewInt(0)
	if _, err := signer.SignBookingAuthorization(context.Background(), req); err == nil {
		t.Error("zero original amount accepted")
	}
}
