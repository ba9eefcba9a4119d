package escrow

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainslot/chainslot/pkg/logging"
)

var escrowTracer = otel.Tracer("chainslot.internal.escrow")

// Signature purposes recorded alongside nonces.
const (
	SignatureTypeBookingPayment = "booking_payment"
	SignatureTypeCancellation   = "cancellation_refund"
)

// NonceRecorder persists a nonce before the matching signature leaves the
// process. A recorded nonce can never authorize a second transfer.
type NonceRecorder interface {
	Record(ctx context.Context, nonce string, bookingID uuid.UUID, signatureType string) error
}

// BookingAuthRequest is the input for a payment authorization signature.
type BookingAuthRequest struct {
	BookingID      uuid.UUID
	Customer       common.Address
	Provider       common.Address
	Inviter        common.Address // zero address when there is no referrer
	Amount         *big.Int       // USDC base units actually moved (post points)
	OriginalAmount *big.Int       // pre-points amount, fee base
	ScheduledAt    time.Time
}

// CancellationAuthRequest is the input for a refund authorization signature.
type CancellationAuthRequest struct {
	BookingID      uuid.UUID
	ChainBookingID common.Hash
	CustomerAmount *big.Int
	ProviderAmount *big.Int
	PlatformAmount *big.Int
	InviterAmount  *big.Int
	Reason         string
}

// SignedAuthorization is what the client submits to the escrow contract.
// All big values are serialized as decimal strings at the API boundary.
type SignedAuthorization struct {
	ChainBookingID common.Hash    `json:"booking_id"`
	Customer       common.Address `json:"customer"`
	Provider       common.Address `json:"provider"`
	Inviter        common.Address `json:"inviter"`
	Amount         string         `json:"amount"`
	OriginalAmount string         `json:"original_amount"`
	PlatformFeeBps int            `json:"platform_fee_bps"`
	InviterFeeBps  int            `json:"inviter_fee_bps"`
	Expiry         int64          `json:"expiry"`
	Nonce          string         `json:"nonce"`
	Signature      string         `json:"signature"`
}

// SignedCancellation authorizes the on-chain refund split.
type SignedCancellation struct {
	ChainBookingID common.Hash `json:"booking_id"`
	CustomerAmount string      `json:"customer_amount"`
	ProviderAmount string      `json:"provider_amount"`
	PlatformAmount string      `json:"platform_amount"`
	InviterAmount  string      `json:"inviter_amount"`
	Reason         string      `json:"reason"`
	Expiry         int64       `json:"expiry"`
	Nonce          string      `json:"nonce"`
	Signature      string      `json:"signature"`
}

// Signer issues EIP-712 authorizations for the escrow contract.
type Signer struct {
	key    *ecdsa.PrivateKey
	domain apitypes.TypedDataDomain
	expiry time.Duration
	nonces NonceRecorder
	fees   FeeConfig
	logger *logging.Logger
}

// NewSigner creates a signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64, contractAddress string, expiry time.Duration, fees FeeConfig, nonces NonceRecorder, logger *logging.Logger) (*Signer, error) {
	if nonces == nil {
		return nil, fmt.Errorf("escrow: nonce recorder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("escrow: parse signer key: %w", err)
	}
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &Signer{
		key: key,
		domain: apitypes.TypedDataDomain{
			Name:              "ChainslotEscrow",
			Version:           "1",
			ChainId:           ethmath.NewHexOrDecimal256(chainID),
			VerifyingContract: contractAddress,
		},
		expiry: expiry,
		nonces: nonces,
		fees:   fees,
		logger: logger,
	}, nil
}

// Address returns the public signer address the contract trusts.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Fees exposes the configured fee rates.
func (s *Signer) Fees() FeeConfig {
	return s.fees
}

// SignBookingAuthorization derives the chain booking id, records the nonce,
// and signs the payment authorization. The nonce write happens-before the
// signature is returned; the caller must persist the chain booking id
// before handing the signature to the client.
func (s *Signer) SignBookingAuthorization(ctx context.Context, req BookingAuthRequest) (*SignedAuthorization, error) {
	ctx, span := escrowTracer.Start(ctx, "escrow.sign_booking_authorization",
		trace.WithAttributes(attribute.String("chainslot.booking_id", req.BookingID.String())))
	defer span.End()
	if req.Amount != nil {
		span.SetAttributes(attribute.String("chainslot.amount", req.Amount.String()))
	}

	if req.Amount == nil || req.OriginalAmount == nil {
		return nil, fmt.Errorf("escrow: amount and original amount required")
	}
	if req.Amount.Sign() < 0 || req.OriginalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amounts must be positive")
	}

	hasInviter := req.Inviter != (common.Address{})
	breakdown := s.fees.CalculateFees(req.OriginalAmount, hasInviter)

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("escrow: generate nonce: %w", err)
	}
	chainID := deriveChainBookingID(req.BookingID, req.Customer, req.Provider, req.ScheduledAt, nonce)

	if err := s.nonces.Record(ctx, nonce.String(), req.BookingID, SignatureTypeBookingPayment); err != nil {
		return nil, fmt.Errorf("escrow: record nonce: %w", err)
	}

	expiry := time.Now().Add(s.expiry).Unix()
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType(),
			"BookingAuthorization": {
				{Name: "bookingId", Type: "bytes32"},
				{Name: "customer", Type: "address"},
				{Name: "provider", Type: "address"},
				{Name: "inviter", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "originalAmount", Type: "uint256"},
				{Name: "platformFeeBps", Type: "uint256"},
				{Name: "inviterFeeBps", Type: "uint256"},
				{Name: "expiry", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "BookingAuthorization",
		Domain:      s.domain,
		Message: apitypes.TypedDataMessage{
			"bookingId":      chainID.Hex(),
			"customer":       req.Customer.Hex(),
			"provider":       req.Provider.Hex(),
			"inviter":        req.Inviter.Hex(),
			"amount":         (*ethmath.HexOrDecimal256)(req.Amount),
			"originalAmount": (*ethmath.HexOrDecimal256)(req.OriginalAmount),
			"platformFeeBps": ethmath.NewHexOrDecimal256(int64(breakdown.PlatformFeeBps)),
			"inviterFeeBps":  ethmath.NewHexOrDecimal256(int64(breakdown.InviterFeeBps)),
			"expiry":         ethmath.NewHexOrDecimal256(expiry),
			"nonce":          (*ethmath.HexOrDecimal256)(nonce),
		},
	}

	sig, err := s.signTypedData(typed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking authorization signed",
		"booking_id", req.BookingID,
		"chain_booking_id", chainID.Hex(),
		"amount", req.Amount.String(),
		"expiry", expiry,
	)

	return &SignedAuthorization{
		ChainBookingID: chainID,
		Customer:       req.Customer,
		Provider:       req.Provider,
		Inviter:        req.Inviter,
		Amount:         req.Amount.String(),
		OriginalAmount: req.OriginalAmount.String(),
		PlatformFeeBps: breakdown.PlatformFeeBps,
		InviterFeeBps:  breakdown.InviterFeeBps,
		Expiry:         expiry,
		Nonce:          nonce.String(),
		Signature:      hexutil.Encode(sig),
	}, nil
}

// SignCancellation signs the refund split for a cancelled booking. Same
// nonce discipline as payment authorizations.
func (s *Signer) SignCancellation(ctx context.Context, req CancellationAuthRequest) (*SignedCancellation, error) {
	ctx, span := escrowTracer.Start(ctx, "escrow.sign_cancellation")
	defer span.End()
	span.SetAttributes(attribute.String("chainslot.booking_id", req.BookingID.String()))

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("escrow: generate nonce: %w", err)
	}
	if err := s.nonces.Record(ctx, nonce.String(), req.BookingID, SignatureTypeCancellation); err != nil {
		return nil, fmt.Errorf("escrow: record nonce: %w", err)
	}

	expiry := time.Now().Add(s.expiry).Unix()
	reasonHash := crypto.Keccak256Hash([]byte(req.Reason))
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType(),
			"CancellationAuthorization": {
				{Name: "bookingId", Type: "bytes32"},
				{Name: "customerAmount", Type: "uint256"},
				{Name: "providerAmount", Type: "uint256"},
				{Name: "platformAmount", Type: "uint256"},
				{Name: "inviterAmount", Type: "uint256"},
				{Name: "reason", Type: "bytes32"},
				{Name: "expiry", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "CancellationAuthorization",
		Domain:      s.domain,
		Message: apitypes.TypedDataMessage{
			"bookingId":      req.ChainBookingID.Hex(),
			"customerAmount": (*ethmath.HexOrDecimal256)(orZero(req.CustomerAmount)),
			"providerAmount": (*ethmath.HexOrDecimal256)(orZero(req.ProviderAmount)),
			"platformAmount": (*ethmath.HexOrDecimal256)(orZero(req.PlatformAmount)),
			"inviterAmount":  (*ethmath.HexOrDecimal256)(orZero(req.InviterAmount)),
			"reason":         reasonHash.Hex(),
			"expiry":         ethmath.NewHexOrDecimal256(expiry),
			"nonce":          (*ethmath.HexOrDecimal256)(nonce),
		},
	}

	sig, err := s.signTypedData(typed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cancellation authorization signed",
		"booking_id", req.BookingID,
		"chain_booking_id", req.ChainBookingID.Hex(),
		"customer_amount", orZero(req.CustomerAmount).String(),
	)

	return &SignedCancellation{
		ChainBookingID: req.ChainBookingID,
		CustomerAmount: orZero(req.CustomerAmount).String(),
		ProviderAmount: orZero(req.ProviderAmount).String(),
		PlatformAmount: orZero(req.PlatformAmount).String(),
		InviterAmount:  orZero(req.InviterAmount).String(),
		Reason:         req.Reason,
		Expiry:         expiry,
		Nonce:          nonce.String(),
		Signature:      hexutil.Encode(sig),
	}, nil
}

func (s *Signer) signTypedData(typed apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("escrow: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("escrow: sign digest: %w", err)
	}
	// Contracts expect the legacy 27/28 recovery id.
	sig[64] += 27
	return sig, nil
}

// deriveChainBookingID computes the on-chain correlation key. It is a hash
// over the internal booking identity plus the nonce, so every issued
// authorization correlates to exactly one chain id.
func deriveChainBookingID(bookingID uuid.UUID, customer, provider common.Address, scheduledAt time.Time, nonce *big.Int) common.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(scheduledAt.Unix()))
	return crypto.Keccak256Hash(
		bookingID[:],
		customer.Bytes(),
		provider.Bytes(),
		ts[:],
		common.BigToHash(nonce).Bytes(),
	)
}

func domainType() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

func randomNonce() (*big.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
