// Package chain is the thin surface onto the escrow contract's chain. The
// event reconciler that flips bookings to paid/confirmed is a separate
// deployable; this package only submits backend-signed transactions and
// reads transaction state.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainslot/chainslot/pkg/logging"
)

var chainTracer = otel.Tracer("chainslot.internal.chain")

// TxStatus is a read-only projection of an on-chain transaction.
type TxStatus struct {
	Hash      string `json:"hash"`
	Confirmed bool   `json:"confirmed"`
	Success   bool   `json:"success"`
	BlockNum  uint64 `json:"block_number,omitempty"`
}

// completeService(bytes32) selector, keccak over the signature.
var completeServiceSelector = crypto.Keccak256([]byte("completeService(bytes32)"))[:4]

// CompleteServiceCallData builds the calldata a customer wallet submits to
// release escrow for a booking.
func CompleteServiceCallData(chainBookingID common.Hash) []byte {
	return append(append([]byte{}, completeServiceSelector...), chainBookingID.Bytes()...)
}

// Client submits backend transactions to the escrow contract.
type Client struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	contract common.Address
	logger   *logging.Logger
}

func NewClient(rpcURL, privateKeyHex, contractAddress string, chainID int64, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: parse key: %w", err)
	}
	return &Client{
		eth:      eth,
		key:      key,
		chainID:  big.NewInt(chainID),
		contract: common.HexToAddress(contractAddress),
		logger:   logger,
	}, nil
}

// CompleteServiceAsBackend calls completeService(bookingId) on the escrow
// contract with the backend key and returns the transaction hash. The
// reconciler observes the resulting event and writes the completed status.
func (c *Client) CompleteServiceAsBackend(ctx context.Context, chainBookingID common.Hash) (string, error) {
	ctx, span := chainTracer.Start(ctx, "chain.complete_service_backend")
	defer span.End()
	span.SetAttributes(attribute.String("chainslot.chain_booking_id", chainBookingID.Hex()))

	from := crypto.PubkeyToAddress(c.key.PublicKey)
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	data := append(append([]byte{}, completeServiceSelector...), chainBookingID.Bytes()...)
	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), 200_000, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send tx: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("backend completion submitted",
		"chain_booking_id", chainBookingID.Hex(),
		"tx_hash", hash,
	)
	return hash, nil
}

// TransactionStatus reads the receipt for a transaction hash.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	hash := common.HexToHash(txHash)
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		// No receipt yet: pending or unknown, not an internal failure.
		return &TxStatus{Hash: txHash, Confirmed: false}, nil
	}
	return &TxStatus{
		Hash:      txHash,
		Confirmed: true,
		Success:   receipt.Status == types.ReceiptStatusSuccessful,
		BlockNum:  receipt.BlockNumber.Uint64(),
	}, nil
}
