package blockchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
)

// anchorGasLimit covers a plain value transfer plus the calldata that
// carries the event payload.
const anchorGasLimit = 100_000

// EthClient is the slice of the node RPC surface the gateway uses.
// *ethclient.Client satisfies it.
type EthClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// EthereumGateway anchors event payloads on an EVM chain by sending a
// zero-value self-transaction whose calldata is the JSON payload.
type EthereumGateway struct {
	client  EthClient
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	nonces  NonceManager
}

var _ ChainGateway = (*EthereumGateway)(nil)

// NewEthereumGateway creates a gateway signing with the given hex
// private key on the given chain.
func NewEthereumGateway(client EthClient, privateKeyHex string, chainID int64, nonces NonceManager) (*EthereumGateway, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse chain private key: %w", err)
	}

	return &EthereumGateway{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		nonces:  nonces,
	}, nil
}

// Address returns the sender address derived from the signing key.
func (g *EthereumGateway) Address() string {
	return g.address.Hex()
}

// SubmitTransaction sends the payload and returns the transaction
// hash. A nonce conflict triggers one resync against the chain's
// pending nonce followed by a single retry; if the retry also fails
// the error is permanent.
func (g *EthereumGateway) SubmitTransaction(ctx context.Context, payload map[string]interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload not serializable: %v", ErrSubmission, err)
	}

	hash, err := g.send(ctx, data)
	if err == nil {
		return hash, nil
	}
	if !isNonceConflict(err) {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.Get().Warn("nonce conflict on submission, resyncing from chain",
		zap.String("address", g.address.Hex()),
		zap.Error(err))

	if _, syncErr := g.nonces.SyncFromChain(ctx, g.address.Hex()); syncErr != nil {
		return "", fmt.Errorf("%w: nonce resync failed: %v", ErrSubmission, syncErr)
	}

	hash, err = g.send(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: retry after nonce resync failed: %v", ErrSubmission, err)
	}
	return hash, nil
}

func (g *EthereumGateway) send(ctx context.Context, data []byte) (string, error) {
	nonce, err := g.nonces.NextNonce(ctx, g.address.Hex())
	if err != nil {
		return "", err
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, g.address, big.NewInt(0), anchorGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// GetReceipt fetches the receipt plus confirmation depth. Unknown
// transactions yield (nil, nil).
func (g *EthereumGateway) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
	}

	latest, err := g.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	header, err := g.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block header %s: %w", receipt.BlockNumber, err)
	}

	block := receipt.BlockNumber.Uint64()
	confirmations := uint64(0)
	if latest >= block {
		confirmations = latest - block
	}

	status := ReceiptStatusFailed
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = ReceiptStatusSuccess
	}

	return &Receipt{
		BlockNumber:   block,
		Confirmations: confirmations,
		Timestamp:     time.Unix(int64(header.Time), 0).UTC(),
		Status:        status,
		GasUsed:       receipt.GasUsed,
	}, nil
}

func isNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce") || strings.Contains(msg, "replacement transaction")
}

// EthNonceReader adapts *ethclient.Client to PendingNonceReader.
type EthNonceReader struct {
	client *ethclient.Client
}

var _ PendingNonceReader = (*EthNonceReader)(nil)

// NewEthNonceReader wraps the client for nonce resyncs.
func NewEthNonceReader(client *ethclient.Client) *EthNonceReader {
	return &EthNonceReader{client: client}
}

// PendingNonceAtHex returns the chain's pending nonce for the address.
func (r *EthNonceReader) PendingNonceAtHex(ctx context.Context, address string) (uint64, error) {
	return r.client.PendingNonceAt(ctx, common.HexToAddress(address))
}
