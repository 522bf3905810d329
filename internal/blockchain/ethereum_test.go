package blockchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Throwaway key, never funded anywhere.
const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeNonces struct {
	next      uint64
	chainNext uint64
	syncCalls int
	handedOut []uint64
}

func (n *fakeNonces) NextNonce(ctx context.Context, address string) (uint64, error) {
	nonce := n.next
	n.next++
	n.handedOut = append(n.handedOut, nonce)
	return nonce, nil
}

func (n *fakeNonces) SyncFromChain(ctx context.Context, address string) (uint64, error) {
	n.syncCalls++
	n.next = n.chainNext
	return n.chainNext, nil
}

type fakeEth struct {
	sendErrs []error
	sent     []*types.Transaction

	receipt     *types.Receipt
	receiptErr  error
	latestBlock uint64
	header      *types.Header
}

func (c *fakeEth) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (c *fakeEth) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.sent = append(c.sent, tx)
	if len(c.sendErrs) == 0 {
		return nil
	}
	err := c.sendErrs[0]
	c.sendErrs = c.sendErrs[1:]
	return err
}

func (c *fakeEth) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	return c.receipt, nil
}

func (c *fakeEth) BlockNumber(ctx context.Context) (uint64, error) {
	return c.latestBlock, nil
}

func (c *fakeEth) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.header, nil
}

func newTestGateway(t *testing.T, client *fakeEth, nonces NonceManager) *EthereumGateway {
	t.Helper()
	gateway, err := NewEthereumGateway(client, testPrivateKey, 11155111, nonces)
	require.NoError(t, err)
	return gateway
}

func TestSubmitTransactionSignsAndSends(t *testing.T) {
	client := &fakeEth{}
	nonces := &fakeNonces{next: 7}
	gateway := newTestGateway(t, client, nonces)

	hash, err := gateway.SubmitTransaction(context.Background(),
		map[string]interface{}{"shipment_id": "ship-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(anchorGasLimit), tx.Gas())
	assert.Equal(t, int64(0), tx.Value().Int64())
	assert.Contains(t, string(tx.Data()), "ship-1")
	assert.Equal(t, gateway.address, *tx.To(), "anchoring sends to self")
	assert.Equal(t, 0, nonces.syncCalls)
}

func TestSubmitNonceConflictResyncsAndRetriesOnce(t *testing.T) {
	client := &fakeEth{sendErrs: []error{errors.New("nonce too low")}}
	nonces := &fakeNonces{next: 3, chainNext: 12}
	gateway := newTestGateway(t, client, nonces)

	hash, err := gateway.SubmitTransaction(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.Equal(t, 1, nonces.syncCalls)
	require.Len(t, client.sent, 2)
	assert.Equal(t, uint64(3), client.sent[0].Nonce())
	assert.Equal(t, uint64(12), client.sent[1].Nonce(), "retry uses the resynced nonce")
}

func TestSubmitNonceConflictAfterResyncIsPermanent(t *testing.T) {
	client := &fakeEth{sendErrs: []error{
		errors.New("nonce too low"),
		errors.New("replacement transaction underpriced"),
	}}
	nonces := &fakeNonces{chainNext: 12}
	gateway := newTestGateway(t, client, nonces)

	_, err := gateway.SubmitTransaction(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, 1, nonces.syncCalls, "resync happens exactly once")
	assert.Len(t, client.sent, 2)
}

func TestSubmitOtherErrorDoesNotResync(t *testing.T) {
	client := &fakeEth{sendErrs: []error{errors.New("insufficient funds for gas")}}
	nonces := &fakeNonces{}
	gateway := newTestGateway(t, client, nonces)

	_, err := gateway.SubmitTransaction(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSubmission)
	assert.Equal(t, 0, nonces.syncCalls)
	assert.Len(t, client.sent, 1)
}

func TestGetReceiptUnknownTransaction(t *testing.T) {
	client := &fakeEth{receiptErr: ethereum.NotFound}
	gateway := newTestGateway(t, client, &fakeNonces{})

	receipt, err := gateway.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestGetReceiptComputesConfirmations(t *testing.T) {
	minedAt := time.Now().UTC().Truncate(time.Second)
	client := &fakeEth{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			GasUsed:     21784,
		},
		latestBlock: 106,
		header:      &types.Header{Time: uint64(minedAt.Unix())},
	}
	gateway := newTestGateway(t, client, &fakeNonces{})

	receipt, err := gateway.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(100), receipt.BlockNumber)
	assert.Equal(t, uint64(6), receipt.Confirmations)
	assert.Equal(t, ReceiptStatusSuccess, receipt.Status)
	assert.Equal(t, uint64(21784), receipt.GasUsed)
	assert.True(t, receipt.Timestamp.Equal(minedAt))
}

func TestGetReceiptRevertedTransaction(t *testing.T) {
	client := &fakeEth{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(100),
		},
		latestBlock: 100,
		header:      &types.Header{Time: uint64(time.Now().Unix())},
	}
	gateway := newTestGateway(t, client, &fakeNonces{})

	receipt, err := gateway.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint64(0), receipt.Confirmations)
}
