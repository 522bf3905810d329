package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

type mockGateway struct {
	mu        sync.Mutex
	submitErr error
	submitted []map[string]interface{}
	receipts  map[string]*Receipt
	lookupErr error
}

func newMockGateway() *mockGateway {
	return &mockGateway{receipts: make(map[string]*Receipt)}
}

func (g *mockGateway) SubmitTransaction(ctx context.Context, payload map[string]interface{}) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submitted = append(g.submitted, payload)
	return fmt.Sprintf("0xtx%04d", len(g.submitted)), nil
}

func (g *mockGateway) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	return g.receipts[txHash], nil
}

func (g *mockGateway) setReceipt(txHash string, receipt *Receipt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipts[txHash] = receipt
}

func (g *mockGateway) submissions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

type serviceFixture struct {
	broker  *messaging.MemoryBroker
	queue   *messaging.MemoryQueue
	store   *MemoryStore
	gateway *mockGateway
	service *Service
}

func newServiceFixture(t *testing.T, cfg ServiceConfig) *serviceFixture {
	t.Helper()
	broker := messaging.NewMemoryBroker()
	queue := messaging.NewMemoryQueue(broker, "blockchain-test")
	store := NewMemoryStore()
	gateway := newMockGateway()
	return &serviceFixture{
		broker:  broker,
		queue:   queue,
		store:   store,
		gateway: gateway,
		service: NewService(store, gateway, queue, cfg),
	}
}

func TestRegisterEventSavesPendingRecord(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1",
		map[string]interface{}{"event": "shipment.created"}, "saga-1")
	require.NoError(t, err)
	require.NotEmpty(t, record.TxHash)
	assert.Equal(t, StatusPending, record.Status)

	stored, err := f.store.GetByTxHash(ctx, record.TxHash)
	require.NoError(t, err)
	assert.Equal(t, "ship-1", stored.ShipmentID)
	assert.Equal(t, StatusPending, stored.Status)

	events := f.broker.PublishedEvents(messaging.TopicBlockchainEvents)
	require.Len(t, events, 1)
	assert.Equal(t, messaging.EventBlockchainRecorded, events[0].EventType)
	assert.Equal(t, "saga-1", events[0].CorrelationID)
	assert.Equal(t, record.TxHash, events[0].PayloadString("transaction_hash"))
}

func TestRegisterEventSubmissionFailure(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	f.gateway.submitErr = fmt.Errorf("%w: out of gas money", ErrSubmission)

	_, err := f.service.RegisterEvent(context.Background(), "ship-1", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)

	pending, err := f.store.GetPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "no record without a transaction")
}

func TestUpdateConfirmationConfirmsAtRequiredDepth(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{RequiredConfirmations: 6})
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1", nil, "")
	require.NoError(t, err)

	minedAt := time.Now().UTC().Truncate(time.Second)
	f.gateway.setReceipt(record.TxHash, &Receipt{
		BlockNumber:   100,
		Confirmations: 5,
		Timestamp:     minedAt,
		Status:        ReceiptStatusSuccess,
		GasUsed:       21384,
	})

	// One short of the required depth, still pending
	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusPending, record.Status)
	assert.Len(t, f.broker.PublishedEvents(messaging.TopicBlockchainEvents), 1,
		"only the recorded event so far")

	f.gateway.setReceipt(record.TxHash, &Receipt{
		BlockNumber:   100,
		Confirmations: 6,
		Timestamp:     minedAt,
		Status:        ReceiptStatusSuccess,
		GasUsed:       21384,
	})

	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusConfirmed, record.Status)
	assert.Equal(t, uint64(100), record.BlockNumber)
	assert.Equal(t, uint64(21384), record.GasUsed)
	require.NotNil(t, record.ConfirmedAt)
	assert.True(t, record.ConfirmedAt.Equal(minedAt))

	stored, err := f.store.GetByTxHash(ctx, record.TxHash)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)

	events := f.broker.PublishedEvents(messaging.TopicBlockchainEvents)
	require.Len(t, events, 2)
	verified := events[1]
	assert.Equal(t, messaging.EventBlockchainVerified, verified.EventType)
	assert.Equal(t, record.TxHash, verified.PayloadString("transaction_hash"))
	assert.Equal(t, "ship-1", verified.PayloadString("shipment_id"))
}

func TestUpdateConfirmationFailsOnRevert(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1", nil, "")
	require.NoError(t, err)

	f.gateway.setReceipt(record.TxHash, &Receipt{
		BlockNumber:   100,
		Confirmations: 10,
		Status:        ReceiptStatusFailed,
	})

	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "reverted")

	assert.Len(t, f.broker.PublishedEvents(messaging.TopicBlockchainEvents), 1,
		"reverted transactions do not emit a verified event")
}

func TestUpdateConfirmationDropsUnknownTxAfterDeadline(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{DropAfter: time.Hour})
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1", nil, "")
	require.NoError(t, err)
	record.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusDropped, record.Status)
	assert.Contains(t, record.ErrorMessage, "unknown to chain")

	pending, err := f.store.GetPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpdateConfirmationUnknownTxStaysPendingBeforeDeadline(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1", nil, "")
	require.NoError(t, err)

	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusPending, record.Status)
}

func TestUpdateConfirmationLookupErrorLeavesRecordPending(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	ctx := context.Background()

	record, err := f.service.RegisterEvent(ctx, "ship-1", nil, "")
	require.NoError(t, err)

	f.gateway.lookupErr = errors.New("node unreachable")
	err = f.service.UpdateConfirmation(ctx, record)
	require.Error(t, err)
	assert.Equal(t, StatusPending, record.Status)
}

func TestUpdateConfirmationSkipsTerminalRecords(t *testing.T) {
	f := newServiceFixture(t, DefaultServiceConfig())
	ctx := context.Background()

	record := NewRecord("ship-1", "0xdead", nil)
	record.Fail("earlier revert")
	require.NoError(t, f.store.Save(ctx, record))

	require.NoError(t, f.service.UpdateConfirmation(ctx, record))
	assert.Equal(t, StatusFailed, record.Status)
}
