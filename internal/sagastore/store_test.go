package sagastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	saga := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	require.NoError(t, store.Save(ctx, saga))

	got, err := store.Get(ctx, saga.SagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.SagaID, got.SagaID)
	assert.Equal(t, StatusStarted, got.Status)
	assert.Equal(t, "ship-1", got.ShipmentID)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestMemoryStoreUpsertUpdatesMutableColumnsOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	saga := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	require.NoError(t, store.Save(ctx, saga))

	originalStarted := saga.StartedAt

	updated := saga.Clone()
	updated.WarehouseID = "wh-1"
	updated.SagaType = "something_else"
	updated.StartedAt = time.Now().Add(time.Hour)
	updated.MarkCompensating("delivery.failed")
	require.NoError(t, store.Save(ctx, updated))

	got, err := store.Get(ctx, saga.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "wh-1", got.WarehouseID)
	assert.Equal(t, StatusCompensating, got.Status)
	assert.Equal(t, "delivery.failed", got.FailedStep)
	// Immutable columns keep their original values
	assert.Equal(t, SagaTypeShipmentFulfillment, got.SagaType)
	assert.True(t, got.StartedAt.Equal(originalStarted))
}

func TestMemoryStoreOneActiveSagaPerShipment(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	require.NoError(t, store.Save(ctx, first))

	second := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	err := store.Save(ctx, second)
	assert.ErrorIs(t, err, ErrActiveShipmentExists)

	// Once the first saga is terminal a new one may start
	first.MarkFailed("inventory.reserve", "inventory_insufficient")
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
}

func TestMemoryStoreGetActiveByShipment(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	done := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	done.MarkCompleted()
	require.NoError(t, store.Save(ctx, done))

	_, err := store.GetActiveByShipment(ctx, "ship-1")
	assert.ErrorIs(t, err, ErrSagaNotFound, "completed saga is not active")

	active := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	require.NoError(t, store.Save(ctx, active))

	got, err := store.GetActiveByShipment(ctx, "ship-1")
	require.NoError(t, err)
	assert.Equal(t, active.SagaID, got.SagaID)
}

func TestMemoryStoreListActiveOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, shipment := range []string{"ship-c", "ship-a", "ship-b"} {
		saga := NewInstance(SagaTypeShipmentFulfillment, shipment)
		saga.UpdatedAt = base.Add(time.Duration(2-i) * time.Minute)
		require.NoError(t, store.Save(ctx, saga))
	}

	terminal := NewInstance(SagaTypeShipmentFulfillment, "ship-d")
	terminal.MarkCompleted()
	require.NoError(t, store.Save(ctx, terminal))

	active, err := store.ListActive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "ship-b", active[0].ShipmentID)
	assert.Equal(t, "ship-a", active[1].ShipmentID)
	assert.Equal(t, "ship-c", active[2].ShipmentID)

	limited, err := store.ListActive(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	saga := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	require.NoError(t, store.Save(ctx, saga))

	got, err := store.Get(ctx, saga.SagaID)
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := store.Get(ctx, saga.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, again.Status, "mutating a returned copy must not affect the store")
}

func TestStatusTransitionsAreMonotone(t *testing.T) {
	saga := NewInstance(SagaTypeShipmentFulfillment, "ship-1")
	assert.True(t, saga.IsActive())
	assert.False(t, saga.IsTerminal())

	saga.MarkCompensating("delivery.failed")
	assert.True(t, saga.IsActive())
	assert.Equal(t, "delivery.failed", saga.FailedStep)

	saga.MarkFailed("delivery.failed", "compensated")
	assert.True(t, saga.IsTerminal())

	if errors.Is(nil, ErrSagaNotFound) {
		t.Fatal("sentinel comparison misconfigured")
	}
}
