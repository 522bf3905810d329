package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

type fixture struct {
	broker  *messaging.MemoryBroker
	queue   *messaging.MemoryQueue
	store   *sagastore.MemoryStore
	service *SagaService
	cancel  context.CancelFunc
}

func startOrchestrator(t *testing.T) *fixture {
	t.Helper()

	broker := messaging.NewMemoryBroker()
	queue := messaging.NewMemoryQueue(broker, "saga-coordinator")
	queue.PollInterval = 5 * time.Millisecond
	store := sagastore.NewMemoryStore()
	service := NewSagaService(store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	orch := New(queue, service)
	go func() { _ = orch.Run(ctx) }()

	return &fixture{broker: broker, queue: queue, store: store, service: service, cancel: cancel}
}

func publishEvent(t *testing.T, f *fixture, domain messaging.DomainEvent, correlationID, topic string) {
	t.Helper()
	event, err := messaging.ToEvent(domain, correlationID)
	require.NoError(t, err)
	require.NoError(t, f.queue.PublishEvent(context.Background(), event, topic))
}

func waitForSaga(t *testing.T, f *fixture, shipmentID string) *sagastore.SagaInstance {
	t.Helper()
	var saga *sagastore.SagaInstance
	require.Eventually(t, func() bool {
		got, err := f.store.GetActiveByShipment(context.Background(), shipmentID)
		if err != nil {
			return false
		}
		saga = got
		return true
	}, 3*time.Second, 10*time.Millisecond, "saga was not created for shipment %s", shipmentID)
	return saga
}

func waitForStatus(t *testing.T, f *fixture, sagaID string, status sagastore.Status) *sagastore.SagaInstance {
	t.Helper()
	var saga *sagastore.SagaInstance
	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), sagaID)
		if err != nil {
			return false
		}
		saga = got
		return got.Status == status
	}, 3*time.Second, 10*time.Millisecond, "saga %s never reached %s", sagaID, status)
	return saga
}

func commandTypes(cmds []*messaging.Command) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.CommandType)
	}
	return out
}

func TestHappyPath(t *testing.T) {
	f := startOrchestrator(t)

	publishEvent(t, f, messaging.ShipmentCreated{
		ShipmentID:  "ship-1",
		WarehouseID: "wh-1",
		Items:       []messaging.Item{{SKU: "crate", Quantity: 2}},
	}, "", messaging.TopicShipmentEvents)

	saga := waitForSaga(t, f, "ship-1")
	assert.Equal(t, sagastore.StatusStarted, saga.Status)
	assert.Equal(t, "wh-1", saga.WarehouseID)

	require.Eventually(t, func() bool {
		return len(f.broker.PublishedCommands(messaging.TopicInventoryCommands)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	reserve := f.broker.PublishedCommands(messaging.TopicInventoryCommands)[0]
	assert.Equal(t, messaging.CommandReserveInventory, reserve.CommandType)
	assert.Equal(t, "wh-1", reserve.AggregateID)
	assert.Equal(t, saga.SagaID, reserve.CorrelationID)

	publishEvent(t, f, messaging.InventoryReserved{
		WarehouseID: "wh-1",
		ShipmentID:  "ship-1",
		ReservedAt:  time.Now().UTC(),
	}, saga.SagaID, messaging.TopicInventoryEvents)

	require.Eventually(t, func() bool {
		return len(f.broker.PublishedCommands(messaging.TopicDeliveryCommands)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assign := f.broker.PublishedCommands(messaging.TopicDeliveryCommands)[0]
	assert.Equal(t, messaging.CommandAssignCourier, assign.CommandType)

	withDelivery, err := f.store.Get(context.Background(), saga.SagaID)
	require.NoError(t, err)
	assert.NotEmpty(t, withDelivery.DeliveryID)
	assert.Equal(t, withDelivery.DeliveryID, assign.AggregateID)

	publishEvent(t, f, messaging.CourierAssigned{
		DeliveryID: withDelivery.DeliveryID,
		CourierID:  "courier-9",
		ShipmentID: "ship-1",
	}, saga.SagaID, messaging.TopicDeliveryEvents)

	done := waitForStatus(t, f, saga.SagaID, sagastore.StatusCompleted)
	assert.Empty(t, done.FailedStep)

	require.Eventually(t, func() bool {
		types := make(map[string]bool)
		for _, e := range f.broker.PublishedEvents(messaging.TopicSagaEvents) {
			types[e.EventType] = true
		}
		return types[messaging.EventSagaStarted] && types[messaging.EventSagaCompleted]
	}, 3*time.Second, 10*time.Millisecond)
}

func TestInventoryInsufficientFailsWithoutRollback(t *testing.T) {
	f := startOrchestrator(t)

	publishEvent(t, f, messaging.ShipmentCreated{
		ShipmentID:  "ship-2",
		WarehouseID: "wh-1",
	}, "", messaging.TopicShipmentEvents)
	saga := waitForSaga(t, f, "ship-2")

	publishEvent(t, f, messaging.InventoryInsufficient{
		WarehouseID: "wh-1",
		ShipmentID:  "ship-2",
	}, saga.SagaID, messaging.TopicInventoryEvents)

	failed := waitForStatus(t, f, saga.SagaID, sagastore.StatusFailed)
	assert.Equal(t, "inventory.reserve", failed.FailedStep)
	assert.Equal(t, "inventory_insufficient", failed.ErrorMessage)

	require.Eventually(t, func() bool {
		for _, e := range f.broker.PublishedEvents(messaging.TopicShipmentEvents) {
			if e.EventType == messaging.EventShipmentCancelled {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// No forward progress happened, so nothing to roll back
	for _, c := range f.broker.PublishedCommands(messaging.TopicInventoryCommands) {
		assert.NotEqual(t, messaging.CommandReleaseInventory, c.CommandType)
	}
	assert.Empty(t, f.broker.PublishedCommands(messaging.TopicDeliveryCommands))
}

func TestDeliveryFailedCompensatesInReverseOrder(t *testing.T) {
	f := startOrchestrator(t)

	publishEvent(t, f, messaging.ShipmentCreated{
		ShipmentID:  "ship-3",
		WarehouseID: "wh-1",
	}, "", messaging.TopicShipmentEvents)
	saga := waitForSaga(t, f, "ship-3")

	publishEvent(t, f, messaging.InventoryReserved{
		WarehouseID: "wh-1",
		ShipmentID:  "ship-3",
	}, saga.SagaID, messaging.TopicInventoryEvents)

	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), saga.SagaID)
		return err == nil && got.DeliveryID != ""
	}, 3*time.Second, 10*time.Millisecond)

	publishEvent(t, f, messaging.DeliveryFailed{
		DeliveryID: "del-x",
		Reason:     "courier unreachable",
		FailedAt:   time.Now().UTC(),
	}, saga.SagaID, messaging.TopicDeliveryEvents)

	failed := waitForStatus(t, f, saga.SagaID, sagastore.StatusFailed)
	assert.Equal(t, "delivery.assign", failed.FailedStep)

	require.Eventually(t, func() bool {
		return len(f.broker.PublishedCommands(messaging.TopicShipmentCommands)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	invCmds := commandTypes(f.broker.PublishedCommands(messaging.TopicInventoryCommands))
	assert.Contains(t, invCmds, messaging.CommandReleaseInventory)

	delCmds := commandTypes(f.broker.PublishedCommands(messaging.TopicDeliveryCommands))
	assert.Contains(t, delCmds, messaging.CommandUnassignCourier)

	shipCmds := commandTypes(f.broker.PublishedCommands(messaging.TopicShipmentCommands))
	assert.Equal(t, []string{messaging.CommandCancelShipment}, shipCmds)

	// Lifecycle trail includes the compensating marker
	require.Eventually(t, func() bool {
		for _, e := range f.broker.PublishedEvents(messaging.TopicSagaEvents) {
			if e.EventType == messaging.EventSagaCompensating {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDuplicateStartEventIsNoOp(t *testing.T) {
	f := startOrchestrator(t)

	created := messaging.ShipmentCreated{ShipmentID: "ship-4", WarehouseID: "wh-1"}
	publishEvent(t, f, created, "", messaging.TopicShipmentEvents)
	saga := waitForSaga(t, f, "ship-4")

	publishEvent(t, f, created, "", messaging.TopicShipmentEvents)

	// The second delivery must not spawn a second saga or a second command
	time.Sleep(200 * time.Millisecond)
	active, err := f.store.ListActive(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, saga.SagaID, active[0].SagaID)
	assert.Len(t, f.broker.PublishedCommands(messaging.TopicInventoryCommands), 1)
}

func TestEventWithoutCorrelationIDIsSkipped(t *testing.T) {
	f := startOrchestrator(t)

	publishEvent(t, f, messaging.ShipmentCreated{
		ShipmentID:  "ship-5",
		WarehouseID: "wh-1",
	}, "", messaging.TopicShipmentEvents)
	saga := waitForSaga(t, f, "ship-5")

	// Missing correlation_id: logged and dropped
	publishEvent(t, f, messaging.InventoryReserved{
		WarehouseID: "wh-1",
		ShipmentID:  "ship-5",
	}, "", messaging.TopicInventoryEvents)

	time.Sleep(200 * time.Millisecond)
	got, err := f.store.Get(context.Background(), saga.SagaID)
	require.NoError(t, err)
	assert.Equal(t, sagastore.StatusStarted, got.Status)
	assert.Empty(t, got.DeliveryID)
}

func TestUnknownSagaEventIsDropped(t *testing.T) {
	f := startOrchestrator(t)

	publishEvent(t, f, messaging.CourierAssigned{
		DeliveryID: "del-1",
		ShipmentID: "ship-6",
	}, "no-such-saga", messaging.TopicDeliveryEvents)

	time.Sleep(200 * time.Millisecond)
	active, err := f.store.ListActive(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.broker.PublishedEvents(messaging.TopicSagaEvents))
}
