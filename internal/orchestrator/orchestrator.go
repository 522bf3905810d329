package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

// Orchestrator drives the shipment fulfillment saga:
// shipment.created -> reserve inventory -> assign courier -> completed.
// Failure events flip the saga to failed, with compensation commands
// where forward progress already happened.
type Orchestrator struct {
	queue   messaging.EventQueue
	service *SagaService
}

// New creates the orchestrator.
func New(queue messaging.EventQueue, service *SagaService) *Orchestrator {
	return &Orchestrator{
		queue:   queue,
		service: service,
	}
}

// Run consumes the three input topics until ctx is canceled. One
// consumer goroutine per topic keeps per-topic partition order.
func (o *Orchestrator) Run(ctx context.Context) error {
	shipmentCh, err := o.queue.ConsumeEvents(ctx, messaging.TopicShipmentEvents)
	if err != nil {
		return err
	}
	inventoryCh, err := o.queue.ConsumeEvents(ctx, messaging.TopicInventoryEvents)
	if err != nil {
		return err
	}
	deliveryCh, err := o.queue.ConsumeEvents(ctx, messaging.TopicDeliveryEvents)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for event := range shipmentCh {
			o.handleShipmentEvent(ctx, event)
		}
	}()
	go func() {
		defer wg.Done()
		for event := range inventoryCh {
			o.handleInventoryEvent(ctx, event)
		}
	}()
	go func() {
		defer wg.Done()
		for event := range deliveryCh {
			o.handleDeliveryEvent(ctx, event)
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) handleShipmentEvent(ctx context.Context, event *messaging.Event) {
	if event.EventType == messaging.EventShipmentCreated {
		o.onShipmentCreated(ctx, event)
	}
}

func (o *Orchestrator) handleInventoryEvent(ctx context.Context, event *messaging.Event) {
	switch event.EventType {
	case messaging.EventInventoryReserved:
		o.onInventoryReserved(ctx, event)
	case messaging.EventInventoryInsufficient:
		o.onInventoryInsufficient(ctx, event)
	}
}

func (o *Orchestrator) handleDeliveryEvent(ctx context.Context, event *messaging.Event) {
	switch event.EventType {
	case messaging.EventCourierAssigned:
		o.onCourierAssigned(ctx, event)
	case messaging.EventDeliveryFailed:
		o.onDeliveryFailed(ctx, event)
	}
}

func (o *Orchestrator) onShipmentCreated(ctx context.Context, event *messaging.Event) {
	log := logger.Get()

	shipmentID := event.PayloadString("shipment_id")
	if shipmentID == "" {
		log.Warn("shipment.created without shipment_id, skipping",
			zap.String("event_id", event.EventID))
		return
	}

	// At-least-once delivery: a redelivered start event sees the
	// existing active saga and is a no-op.
	if existing, err := o.service.GetActiveByShipment(ctx, shipmentID); err == nil {
		log.Info("active saga already exists for shipment, ignoring duplicate start",
			zap.String("shipment_id", shipmentID),
			zap.String("saga_id", existing.SagaID))
		return
	} else if !errors.Is(err, sagastore.ErrSagaNotFound) {
		log.Error("failed to check for active saga", zap.Error(err))
		return
	}

	saga := sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, shipmentID)
	saga.WarehouseID = event.PayloadString("warehouse_id")

	if err := o.service.Create(ctx, saga); err != nil {
		if errors.Is(err, sagastore.ErrActiveShipmentExists) {
			log.Info("lost the race to start the saga, ignoring duplicate",
				zap.String("shipment_id", shipmentID))
			return
		}
		log.Error("failed to create saga", zap.Error(err))
		return
	}

	log.Info("saga started",
		zap.String("saga_id", saga.SagaID),
		zap.String("shipment_id", shipmentID))

	o.publishLifecycle(ctx, messaging.SagaStarted{
		SagaID:      saga.SagaID,
		SagaType:    saga.SagaType,
		InitiatedBy: "shipment_service",
		StartedAt:   time.Now().UTC(),
	}, saga.SagaID)

	reserve := messaging.NewReserveInventoryCommand(
		shipmentID, saga.WarehouseID, parseItems(event.Payload["items"]), saga.SagaID)
	if err := o.queue.PublishCommand(ctx, reserve, messaging.TopicInventoryCommands); err != nil {
		log.Error("failed to publish reserve inventory command",
			zap.String("saga_id", saga.SagaID), zap.Error(err))
	}
}

func (o *Orchestrator) onInventoryReserved(ctx context.Context, event *messaging.Event) {
	log := logger.Get()

	saga := o.lookupSaga(ctx, event)
	if saga == nil {
		return
	}
	if saga.Status != sagastore.StatusStarted {
		log.Info("ignoring inventory.reserved for non-started saga",
			zap.String("saga_id", saga.SagaID),
			zap.String("status", string(saga.Status)))
		return
	}

	deliveryID := uuid.NewString()
	saga, err := o.service.UpdateContext(ctx, saga.SagaID, event.PayloadString("warehouse_id"), deliveryID)
	if err != nil {
		log.Error("failed to bind delivery to saga", zap.Error(err))
		return
	}

	assign := messaging.NewAssignCourierCommand(saga.ShipmentID, deliveryID, saga.SagaID)
	if err := o.queue.PublishCommand(ctx, assign, messaging.TopicDeliveryCommands); err != nil {
		log.Error("failed to publish assign courier command",
			zap.String("saga_id", saga.SagaID), zap.Error(err))
	}
}

func (o *Orchestrator) onInventoryInsufficient(ctx context.Context, event *messaging.Event) {
	log := logger.Get()

	saga := o.lookupSaga(ctx, event)
	if saga == nil {
		return
	}
	if saga.Status != sagastore.StatusStarted {
		return
	}

	saga, err := o.service.FailSaga(ctx, saga.SagaID, "inventory.reserve", "inventory_insufficient")
	if err != nil {
		log.Error("failed to fail saga", zap.Error(err))
		return
	}

	log.Info("saga failed on inventory reservation",
		zap.String("saga_id", saga.SagaID),
		zap.String("shipment_id", saga.ShipmentID))

	cancelled, err := messaging.ToEvent(messaging.ShipmentCancelled{
		ShipmentID:  saga.ShipmentID,
		Reason:      "inventory_insufficient",
		CancelledAt: time.Now().UTC(),
	}, saga.SagaID)
	if err != nil {
		log.Error("failed to build shipment.cancelled event", zap.Error(err))
	} else if err := o.queue.PublishEvent(ctx, cancelled, messaging.TopicShipmentEvents); err != nil {
		log.Error("failed to publish shipment.cancelled", zap.Error(err))
	}

	o.publishLifecycle(ctx, messaging.SagaFailed{
		SagaID:       saga.SagaID,
		SagaType:     saga.SagaType,
		ErrorMessage: "inventory_insufficient",
		FailedAt:     time.Now().UTC(),
	}, saga.SagaID)
}

func (o *Orchestrator) onCourierAssigned(ctx context.Context, event *messaging.Event) {
	log := logger.Get()

	saga := o.lookupSaga(ctx, event)
	if saga == nil {
		return
	}
	if saga.Status != sagastore.StatusStarted {
		return
	}

	saga, err := o.service.CompleteSaga(ctx, saga.SagaID)
	if err != nil {
		log.Error("failed to complete saga", zap.Error(err))
		return
	}

	log.Info("saga completed",
		zap.String("saga_id", saga.SagaID),
		zap.String("shipment_id", saga.ShipmentID))

	o.publishLifecycle(ctx, messaging.SagaCompleted{
		SagaID:      saga.SagaID,
		SagaType:    saga.SagaType,
		CompletedAt: time.Now().UTC(),
	}, saga.SagaID)
}

func (o *Orchestrator) onDeliveryFailed(ctx context.Context, event *messaging.Event) {
	log := logger.Get()

	saga := o.lookupSaga(ctx, event)
	if saga == nil {
		return
	}
	if saga.Status != sagastore.StatusStarted {
		return
	}

	saga, err := o.service.TriggerCompensation(ctx, saga.SagaID, "delivery.assign")
	if err != nil {
		log.Warn("compensation not triggered", zap.Error(err))
		return
	}

	o.publishLifecycle(ctx, messaging.SagaCompensating{
		SagaID:         saga.SagaID,
		SagaType:       saga.SagaType,
		FailedStep:     "delivery.assign",
		CompensatingAt: time.Now().UTC(),
	}, saga.SagaID)

	// Compensate in reverse order of forward progress. The exact
	// reserved quantities live with the warehouse, so release carries
	// an empty item list and the warehouse releases the reservation it
	// holds for the shipment.
	release := messaging.NewReleaseInventoryCommand(
		saga.ShipmentID, saga.WarehouseID, nil, saga.SagaID, "delivery_failed")
	if err := o.queue.PublishCommand(ctx, release, messaging.TopicInventoryCommands); err != nil {
		log.Error("failed to publish release inventory command", zap.Error(err))
	}

	if saga.DeliveryID != "" {
		unassign := messaging.NewUnassignCourierCommand(saga.DeliveryID, saga.SagaID, "delivery_failed")
		if err := o.queue.PublishCommand(ctx, unassign, messaging.TopicDeliveryCommands); err != nil {
			log.Error("failed to publish unassign courier command", zap.Error(err))
		}
	}

	cancel := messaging.NewCancelShipmentCommand(saga.ShipmentID, saga.SagaID, "delivery_failed")
	if err := o.queue.PublishCommand(ctx, cancel, messaging.TopicShipmentCommands); err != nil {
		log.Error("failed to publish cancel shipment command", zap.Error(err))
	}

	saga, err = o.service.FailSaga(ctx, saga.SagaID, "delivery.assign", "delivery_failed")
	if err != nil {
		log.Error("failed to fail saga after compensation", zap.Error(err))
		return
	}

	o.publishLifecycle(ctx, messaging.SagaFailed{
		SagaID:       saga.SagaID,
		SagaType:     saga.SagaType,
		ErrorMessage: "delivery_failed",
		FailedAt:     time.Now().UTC(),
	}, saga.SagaID)
}

// lookupSaga resolves the event's correlation_id to a saga, logging
// and returning nil when the event cannot be routed.
func (o *Orchestrator) lookupSaga(ctx context.Context, event *messaging.Event) *sagastore.SagaInstance {
	log := logger.Get()

	if event.CorrelationID == "" {
		log.Warn("skipping event without correlation_id",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID))
		return nil
	}

	saga, err := o.service.Get(ctx, event.CorrelationID)
	if err != nil {
		if errors.Is(err, sagastore.ErrSagaNotFound) {
			log.Warn("saga not found for event",
				zap.String("event_type", event.EventType),
				zap.String("saga_id", event.CorrelationID))
		} else {
			log.Error("failed to load saga", zap.Error(err))
		}
		return nil
	}
	return saga
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, domain messaging.DomainEvent, sagaID string) {
	log := logger.Get()

	event, err := messaging.ToEvent(domain, sagaID)
	if err != nil {
		log.Error("failed to build saga lifecycle event", zap.Error(err))
		return
	}
	if err := o.queue.PublishEvent(ctx, event, messaging.TopicSagaEvents); err != nil {
		log.Error("failed to publish saga lifecycle event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

// parseItems converts the wire items payload into typed items. Unknown
// shapes fall back to an empty list.
func parseItems(raw interface{}) []messaging.Item {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	items := make([]messaging.Item, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		item := messaging.Item{}
		if sku, ok := m["sku"].(string); ok {
			item.SKU = sku
		}
		if qty, ok := m["quantity"].(float64); ok {
			item.Quantity = int(qty)
		}
		items = append(items, item)
	}
	return items
}
