package compensation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/internal/orchestrator"
	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

// FailureTopics are the dedicated topics the worker watches.
var FailureTopics = []string{
	messaging.TopicInventoryInsufficient,
	messaging.TopicDeliveryFailed,
	messaging.TopicCourierUnassigned,
}

// Worker rolls back distributed transactions. It listens on failure
// topics and issues compensating commands in reverse order of the
// saga's forward progress. Triggering is monotone: a saga that is
// already terminal or compensating is never compensated again, so
// redelivered failure events are no-ops.
type Worker struct {
	queue   messaging.EventQueue
	service *orchestrator.SagaService
}

// NewWorker creates a compensation worker.
func NewWorker(queue messaging.EventQueue, service *orchestrator.SagaService) *Worker {
	return &Worker{
		queue:   queue,
		service: service,
	}
}

// Run consumes failure events until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.Get()

	events, err := w.queue.ConsumeEvents(ctx, FailureTopics...)
	if err != nil {
		return err
	}

	log.Info("compensation worker running", zap.Strings("topics", FailureTopics))

	for event := range events {
		if err := w.handleFailureEvent(ctx, event); err != nil {
			log.Error("failed to handle failure event",
				zap.String("event_type", event.EventType),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
	return ctx.Err()
}

func (w *Worker) handleFailureEvent(ctx context.Context, event *messaging.Event) error {
	log := logger.Get()

	sagaID := event.CorrelationID
	if sagaID == "" {
		log.Warn("skipping failure event without correlation_id",
			zap.String("event_type", event.EventType))
		return nil
	}

	saga, err := w.service.Get(ctx, sagaID)
	if err != nil {
		if errors.Is(err, sagastore.ErrSagaNotFound) {
			log.Error("saga instance not found", zap.String("saga_id", sagaID))
			return nil
		}
		return err
	}

	if saga.Status != sagastore.StatusStarted {
		log.Info("saga already terminal or compensating, dropping failure event",
			zap.String("saga_id", sagaID),
			zap.String("status", string(saga.Status)))
		return nil
	}

	log.Info("triggering compensation",
		zap.String("saga_id", sagaID),
		zap.String("reason", event.EventType))

	saga, err = w.service.TriggerCompensation(ctx, sagaID, event.EventType)
	if err != nil {
		// A concurrent writer won the race to a terminal state
		if errors.Is(err, orchestrator.ErrCompensationNotAllowed) {
			log.Warn("compensation rejected", zap.Error(err))
			return nil
		}
		return err
	}

	w.publishCompensating(ctx, saga)

	if err := w.executeStrategy(ctx, saga, event); err != nil {
		return err
	}

	_, err = w.service.FailSaga(ctx, saga.SagaID, event.EventType,
		fmt.Sprintf("Compensation triggered by %s", event.EventType))
	return err
}

// executeStrategy publishes the compensating commands for the failed
// step, undoing forward progress in reverse order.
func (w *Worker) executeStrategy(ctx context.Context, saga *sagastore.SagaInstance, trigger *messaging.Event) error {
	reason := trigger.PayloadString("reason")
	if reason == "" {
		reason = fmt.Sprintf("Triggered by %s", trigger.EventType)
	}

	switch trigger.EventType {
	case messaging.EventDeliveryFailed:
		if err := w.compensateDelivery(ctx, saga, reason); err != nil {
			return err
		}
		if err := w.compensateInventory(ctx, saga, "Delivery failed rollback"); err != nil {
			return err
		}
		return w.compensateShipment(ctx, saga, "Delivery failed rollback")

	case messaging.EventCourierUnassigned:
		if err := w.compensateInventory(ctx, saga, "Courier unassigned rollback"); err != nil {
			return err
		}
		return w.compensateShipment(ctx, saga, "Courier unassigned rollback")

	case messaging.EventInventoryInsufficient:
		return w.compensateShipment(ctx, saga, "Inventory insufficient")
	}

	return nil
}

func (w *Worker) compensateInventory(ctx context.Context, saga *sagastore.SagaInstance, reason string) error {
	if saga.WarehouseID == "" {
		logger.Get().Warn("skipping inventory compensation, no warehouse bound",
			zap.String("saga_id", saga.SagaID))
		return nil
	}

	cmd := messaging.NewReleaseInventoryCommand(
		saga.ShipmentID, saga.WarehouseID, nil, saga.SagaID, reason)
	if err := w.queue.PublishCommand(ctx, cmd, messaging.TopicInventoryCommands); err != nil {
		return fmt.Errorf("failed to publish release inventory command: %w", err)
	}
	return nil
}

func (w *Worker) compensateDelivery(ctx context.Context, saga *sagastore.SagaInstance, reason string) error {
	if saga.DeliveryID == "" {
		return nil
	}

	cmd := messaging.NewUnassignCourierCommand(saga.DeliveryID, saga.SagaID, reason)
	if err := w.queue.PublishCommand(ctx, cmd, messaging.TopicDeliveryCommands); err != nil {
		return fmt.Errorf("failed to publish unassign courier command: %w", err)
	}
	return nil
}

func (w *Worker) compensateShipment(ctx context.Context, saga *sagastore.SagaInstance, reason string) error {
	cmd := messaging.NewCancelShipmentCommand(saga.ShipmentID, saga.SagaID, reason)
	if err := w.queue.PublishCommand(ctx, cmd, messaging.TopicShipmentCommands); err != nil {
		return fmt.Errorf("failed to publish cancel shipment command: %w", err)
	}
	return nil
}

func (w *Worker) publishCompensating(ctx context.Context, saga *sagastore.SagaInstance) {
	log := logger.Get()

	event, err := messaging.ToEvent(messaging.SagaCompensating{
		SagaID:         saga.SagaID,
		SagaType:       saga.SagaType,
		FailedStep:     saga.FailedStep,
		CompensatingAt: time.Now().UTC(),
	}, saga.SagaID)
	if err != nil {
		log.Error("failed to build saga.compensating event", zap.Error(err))
		return
	}
	if err := w.queue.PublishEvent(ctx, event, messaging.TopicSagaEvents); err != nil {
		log.Error("failed to publish saga.compensating", zap.Error(err))
	}
}
