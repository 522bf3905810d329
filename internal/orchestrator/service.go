package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
)

// ErrCompensationNotAllowed is returned when compensation is triggered
// on a saga that already reached a terminal state.
var ErrCompensationNotAllowed = errors.New("cannot compensate saga in terminal state")

// SagaService owns saga lifecycle transitions. Every mutation reads
// the current row, applies the transition in memory and upserts, so
// the monotone state machine can never be rolled backward by a stale
// writer.
type SagaService struct {
	store sagastore.Store
}

// NewSagaService creates a service over the given store.
func NewSagaService(store sagastore.Store) *SagaService {
	return &SagaService{store: store}
}

// Create persists a new saga instance.
func (s *SagaService) Create(ctx context.Context, saga *sagastore.SagaInstance) error {
	return s.store.Save(ctx, saga)
}

// Get returns the saga by id.
func (s *SagaService) Get(ctx context.Context, sagaID string) (*sagastore.SagaInstance, error) {
	return s.store.Get(ctx, sagaID)
}

// GetActiveByShipment returns the active saga for a shipment, if any.
func (s *SagaService) GetActiveByShipment(ctx context.Context, shipmentID string) (*sagastore.SagaInstance, error) {
	return s.store.GetActiveByShipment(ctx, shipmentID)
}

// ListActive returns non-terminal sagas, oldest updated first.
func (s *SagaService) ListActive(ctx context.Context, limit int) ([]*sagastore.SagaInstance, error) {
	return s.store.ListActive(ctx, limit)
}

// UpdateContext binds participant identifiers to the saga as they
// become known. Empty arguments leave the current value untouched.
func (s *SagaService) UpdateContext(ctx context.Context, sagaID, warehouseID, deliveryID string) (*sagastore.SagaInstance, error) {
	saga, err := s.store.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	updated := false
	if warehouseID != "" {
		saga.WarehouseID = warehouseID
		updated = true
	}
	if deliveryID != "" {
		saga.DeliveryID = deliveryID
		updated = true
	}

	if !updated {
		return saga, nil
	}

	saga.Touch()
	if err := s.store.Save(ctx, saga); err != nil {
		return nil, err
	}
	return saga, nil
}

// CompleteSaga marks the saga completed. Completing a saga that is no
// longer started is a no-op, which makes redelivered success events safe.
func (s *SagaService) CompleteSaga(ctx context.Context, sagaID string) (*sagastore.SagaInstance, error) {
	saga, err := s.store.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	if saga.Status != sagastore.StatusStarted {
		return saga, nil
	}

	saga.MarkCompleted()
	if err := s.store.Save(ctx, saga); err != nil {
		return nil, err
	}
	return saga, nil
}

// FailSaga marks the saga failed with the step and reason. Terminal
// sagas are left untouched, so a late failure can never overwrite a
// completed saga and redelivered failure events are no-ops.
func (s *SagaService) FailSaga(ctx context.Context, sagaID, step, errMsg string) (*sagastore.SagaInstance, error) {
	saga, err := s.store.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	if saga.IsTerminal() {
		return saga, nil
	}

	saga.MarkFailed(step, errMsg)
	if err := s.store.Save(ctx, saga); err != nil {
		return nil, err
	}
	return saga, nil
}

// TriggerCompensation moves the saga into compensating. Terminal sagas
// cannot be compensated.
func (s *SagaService) TriggerCompensation(ctx context.Context, sagaID, failedStep string) (*sagastore.SagaInstance, error) {
	saga, err := s.store.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	if saga.IsTerminal() {
		return nil, fmt.Errorf("%w: saga %s is %s", ErrCompensationNotAllowed, sagaID, saga.Status)
	}

	saga.MarkCompensating(failedStep)
	if err := s.store.Save(ctx, saga); err != nil {
		return nil, err
	}
	return saga, nil
}
