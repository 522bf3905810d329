package sagastore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrSagaNotFound is returned when a saga instance does not exist
	ErrSagaNotFound = errors.New("saga instance not found")
	// ErrActiveShipmentExists is returned when saving a second active
	// saga for a shipment that already has one
	ErrActiveShipmentExists = errors.New("active saga already exists for shipment")
)

// Store persists saga instances. Save is an upsert keyed by saga_id:
// an existing row only has its warehouse_id, delivery_id, status,
// failed_step, error_message and updated_at refreshed.
type Store interface {
	Save(ctx context.Context, saga *SagaInstance) error
	Get(ctx context.Context, sagaID string) (*SagaInstance, error)
	// GetActiveByShipment returns the started or compensating saga for
	// the shipment, or ErrSagaNotFound.
	GetActiveByShipment(ctx context.Context, shipmentID string) (*SagaInstance, error)
	// ListActive returns active sagas ordered by updated_at ascending,
	// oldest first. limit <= 0 means no limit.
	ListActive(ctx context.Context, limit int) ([]*SagaInstance, error)
}

// MemoryStore is an in-memory Store used in tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*SagaInstance
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*SagaInstance),
	}
}

// Save upserts the instance. The one-active-saga-per-shipment rule is
// enforced here the same way the partial unique index does in Postgres.
func (s *MemoryStore) Save(ctx context.Context, saga *SagaInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if saga.IsActive() {
		for _, other := range s.instances {
			if other.SagaID != saga.SagaID && other.ShipmentID == saga.ShipmentID && other.IsActive() {
				return ErrActiveShipmentExists
			}
		}
	}

	if existing, ok := s.instances[saga.SagaID]; ok {
		updated := existing.Clone()
		updated.WarehouseID = saga.WarehouseID
		updated.DeliveryID = saga.DeliveryID
		updated.Status = saga.Status
		updated.FailedStep = saga.FailedStep
		updated.ErrorMessage = saga.ErrorMessage
		updated.UpdatedAt = saga.UpdatedAt
		s.instances[saga.SagaID] = updated
		return nil
	}

	s.instances[saga.SagaID] = saga.Clone()
	return nil
}

// Get retrieves a saga by id.
func (s *MemoryStore) Get(ctx context.Context, sagaID string) (*SagaInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saga, ok := s.instances[sagaID]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return saga.Clone(), nil
}

// GetActiveByShipment returns the active saga for the shipment.
func (s *MemoryStore) GetActiveByShipment(ctx context.Context, shipmentID string) (*SagaInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, saga := range s.instances {
		if saga.ShipmentID == shipmentID && saga.IsActive() {
			return saga.Clone(), nil
		}
	}
	return nil, ErrSagaNotFound
}

// ListActive returns active sagas, oldest updated first.
func (s *MemoryStore) ListActive(ctx context.Context, limit int) ([]*SagaInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SagaInstance, 0)
	for _, saga := range s.instances {
		if saga.IsActive() {
			out = append(out, saga.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
