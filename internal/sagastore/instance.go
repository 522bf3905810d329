package sagastore

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a saga instance.
//
// Transitions: started -> completed | failed | compensating,
// compensating -> failed. Terminal states never change again.
type Status string

const (
	StatusStarted      Status = "started"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
)

// SagaTypeShipmentFulfillment is the only saga type the coordinator runs today.
const SagaTypeShipmentFulfillment = "shipment_fulfillment"

// SagaInstance is the persistent state of one saga run. WarehouseID and
// DeliveryID are filled in as participant events arrive; empty means
// the step has not happened yet.
type SagaInstance struct {
	SagaID       string
	SagaType     string
	ShipmentID   string
	WarehouseID  string
	DeliveryID   string
	Status       Status
	StartedAt    time.Time
	UpdatedAt    time.Time
	FailedStep   string
	ErrorMessage string
}

// NewInstance creates a started saga for the given shipment.
func NewInstance(sagaType, shipmentID string) *SagaInstance {
	now := time.Now().UTC()
	return &SagaInstance{
		SagaID:     uuid.NewString(),
		SagaType:   sagaType,
		ShipmentID: shipmentID,
		Status:     StatusStarted,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkCompleted moves the saga to its successful terminal state.
func (s *SagaInstance) MarkCompleted() {
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now().UTC()
}

// MarkFailed moves the saga to its failed terminal state, recording
// which step failed and why.
func (s *SagaInstance) MarkFailed(step, errMsg string) {
	s.Status = StatusFailed
	s.FailedStep = step
	s.ErrorMessage = errMsg
	s.UpdatedAt = time.Now().UTC()
}

// MarkCompensating records that rollback has begun for the failed step.
func (s *SagaInstance) MarkCompensating(step string) {
	s.Status = StatusCompensating
	s.FailedStep = step
	s.UpdatedAt = time.Now().UTC()
}

// Touch bumps updated_at without changing state.
func (s *SagaInstance) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// IsActive reports whether the saga can still make progress.
func (s *SagaInstance) IsActive() bool {
	return s.Status == StatusStarted || s.Status == StatusCompensating
}

// IsTerminal reports whether the saga has reached a final state.
func (s *SagaInstance) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Clone returns a deep copy of the instance.
func (s *SagaInstance) Clone() *SagaInstance {
	copied := *s
	return &copied
}
