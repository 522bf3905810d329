package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type names as they appear on the wire
const (
	EventShipmentCreated    = "shipment.created"
	EventShipmentUpdated    = "shipment.updated"
	EventShipmentCancelled  = "shipment.cancelled"
	EventShipmentDispatched = "shipment.dispatched"

	EventInventoryReserved     = "inventory.reserved"
	EventInventoryReleased     = "inventory.released"
	EventInventoryInsufficient = "inventory.insufficient"
	EventInventoryUpdated      = "inventory.updated"

	EventCourierAssigned   = "courier.assigned"
	EventCourierUnassigned = "courier.unassigned"
	EventDeliveryStarted   = "delivery.started"
	EventDeliveryInTransit = "delivery.in_transit"
	EventDeliveryCompleted = "delivery.completed"
	EventDeliveryFailed    = "delivery.failed"

	EventBlockchainRecorded = "blockchain.recorded"
	EventBlockchainVerified = "blockchain.verified"

	EventSagaStarted      = "saga.started"
	EventSagaCompleted    = "saga.completed"
	EventSagaFailed       = "saga.failed"
	EventSagaCompensating = "saga.compensating"
)

// Aggregate type names
const (
	AggregateShipment         = "shipment"
	AggregateWarehouse        = "warehouse"
	AggregateDelivery         = "delivery"
	AggregateBlockchainRecord = "blockchain_record"
	AggregateSaga             = "saga"
)

// Item is a line item within a shipment
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// DomainEvent is the closed set of typed domain events. Each variant
// knows its wire event type, aggregate type and which field carries
// the aggregate id. ToEvent converts a variant into the wire envelope.
type DomainEvent interface {
	eventMeta() (eventType, aggregateType, aggregateID string)
}

type ShipmentCreated struct {
	ShipmentID  string `json:"shipment_id"`
	WarehouseID string `json:"warehouse_id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Items       []Item `json:"items"`
}

func (e ShipmentCreated) eventMeta() (string, string, string) {
	return EventShipmentCreated, AggregateShipment, e.ShipmentID
}

type ShipmentUpdated struct {
	ShipmentID string    `json:"shipment_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e ShipmentUpdated) eventMeta() (string, string, string) {
	return EventShipmentUpdated, AggregateShipment, e.ShipmentID
}

type ShipmentCancelled struct {
	ShipmentID  string    `json:"shipment_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (e ShipmentCancelled) eventMeta() (string, string, string) {
	return EventShipmentCancelled, AggregateShipment, e.ShipmentID
}

type ShipmentDispatched struct {
	ShipmentID   string    `json:"shipment_id"`
	WarehouseID  string    `json:"warehouse_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

func (e ShipmentDispatched) eventMeta() (string, string, string) {
	return EventShipmentDispatched, AggregateShipment, e.ShipmentID
}

type InventoryReserved struct {
	WarehouseID string    `json:"warehouse_id"`
	ShipmentID  string    `json:"shipment_id"`
	Items       []Item    `json:"items"`
	ReservedAt  time.Time `json:"reserved_at"`
}

func (e InventoryReserved) eventMeta() (string, string, string) {
	return EventInventoryReserved, AggregateWarehouse, e.WarehouseID
}

type InventoryReleased struct {
	WarehouseID string    `json:"warehouse_id"`
	ShipmentID  string    `json:"shipment_id"`
	Items       []Item    `json:"items"`
	ReleasedAt  time.Time `json:"released_at"`
	Reason      string    `json:"reason"`
}

func (e InventoryReleased) eventMeta() (string, string, string) {
	return EventInventoryReleased, AggregateWarehouse, e.WarehouseID
}

type InventoryInsufficient struct {
	WarehouseID  string `json:"warehouse_id"`
	ShipmentID   string `json:"shipment_id"`
	MissingItems []Item `json:"missing_items"`
}

func (e InventoryInsufficient) eventMeta() (string, string, string) {
	return EventInventoryInsufficient, AggregateWarehouse, e.WarehouseID
}

type InventoryUpdated struct {
	WarehouseID string    `json:"warehouse_id"`
	ItemID      string    `json:"item_id"`
	NewQuantity int       `json:"new_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e InventoryUpdated) eventMeta() (string, string, string) {
	return EventInventoryUpdated, AggregateWarehouse, e.WarehouseID
}

type CourierAssigned struct {
	DeliveryID        string    `json:"delivery_id"`
	CourierID         string    `json:"courier_id"`
	ShipmentID        string    `json:"shipment_id"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	AssignedAt        time.Time `json:"assigned_at"`
}

func (e CourierAssigned) eventMeta() (string, string, string) {
	return EventCourierAssigned, AggregateDelivery, e.DeliveryID
}

type CourierUnassigned struct {
	DeliveryID   string    `json:"delivery_id"`
	CourierID    string    `json:"courier_id"`
	Reason       string    `json:"reason"`
	UnassignedAt time.Time `json:"unassigned_at"`
}

func (e CourierUnassigned) eventMeta() (string, string, string) {
	return EventCourierUnassigned, AggregateDelivery, e.DeliveryID
}

type DeliveryStarted struct {
	DeliveryID     string    `json:"delivery_id"`
	CourierID      string    `json:"courier_id"`
	PickupLocation string    `json:"pickup_location"`
	StartedAt      time.Time `json:"started_at"`
}

func (e DeliveryStarted) eventMeta() (string, string, string) {
	return EventDeliveryStarted, AggregateDelivery, e.DeliveryID
}

type DeliveryInTransit struct {
	DeliveryID      string    `json:"delivery_id"`
	CurrentLocation string    `json:"current_location"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (e DeliveryInTransit) eventMeta() (string, string, string) {
	return EventDeliveryInTransit, AggregateDelivery, e.DeliveryID
}

type DeliveryCompleted struct {
	DeliveryID         string    `json:"delivery_id"`
	DeliveredAt        time.Time `json:"delivered_at"`
	RecipientName      string    `json:"recipient_name,omitempty"`
	RecipientSignature string    `json:"recipient_signature,omitempty"`
}

func (e DeliveryCompleted) eventMeta() (string, string, string) {
	return EventDeliveryCompleted, AggregateDelivery, e.DeliveryID
}

type DeliveryFailed struct {
	DeliveryID     string     `json:"delivery_id"`
	Reason         string     `json:"reason"`
	FailedAt       time.Time  `json:"failed_at"`
	RetryScheduled *time.Time `json:"retry_scheduled,omitempty"`
}

func (e DeliveryFailed) eventMeta() (string, string, string) {
	return EventDeliveryFailed, AggregateDelivery, e.DeliveryID
}

type BlockchainRecorded struct {
	RecordID        string    `json:"record_id"`
	ShipmentID      string    `json:"shipment_id"`
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

func (e BlockchainRecorded) eventMeta() (string, string, string) {
	return EventBlockchainRecorded, AggregateBlockchainRecord, e.RecordID
}

type BlockchainVerified struct {
	RecordID        string    `json:"record_id"`
	ShipmentID      string    `json:"shipment_id"`
	TransactionHash string    `json:"transaction_hash"`
	VerifiedAt      time.Time `json:"verified_at"`
	Confirmations   uint64    `json:"confirmations"`
}

func (e BlockchainVerified) eventMeta() (string, string, string) {
	return EventBlockchainVerified, AggregateBlockchainRecord, e.RecordID
}

type SagaStarted struct {
	SagaID      string    `json:"saga_id"`
	SagaType    string    `json:"saga_type"`
	InitiatedBy string    `json:"initiated_by"`
	StartedAt   time.Time `json:"started_at"`
}

func (e SagaStarted) eventMeta() (string, string, string) {
	return EventSagaStarted, AggregateSaga, e.SagaID
}

type SagaCompleted struct {
	SagaID      string    `json:"saga_id"`
	SagaType    string    `json:"saga_type"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e SagaCompleted) eventMeta() (string, string, string) {
	return EventSagaCompleted, AggregateSaga, e.SagaID
}

type SagaFailed struct {
	SagaID       string    `json:"saga_id"`
	SagaType     string    `json:"saga_type"`
	ErrorMessage string    `json:"error_message"`
	FailedAt     time.Time `json:"failed_at"`
}

func (e SagaFailed) eventMeta() (string, string, string) {
	return EventSagaFailed, AggregateSaga, e.SagaID
}

type SagaCompensating struct {
	SagaID         string    `json:"saga_id"`
	SagaType       string    `json:"saga_type"`
	FailedStep     string    `json:"failed_step"`
	CompensatingAt time.Time `json:"compensating_at"`
}

func (e SagaCompensating) eventMeta() (string, string, string) {
	return EventSagaCompensating, AggregateSaga, e.SagaID
}

// ToEvent converts a typed domain event into the wire envelope. The
// payload is the JSON projection of the variant's fields.
func ToEvent(d DomainEvent, correlationID string) (*Event, error) {
	eventType, aggregateType, aggregateID := d.eventMeta()
	if aggregateID == "" {
		return nil, fmt.Errorf("domain event %s has empty aggregate id", eventType)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain event %s: %w", eventType, err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to project domain event %s: %w", eventType, err)
	}

	return NewEvent(eventType, aggregateID, aggregateType, payload, correlationID), nil
}
