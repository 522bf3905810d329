package dto

import (
	"time"

	"github.com/bubled33/supply-chain-tracker/internal/blockchain"
	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
)

// ErrorResponse is the common error body for the admin API
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// SagaResponse represents a saga instance in API responses
type SagaResponse struct {
	SagaID       string    `json:"saga_id"`
	SagaType     string    `json:"saga_type"`
	ShipmentID   string    `json:"shipment_id"`
	WarehouseID  string    `json:"warehouse_id,omitempty"`
	DeliveryID   string    `json:"delivery_id,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	FailedStep   string    `json:"failed_step,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// FromSaga converts a saga instance to its API representation
func FromSaga(saga *sagastore.SagaInstance) SagaResponse {
	return SagaResponse{
		SagaID:       saga.SagaID,
		SagaType:     saga.SagaType,
		ShipmentID:   saga.ShipmentID,
		WarehouseID:  saga.WarehouseID,
		DeliveryID:   saga.DeliveryID,
		Status:       string(saga.Status),
		StartedAt:    saga.StartedAt,
		UpdatedAt:    saga.UpdatedAt,
		FailedStep:   saga.FailedStep,
		ErrorMessage: saga.ErrorMessage,
	}
}

// SagaListResponse wraps a list of sagas
type SagaListResponse struct {
	Sagas []SagaResponse `json:"sagas"`
	Count int            `json:"count"`
}

// RecordResponse represents a blockchain record in API responses
type RecordResponse struct {
	RecordID     string     `json:"record_id"`
	ShipmentID   string     `json:"shipment_id"`
	TxHash       string     `json:"tx_hash"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	BlockNumber  uint64     `json:"block_number,omitempty"`
	GasUsed      uint64     `json:"gas_used,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// FromRecord converts a blockchain record to its API representation
func FromRecord(record *blockchain.Record) RecordResponse {
	return RecordResponse{
		RecordID:     record.RecordID,
		ShipmentID:   record.ShipmentID,
		TxHash:       record.TxHash,
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt,
		ConfirmedAt:  record.ConfirmedAt,
		BlockNumber:  record.BlockNumber,
		GasUsed:      record.GasUsed,
		ErrorMessage: record.ErrorMessage,
	}
}
