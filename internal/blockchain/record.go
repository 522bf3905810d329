package blockchain

import (
	"time"

	"github.com/google/uuid"
)

// TxStatus is the on-chain lifecycle of a submitted record.
//
// Pending -> Confirmed | Failed | Dropped; all three are terminal.
// Dropped means the chain no longer knows the transaction after the
// drop deadline, typically because it was evicted from the mempool.
type TxStatus string

const (
	StatusPending   TxStatus = "PENDING"
	StatusConfirmed TxStatus = "CONFIRMED"
	StatusFailed    TxStatus = "FAILED"
	StatusDropped   TxStatus = "DROPPED"
)

// Record is one event anchored to the chain.
type Record struct {
	RecordID   string
	ShipmentID string
	TxHash     string
	Status     TxStatus
	Payload    map[string]interface{}

	CreatedAt    time.Time
	ConfirmedAt  *time.Time
	BlockNumber  uint64
	GasUsed      uint64
	ErrorMessage string
}

// NewRecord creates a pending record for a freshly submitted transaction.
func NewRecord(shipmentID, txHash string, payload map[string]interface{}) *Record {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Record{
		RecordID:   uuid.NewString(),
		ShipmentID: shipmentID,
		TxHash:     txHash,
		Status:     StatusPending,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// Confirm marks the record confirmed with its on-chain metadata.
func (r *Record) Confirm(blockNumber, gasUsed uint64, timestamp time.Time) {
	r.Status = StatusConfirmed
	r.BlockNumber = blockNumber
	r.GasUsed = gasUsed
	r.ConfirmedAt = &timestamp
}

// Fail marks the record failed, recording why.
func (r *Record) Fail(reason string) {
	r.Status = StatusFailed
	r.ErrorMessage = reason
}

// Drop marks the record dropped.
func (r *Record) Drop(reason string) {
	r.Status = StatusDropped
	r.ErrorMessage = reason
}

// IsTerminal reports whether the record reached a final status.
func (r *Record) IsTerminal() bool {
	return r.Status != StatusPending
}

// Clone returns a deep-enough copy; payload maps are shared read-only.
func (r *Record) Clone() *Record {
	copied := *r
	if r.ConfirmedAt != nil {
		ts := *r.ConfirmedAt
		copied.ConfirmedAt = &ts
	}
	return &copied
}
