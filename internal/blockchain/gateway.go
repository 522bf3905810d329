package blockchain

import (
	"context"
	"errors"
	"time"
)

// ErrSubmission marks a transaction submission the gateway could not
// recover from, even after a nonce resync. Callers treat it as
// permanent and do not retry.
var ErrSubmission = errors.New("transaction submission failed")

// Receipt is the gateway's view of a mined transaction.
type Receipt struct {
	BlockNumber   uint64
	Confirmations uint64
	Timestamp     time.Time
	// Status is "success" or "failed" (reverted).
	Status  string
	GasUsed uint64
}

const (
	ReceiptStatusSuccess = "success"
	ReceiptStatusFailed  = "failed"
)

// ChainGateway submits payloads to the chain and reads back receipts.
//
// GetReceipt returns (nil, nil) while the transaction is still unknown
// to the chain, so callers can tell "not mined yet" from a transport
// failure.
type ChainGateway interface {
	SubmitTransaction(ctx context.Context, payload map[string]interface{}) (string, error)
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
}
