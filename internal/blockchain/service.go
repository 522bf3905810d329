package blockchain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

// ServiceConfig tunes confirmation tracking.
type ServiceConfig struct {
	// RequiredConfirmations is the depth at which a mined transaction
	// counts as final.
	RequiredConfirmations uint64
	// ReceiptTimeout bounds each receipt lookup.
	ReceiptTimeout time.Duration
	// DropAfter is how long a pending record may stay unknown to the
	// chain before it is marked dropped.
	DropAfter time.Duration
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RequiredConfirmations: 6,
		ReceiptTimeout:        10 * time.Second,
		DropAfter:             24 * time.Hour,
	}
}

// Service anchors domain events on chain and tracks their
// confirmation.
type Service struct {
	store   Store
	gateway ChainGateway
	queue   messaging.EventQueue
	cfg     ServiceConfig
}

// NewService creates the recording service.
func NewService(store Store, gateway ChainGateway, queue messaging.EventQueue, cfg ServiceConfig) *Service {
	if cfg.RequiredConfirmations == 0 {
		cfg.RequiredConfirmations = 6
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 10 * time.Second
	}
	if cfg.DropAfter <= 0 {
		cfg.DropAfter = 24 * time.Hour
	}
	return &Service{store: store, gateway: gateway, queue: queue, cfg: cfg}
}

// RegisterEvent submits the payload to the chain and persists a
// pending record tied to the shipment. The record is saved before the
// recorded event is published, so a crash between the two leaves a
// trackable row rather than an untracked transaction.
func (s *Service) RegisterEvent(ctx context.Context, shipmentID string, payload map[string]interface{}, correlationID string) (*Record, error) {
	txHash, err := s.gateway.SubmitTransaction(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to anchor event for shipment %s: %w", shipmentID, err)
	}

	record := NewRecord(shipmentID, txHash, payload)
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}

	logger.Get().Info("event anchored on chain",
		zap.String("record_id", record.RecordID),
		zap.String("shipment_id", shipmentID),
		zap.String("tx_hash", txHash))

	s.publish(ctx, messaging.BlockchainRecorded{
		RecordID:        record.RecordID,
		ShipmentID:      shipmentID,
		TransactionHash: txHash,
		RecordedAt:      record.CreatedAt,
	}, correlationID)

	return record, nil
}

// UpdateConfirmation checks one pending record against the chain and
// advances it when the receipt warrants it. Safe to call repeatedly;
// a record past pending is left alone.
func (s *Service) UpdateConfirmation(ctx context.Context, record *Record) error {
	if record.IsTerminal() {
		return nil
	}

	log := logger.Get()

	receiptCtx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	receipt, err := s.gateway.GetReceipt(receiptCtx, record.TxHash)
	cancel()
	if err != nil {
		log.Warn("receipt lookup failed",
			zap.String("tx_hash", record.TxHash),
			zap.Error(err))
		return err
	}

	if receipt == nil {
		// Not mined yet. Past the drop deadline the mempool has almost
		// certainly evicted it.
		if time.Since(record.CreatedAt) > s.cfg.DropAfter {
			record.Drop(fmt.Sprintf("transaction unknown to chain after %s", s.cfg.DropAfter))
			log.Warn("pending transaction dropped",
				zap.String("record_id", record.RecordID),
				zap.String("tx_hash", record.TxHash))
			return s.store.Save(ctx, record)
		}
		return nil
	}

	if receipt.Status == ReceiptStatusFailed {
		record.Fail("transaction reverted on chain")
		log.Warn("anchored transaction reverted",
			zap.String("record_id", record.RecordID),
			zap.String("tx_hash", record.TxHash),
			zap.Uint64("block_number", receipt.BlockNumber))
		return s.store.Save(ctx, record)
	}

	if receipt.Confirmations < s.cfg.RequiredConfirmations {
		return nil
	}

	record.Confirm(receipt.BlockNumber, receipt.GasUsed, receipt.Timestamp)
	if err := s.store.Save(ctx, record); err != nil {
		return err
	}

	log.Info("anchored transaction confirmed",
		zap.String("record_id", record.RecordID),
		zap.String("tx_hash", record.TxHash),
		zap.Uint64("block_number", receipt.BlockNumber),
		zap.Uint64("confirmations", receipt.Confirmations))

	s.publish(ctx, messaging.BlockchainVerified{
		RecordID:        record.RecordID,
		ShipmentID:      record.ShipmentID,
		TransactionHash: record.TxHash,
		VerifiedAt:      receipt.Timestamp,
		Confirmations:   receipt.Confirmations,
	}, "")

	return nil
}

func (s *Service) publish(ctx context.Context, domain messaging.DomainEvent, correlationID string) {
	event, err := messaging.ToEvent(domain, correlationID)
	if err != nil {
		logger.Get().Error("failed to build blockchain event", zap.Error(err))
		return
	}
	if err := s.queue.PublishEvent(ctx, event, messaging.TopicBlockchainEvents); err != nil {
		logger.Get().Error("failed to publish blockchain event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}
