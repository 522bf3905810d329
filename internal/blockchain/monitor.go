package blockchain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
)

// ConfirmationMonitor periodically re-checks pending records against
// the chain until each one confirms, fails or gets dropped.
type ConfirmationMonitor struct {
	service  *Service
	store    Store
	interval time.Duration
	batch    int
}

// NewConfirmationMonitor creates a monitor polling every interval over
// batches of pending records.
func NewConfirmationMonitor(service *Service, store Store, interval time.Duration, batchSize int) *ConfirmationMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ConfirmationMonitor{
		service:  service,
		store:    store,
		interval: interval,
		batch:    batchSize,
	}
}

// Run polls until ctx is canceled.
func (m *ConfirmationMonitor) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("confirmation monitor running",
		zap.Duration("interval", m.interval),
		zap.Int("batch_size", m.batch))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep checks one batch of pending records, fanning receipt lookups
// out in parallel. Returns how many records were inspected.
func (m *ConfirmationMonitor) Sweep(ctx context.Context) int {
	log := logger.Get()

	pending, err := m.store.GetPending(ctx, m.batch)
	if err != nil {
		log.Error("failed to list pending records", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, record := range pending {
		wg.Add(1)
		go func(r *Record) {
			defer wg.Done()
			if err := m.service.UpdateConfirmation(ctx, r); err != nil {
				log.Warn("confirmation check failed",
					zap.String("record_id", r.RecordID),
					zap.String("tx_hash", r.TxHash),
					zap.Error(err))
			}
		}(record)
	}
	wg.Wait()

	return len(pending)
}
