package compensation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/internal/orchestrator"
	"github.com/bubled33/supply-chain-tracker/pkg/logger"
)

// Reaper periodically sweeps active sagas and reports the ones that
// have not moved within the stuck threshold. It never cancels or
// compensates anything itself; stuck sagas are an operator signal.
type Reaper struct {
	service  *orchestrator.SagaService
	interval time.Duration
	stuck    time.Duration
	batch    int
}

// NewReaper creates a reaper sweeping every interval for sagas older
// than the stuck threshold.
func NewReaper(service *orchestrator.SagaService, interval, stuckThreshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if stuckThreshold <= 0 {
		stuckThreshold = 10 * time.Minute
	}
	return &Reaper{
		service:  service,
		interval: interval,
		stuck:    stuckThreshold,
		batch:    100,
	}
}

// Run sweeps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("stuck saga reaper running",
		zap.Duration("interval", r.interval),
		zap.Duration("threshold", r.stuck))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of stuck sagas found.
func (r *Reaper) Sweep(ctx context.Context) int {
	log := logger.Get()

	active, err := r.service.ListActive(ctx, r.batch)
	if err != nil {
		log.Error("reaper failed to list active sagas", zap.Error(err))
		return 0
	}

	cutoff := time.Now().UTC().Add(-r.stuck)
	stuck := 0
	for _, saga := range active {
		// ListActive is oldest-first, everything after the cutoff is fresh
		if !saga.UpdatedAt.Before(cutoff) {
			break
		}
		stuck++
		log.Warn("stuck saga detected",
			zap.String("saga_id", saga.SagaID),
			zap.String("shipment_id", saga.ShipmentID),
			zap.String("status", string(saga.Status)),
			zap.Time("updated_at", saga.UpdatedAt),
			zap.Duration("idle", time.Since(saga.UpdatedAt)))
	}

	return stuck
}
