package sagastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the saga_instances table and its indexes. The
// partial unique index backs the one-active-saga-per-shipment rule.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_instances (
			saga_id VARCHAR(36) PRIMARY KEY,
			saga_type VARCHAR(64) NOT NULL,
			shipment_id VARCHAR(36) NOT NULL,
			warehouse_id VARCHAR(36),
			delivery_id VARCHAR(36),
			status VARCHAR(20) NOT NULL DEFAULT 'started',
			started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			failed_step VARCHAR(64),
			error_message TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_saga_active_shipment
			ON saga_instances (shipment_id)
			WHERE status IN ('started', 'compensating')`,
		`CREATE INDEX IF NOT EXISTS idx_saga_status_updated
			ON saga_instances (status, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure saga schema: %w", err)
		}
	}
	return nil
}
