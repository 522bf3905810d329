package blockchain

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the blockchain_records table and its indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS blockchain_records (
			record_id VARCHAR(36) PRIMARY KEY,
			shipment_id VARCHAR(36) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL UNIQUE,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			confirmed_at TIMESTAMP WITH TIME ZONE,
			block_number BIGINT NOT NULL DEFAULT 0,
			gas_used BIGINT NOT NULL DEFAULT 0,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_pending_created
			ON blockchain_records (created_at)
			WHERE status = 'PENDING'`,
		`CREATE INDEX IF NOT EXISTS idx_records_shipment
			ON blockchain_records (shipment_id)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure blockchain schema: %w", err)
		}
	}
	return nil
}
