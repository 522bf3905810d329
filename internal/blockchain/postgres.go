package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed record store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `record_id, shipment_id, tx_hash, status, payload,
	created_at, confirmed_at, block_number, gas_used, error_message`

// Save upserts the record. On conflict only the confirmation columns
// are updated; shipment_id, tx_hash, payload and created_at are
// written once at submission time.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO blockchain_records (
			record_id, shipment_id, tx_hash, status, payload,
			created_at, confirmed_at, block_number, gas_used, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (record_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			confirmed_at = EXCLUDED.confirmed_at,
			block_number = EXCLUDED.block_number,
			gas_used = EXCLUDED.gas_used,
			error_message = EXCLUDED.error_message
	`

	_, err := s.pool.Exec(ctx, query,
		record.RecordID,
		record.ShipmentID,
		record.TxHash,
		string(record.Status),
		record.Payload,
		record.CreatedAt,
		record.ConfirmedAt,
		int64(record.BlockNumber),
		int64(record.GasUsed),
		nullableText(record.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to save blockchain record: %w", err)
	}

	return nil
}

// GetByTxHash retrieves a record by its transaction hash.
func (s *PostgresStore) GetByTxHash(ctx context.Context, txHash string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM blockchain_records WHERE tx_hash = $1`
	return scanRecord(s.pool.QueryRow(ctx, query, txHash))
}

// GetPending returns pending records ordered by created_at ascending.
func (s *PostgresStore) GetPending(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM blockchain_records
		WHERE status = $1
		ORDER BY created_at ASC
	`
	args := []interface{}{string(StatusPending)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer rows.Close()

	out := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read record rows: %w", err)
	}

	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var record Record
	var status string
	var confirmedAt *time.Time
	var blockNumber, gasUsed int64
	var errorMessage *string

	err := row.Scan(
		&record.RecordID,
		&record.ShipmentID,
		&record.TxHash,
		&status,
		&record.Payload,
		&record.CreatedAt,
		&confirmedAt,
		&blockNumber,
		&gasUsed,
		&errorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan blockchain record: %w", err)
	}

	record.Status = TxStatus(status)
	record.ConfirmedAt = confirmedAt
	record.BlockNumber = uint64(blockNumber)
	record.GasUsed = uint64(gasUsed)
	if errorMessage != nil {
		record.ErrorMessage = *errorMessage
	}
	return &record, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
