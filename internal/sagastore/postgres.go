package sagastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
//
// The saga_instances table carries a partial unique index on
// shipment_id for rows in started or compensating status, which makes
// the one-active-saga-per-shipment rule hold under concurrent starts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed saga store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sagaColumns = `saga_id, saga_type, shipment_id, warehouse_id, delivery_id,
	status, started_at, updated_at, failed_step, error_message`

// Save upserts the instance. On conflict only the mutable columns are
// updated; saga_type, shipment_id and started_at are immutable.
func (s *PostgresStore) Save(ctx context.Context, saga *SagaInstance) error {
	query := `
		INSERT INTO saga_instances (
			saga_id, saga_type, shipment_id, warehouse_id, delivery_id,
			status, started_at, updated_at, failed_step, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (saga_id)
		DO UPDATE SET
			warehouse_id = EXCLUDED.warehouse_id,
			delivery_id = EXCLUDED.delivery_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			failed_step = EXCLUDED.failed_step,
			error_message = EXCLUDED.error_message
	`

	_, err := s.pool.Exec(ctx, query,
		saga.SagaID,
		saga.SagaType,
		saga.ShipmentID,
		nullable(saga.WarehouseID),
		nullable(saga.DeliveryID),
		string(saga.Status),
		saga.StartedAt,
		saga.UpdatedAt,
		nullable(saga.FailedStep),
		nullable(saga.ErrorMessage),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveShipmentExists
		}
		return fmt.Errorf("failed to save saga instance: %w", err)
	}

	return nil
}

// Get retrieves a saga by id.
func (s *PostgresStore) Get(ctx context.Context, sagaID string) (*SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE saga_id = $1`
	return scanSaga(s.pool.QueryRow(ctx, query, sagaID))
}

// GetActiveByShipment returns the started or compensating saga for the
// shipment. The partial unique index guarantees at most one row.
func (s *PostgresStore) GetActiveByShipment(ctx context.Context, shipmentID string) (*SagaInstance, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE shipment_id = $1 AND status IN ($2, $3)
		ORDER BY started_at DESC
		LIMIT 1
	`
	return scanSaga(s.pool.QueryRow(ctx, query, shipmentID,
		string(StatusStarted), string(StatusCompensating)))
}

// ListActive returns active sagas ordered by updated_at ascending.
func (s *PostgresStore) ListActive(ctx context.Context, limit int) ([]*SagaInstance, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE status IN ($1, $2)
		ORDER BY updated_at ASC
	`
	args := []interface{}{string(StatusStarted), string(StatusCompensating)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sagas: %w", err)
	}
	defer rows.Close()

	out := make([]*SagaInstance, 0)
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read saga rows: %w", err)
	}

	return out, nil
}

func scanSaga(row pgx.Row) (*SagaInstance, error) {
	var saga SagaInstance
	var warehouseID, deliveryID, failedStep, errorMessage *string
	var status string

	err := row.Scan(
		&saga.SagaID,
		&saga.SagaType,
		&saga.ShipmentID,
		&warehouseID,
		&deliveryID,
		&status,
		&saga.StartedAt,
		&saga.UpdatedAt,
		&failedStep,
		&errorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, fmt.Errorf("failed to scan saga instance: %w", err)
	}

	saga.Status = Status(status)
	saga.WarehouseID = deref(warehouseID)
	saga.DeliveryID = deref(deliveryID)
	saga.FailedStep = deref(failedStep)
	saga.ErrorMessage = deref(errorMessage)
	return &saga, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
