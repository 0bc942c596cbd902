package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billhawk/billhawk/events/internal/model"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxConns     int32
	MinConns     int32
	QueryTimeout time.Duration
}

// PostgresStore reads billable metrics and their pay-in-advance charges.
// It never writes.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore connects to connString and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string, cfg PostgresConfig) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	config.MinConns = 2
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{pool: pool, timeout: timeout}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

const resolveQuery = `
	SELECT bm.id::text, bm.organization_id, bm.code, bm.aggregation_type,
	       COALESCE(bm.field_name, ''), COALESCE(bm.expression, ''),
	       COALESCE(array_agg(c.id::text ORDER BY c.created_at, c.id) FILTER (WHERE c.id IS NOT NULL), '{}')
	FROM billable_metrics bm
	LEFT JOIN charges c
	       ON c.billable_metric_id = bm.id
	      AND c.pay_in_advance
	      AND c.deleted_at IS NULL
	WHERE bm.organization_id = $1
	  AND bm.code = $2
	  AND bm.deleted_at IS NULL
	GROUP BY bm.id
`

// Resolve returns the active metric for (organizationID, code).
func (s *PostgresStore) Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var m model.BillableMetric
	err := s.pool.QueryRow(ctx, resolveQuery, organizationID, code).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.Code,
		&m.AggregationType,
		&m.FieldName,
		&m.Expression,
		&m.PayInAdvanceChargeIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMetricNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve billable metric: %w", err)
	}
	if len(m.PayInAdvanceChargeIDs) == 0 {
		m.PayInAdvanceChargeIDs = nil
	}
	return &m, nil
}
