package controlplane

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	queryTimeout = time.Second

	// One retry covers transient connection resets without turning the
	// control plane into a retry storm under real outages.
	maxAttempts = 2
)

// PostgresStore implements Store against the control-plane database.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a store over an existing connection.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// Open connects to the control-plane database and verifies the
// connection.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open control plane database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping control plane database: %w", err)
	}

	return NewPostgresStore(db, logger)
}

// GetTenant returns the tenant row or ErrTenantNotFound.
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	query := `
		SELECT tenant_id, name, environment, status, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`

	t := &Tenant{}
	err := s.queryRowRetry(ctx, query, []any{tenantID},
		&t.TenantID, &t.Name, &t.Environment, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	return t, nil
}

// GetActiveDatabase returns the single active database row for the
// tenant.
func (s *PostgresStore) GetActiveDatabase(ctx context.Context, tenantID uuid.UUID) (*TenantDatabase, error) {
	query := `
		SELECT id, tenant_id, connection_string_encrypted, database_name,
		       host, port, status, created_at, updated_at
		FROM tenant_databases
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	d := &TenantDatabase{}
	err := s.queryRowRetry(ctx, query, []any{tenantID, StatusActive},
		&d.ID, &d.TenantID, &d.ConnectionStringEncrypted, &d.DatabaseName,
		&d.Host, &d.Port, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDatabaseNotFound
		}
		return nil, fmt.Errorf("query tenant database: %w", err)
	}

	return d, nil
}

// queryRowRetry runs a single-row query with the per-query timeout and
// one retry on non-row errors. sql.ErrNoRows is never retried.
func (s *PostgresStore) queryRowRetry(ctx context.Context, query string, args []any, dest ...any) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		qCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		err := s.db.QueryRowContext(qCtx, query, args...).Scan(dest...)
		cancel()

		if err == nil || errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < maxAttempts {
			s.logger.Warn("Control plane query failed, retrying", zap.Error(err))
		}
	}
	return lastErr
}

// DB exposes the underlying connection for components that share it
// (service-account store, migrations).
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
