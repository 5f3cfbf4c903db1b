package serviceaccount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store on the control-plane database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing connection.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	return &PostgresStore{db: db}, nil
}

// FindByHash returns the record whose token_hash matches.
func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*Token, error) {
	query := `
		SELECT token_id, tenant_id, token_hash, name, role,
		       created_by, created_at, last_used, is_revoked, revoked_at
		FROM service_account_tokens
		WHERE token_hash = $1
	`

	tok := &Token{}
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&tok.TokenID, &tok.TenantID, &tok.TokenHash, &tok.Name, &tok.Role,
		&tok.CreatedBy, &tok.CreatedAt, &tok.LastUsed, &tok.IsRevoked, &tok.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("query service account token: %w", err)
	}

	return tok, nil
}

// Insert stores a new record. The TokenHash field must already hold the
// SHA-256 hash of the secret.
func (s *PostgresStore) Insert(ctx context.Context, tok *Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	if len(tok.TokenHash) != 64 {
		return errors.New("token_hash must be 64 characters (SHA-256 hex)")
	}
	if tok.TokenID == uuid.Nil {
		tok.TokenID = uuid.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO service_account_tokens (
			token_id, tenant_id, token_hash, name, role,
			created_by, created_at, is_revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
	`

	_, err := s.db.ExecContext(ctx, query,
		tok.TokenID, tok.TenantID, tok.TokenHash, tok.Name, tok.Role,
		tok.CreatedBy, tok.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert service account token: %w", err)
	}

	return nil
}

// ListByTenant returns all records for a tenant, newest first.
func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Token, error) {
	query := `
		SELECT token_id, tenant_id, token_hash, name, role,
		       created_by, created_at, last_used, is_revoked, revoked_at
		FROM service_account_tokens
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query service account tokens: %w", err)
	}
	defer rows.Close()

	var toks []*Token
	for rows.Next() {
		tok := &Token{}
		err := rows.Scan(
			&tok.TokenID, &tok.TenantID, &tok.TokenHash, &tok.Name, &tok.Role,
			&tok.CreatedBy, &tok.CreatedAt, &tok.LastUsed, &tok.IsRevoked, &tok.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan service account token: %w", err)
		}
		toks = append(toks, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return toks, nil
}

// Revoke latches is_revoked for the token. Already-revoked tokens are
// left untouched so revoked_at keeps the first revocation time.
func (s *PostgresStore) Revoke(ctx context.Context, tokenID, tenantID uuid.UUID) error {
	query := `
		UPDATE service_account_tokens
		SET is_revoked = TRUE, revoked_at = $1
		WHERE token_id = $2 AND tenant_id = $3 AND is_revoked = FALSE
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), tokenID, tenantID)
	if err != nil {
		return fmt.Errorf("revoke service account token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish "missing" from "already revoked": revoking an
		// already-revoked token is a successful no-op.
		var revoked bool
		err := s.db.QueryRowContext(ctx,
			`SELECT is_revoked FROM service_account_tokens WHERE token_id = $1 AND tenant_id = $2`,
			tokenID, tenantID,
		).Scan(&revoked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("check revocation state: %w", err)
		}
	}

	return nil
}

// UpdateLastUsed records usage of the token identified by hash.
func (s *PostgresStore) UpdateLastUsed(ctx context.Context, hash string) error {
	query := `
		UPDATE service_account_tokens
		SET last_used = $1
		WHERE token_hash = $2
	`

	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), hash); err != nil {
		return fmt.Errorf("update last_used: %w", err)
	}
	return nil
}

// Close is a no-op; the control-plane connection is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
