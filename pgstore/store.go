// Package pgstore is a PostgreSQL IdentityStore built on pgx. It is the
// reference adapter; any storage that satisfies authkit.IdentityStore
// works in its place.
//
// Expected schema (one row per identity, one per provider link):
//
//	CREATE TABLE identities (
//	    tenant_id     text        NOT NULL,
//	    id            uuid        NOT NULL,
//	    email         text        NOT NULL,
//	    password_hash text        NOT NULL DEFAULT '',
//	    first_name    text        NOT NULL DEFAULT '',
//	    last_name     text        NOT NULL DEFAULT '',
//	    roles         text[]      NOT NULL DEFAULT '{}',
//	    enabled       boolean     NOT NULL DEFAULT false,
//	    second_factor boolean     NOT NULL DEFAULT false,
//	    created_at    timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (tenant_id, id),
//	    UNIQUE (tenant_id, email)
//	);
//
//	CREATE TABLE federated_links (
//	    tenant_id   text NOT NULL,
//	    provider    text NOT NULL,
//	    subject     text NOT NULL,
//	    identity_id uuid NOT NULL,
//	    PRIMARY KEY (tenant_id, provider, subject)
//	);
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	authkit "github.com/neomarket/authkit"
)

const uniqueViolation = "23505"

var _ authkit.IdentityStore = (*Store)(nil)

// Store implements authkit.IdentityStore over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateIdentity inserts a new identity row. A duplicate email on the
// tenant maps to authkit.ErrConflict.
func (s *Store) CreateIdentity(ctx context.Context, tenantID string, identity *authkit.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities
		     (tenant_id, id, email, password_hash, first_name, last_name, roles, enabled, second_factor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tenantID,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.FirstName,
		identity.LastName,
		identity.Roles,
		identity.Enabled,
		identity.TwoFactorEnabled,
		identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authkit.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// FindByEmail loads an identity by its lower-cased email.
func (s *Store) FindByEmail(ctx context.Context, tenantID, email string) (*authkit.Identity, error) {
	return s.findOne(ctx,
		`SELECT id, email, password_hash, first_name, last_name, roles, enabled, second_factor, created_at
		   FROM identities WHERE tenant_id = $1 AND email = $2`,
		tenantID, email)
}

// FindByID loads an identity by id.
func (s *Store) FindByID(ctx context.Context, tenantID, id string) (*authkit.Identity, error) {
	return s.findOne(ctx,
		`SELECT id, email, password_hash, first_name, last_name, roles, enabled, second_factor, created_at
		   FROM identities WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, tenantID, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET password_hash = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authkit.ErrIdentityNotFound
	}
	return nil
}

// SetEnabled flips the enabled flag.
func (s *Store) SetEnabled(ctx context.Context, tenantID, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET enabled = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, enabled)
	if err != nil {
		return fmt.Errorf("update enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authkit.ErrIdentityNotFound
	}
	return nil
}

// FindFederatedLink resolves a provider subject to an identity id.
func (s *Store) FindFederatedLink(ctx context.Context, tenantID, provider, subject string) (string, error) {
	var identityID string
	err := s.pool.QueryRow(ctx,
		`SELECT identity_id FROM federated_links
		  WHERE tenant_id = $1 AND provider = $2 AND subject = $3`,
		tenantID, provider, subject).Scan(&identityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", authkit.ErrIdentityNotFound
		}
		return "", fmt.Errorf("select federated link: %w", err)
	}
	return identityID, nil
}

// SaveFederatedLink records a provider subject for an identity. A
// subject already linked elsewhere maps to authkit.ErrConflict.
func (s *Store) SaveFederatedLink(ctx context.Context, tenantID, provider, subject, identityID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO federated_links (tenant_id, provider, subject, identity_id)
		 VALUES ($1, $2, $3, $4)`,
		tenantID, provider, subject, identityID)
	if err != nil {
		if isUniqueViolation(err) {
			return authkit.ErrConflict
		}
		return fmt.Errorf("insert federated link: %w", err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*authkit.Identity, error) {
	identity := &authkit.Identity{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.FirstName,
		&identity.LastName,
		&identity.Roles,
		&identity.Enabled,
		&identity.TwoFactorEnabled,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authkit.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("select identity: %w", err)
	}
	return identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
