package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veldran/authcore"
)

// Principals is a PostgreSQL-backed [authcore.PrincipalStore] over [DBTX].
type Principals struct {
	db DBTX
}

// NewPrincipals constructs a repository bound to the given DBTX.
func NewPrincipals(db DBTX) *Principals {
	return &Principals{db: db}
}

// GetByEmail returns the principal with the given email, matched
// case-insensitively against the unique lower(email) index.
func (r *Principals) GetByEmail(ctx context.Context, email string) (authcore.Principal, error) {
	query := `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM principals
		WHERE lower(email) = lower($1)
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

// GetByID returns the principal with the given id.
func (r *Principals) GetByID(ctx context.Context, id string) (authcore.Principal, error) {
	query := `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM principals
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Update persists the mutable principal fields. Updating an absent row is
// [authcore.ErrPrincipalNotFound].
func (r *Principals) Update(ctx context.Context, p authcore.Principal) error {
	query := `
		UPDATE principals
		SET name = $2, email = $3, password_hash = $4, updated_at = $5
		WHERE id = $1
	`
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Email, p.PasswordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

// Create inserts a new principal row.
func (r *Principals) Create(ctx context.Context, p authcore.Principal) error {
	query := `
		INSERT INTO principals (id, name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Email, p.PasswordHash, createdAt, updatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Principals) scanOne(row *sql.Row) (authcore.Principal, error) {
	var p authcore.Principal
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.Principal{}, authcore.ErrPrincipalNotFound
		}
		return authcore.Principal{}, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
