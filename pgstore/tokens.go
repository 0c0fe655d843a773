package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veldran/authcore"
)

// RefreshTokens is a PostgreSQL-backed [authcore.RefreshTokenStore] over
// [DBTX].
type RefreshTokens struct {
	db DBTX
}

// NewRefreshTokens constructs a repository bound to the given DBTX.
func NewRefreshTokens(db DBTX) *RefreshTokens {
	return &RefreshTokens{db: db}
}

// Create inserts a new refresh record.
func (r *RefreshTokens) Create(ctx context.Context, rec authcore.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (id, principal_id, token, expires_at, revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)
	`
	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.PrincipalID, rec.Token, rec.ExpiresAt, createdAt, updatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByToken returns the record for the given token string, revoked or not;
// liveness is the caller's call. Absence is
// [authcore.ErrRefreshTokenNotFound].
func (r *RefreshTokens) GetByToken(ctx context.Context, token string) (authcore.RefreshTokenRecord, error) {
	query := `
		SELECT id, principal_id, token, expires_at, revoked, revoked_at, created_at, updated_at
		FROM refresh_tokens
		WHERE token = $1
	`
	var (
		rec       authcore.RefreshTokenRecord
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&rec.ID, &rec.PrincipalID, &rec.Token, &rec.ExpiresAt,
		&rec.Revoked, &revokedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.RefreshTokenRecord{}, authcore.ErrRefreshTokenNotFound
		}
		return authcore.RefreshTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	if revokedAt.Valid {
		rec.RevokedAt = revokedAt.Time
	}
	return rec, nil
}

// Rotate swaps oldToken's row to carry newToken and newExpiry. The WHERE
// clause is the compare-and-swap: it only matches a live row still holding
// oldToken, so of N concurrent rotations exactly one updates a row and the
// rest observe zero rows affected and get [authcore.ErrRotationConflict].
func (r *RefreshTokens) Rotate(ctx context.Context, oldToken, newToken string, newExpiry time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET token = $2, expires_at = $3, updated_at = now()
		WHERE token = $1 AND NOT revoked AND expires_at > now()
	`
	res, err := r.db.ExecContext(ctx, query, oldToken, newToken, newExpiry)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return authcore.ErrRotationConflict
	}
	return nil
}

// RevokeAllForPrincipal flags every live record of the principal as revoked.
func (r *RefreshTokens) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now(), updated_at = now()
		WHERE principal_id = $1 AND NOT revoked
	`
	if _, err := r.db.ExecContext(ctx, query, principalID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteExpired removes rows past their expiry, revoked or not, and returns
// the number deleted.
func (r *RefreshTokens) DeleteExpired(ctx context.Context) (int, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= now()
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(affected), nil
}
