package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Store owns the database handle and vends the two repositories.
type Store struct {
	db         *sql.DB
	principals *Principals
	tokens     *RefreshTokens
}

// Open dials PostgreSQL with the pgx stdlib driver, verifies connectivity,
// and applies the embedded goose migrations before returning a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Store{
		db:         db,
		principals: NewPrincipals(db),
		tokens:     NewRefreshTokens(db),
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Conn exposes the underlying handle for callers composing transactions
// with [WithTx].
func (s *Store) Conn() *sql.DB {
	return s.db
}

// Principals returns the account repository.
func (s *Store) Principals() *Principals {
	return s.principals
}

// RefreshTokens returns the refresh-token repository.
func (s *Store) RefreshTokens() *RefreshTokens {
	return s.tokens
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
