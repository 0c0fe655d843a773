// Package pgstore provides PostgreSQL-backed implementations of the authcore
// store contracts over database/sql and the pgx stdlib driver.
//
// [Open] dials the database and applies the embedded goose migrations; the
// individual repositories accept any [DBTX], so callers can run them against
// *sql.DB or inside an *sql.Tx.
//
// Unlike the Redis store, revocation here is a flag: revoked rows stay in the
// table (with revoked_at set) until [RefreshTokens.DeleteExpired] prunes them
// past expiry, which preserves an audit trail of revoked sessions.
package pgstore
