// Package redistore provides a Redis-backed refresh-token store with compact
// binary record encoding for authentication hot paths.
//
// # Binary encoding
//
// Records are stored as a versioned binary blob with the expiry pinned to the
// final 8 bytes, which lets the rotation Lua script read and rewrite it
// without a round trip through Go. The encoder is append-only: new versions
// add fields before the timestamps but never reinterpret old ones.
//
// # Rotation
//
// Rotate is a single Lua compare-and-swap: check, delete, and rewrite happen
// atomically inside Redis, so concurrent rotations of the same token resolve
// to exactly one winner. Revocation is deletion; key TTLs track record
// expiry.
//
// # What this package must NOT do
//
//   - Interpret or verify token contents; it sees tokens only as key
//     material (SHA-256 digests).
//   - Make authentication policy decisions.
//   - Store raw token strings in the keyspace.
package redistore
