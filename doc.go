// Package authcore provides the authentication and session-lifecycle core of a
// larger application: credential verification, signed token issuance (short-lived
// access token plus a longer-lived rotating refresh token), refresh-token
// rotation with reuse protection, and bulk revocation.
//
// The package is designed for concurrent server workloads: Service methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Service], [Builder], [Config],
// the store contracts ([PrincipalStore], [RefreshTokenStore]), and value types
// (TokenPair, PrincipalView, AuditEvent, MetricsSnapshot). Token encoding lives
// in the token subpackage, credential hashing in password, and the two store
// implementations in redistore and pgstore. authcore itself performs no I/O
// other than through the injected stores.
//
// # What this package must NOT do
//
//   - Expose signing secrets, credential hashes, or raw codec errors in its
//     public API or audit stream.
//   - Cache principal or refresh-token records across calls; the stores own
//     all mutable shared state.
//   - Hold a lock across a store call, or spawn goroutines beyond the audit
//     dispatcher.
//
// # Concurrency contract
//
// Two concurrent RefreshTokens calls presenting the same refresh token must
// resolve to exactly one winner; the store's Rotate operation is a
// compare-and-swap on the previous token value and the loser surfaces as
// unauthorized. Concurrent Logins for one principal are last-writer-wins.
package authcore
