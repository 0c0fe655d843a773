package authcore

import (
	"context"
	"time"
)

// Principal is the full account record exchanged with a [PrincipalStore].
// It carries the credential hash and therefore never crosses the Service's
// public boundary; callers receive a [PrincipalView] instead.
type Principal struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View returns the hash-free projection of the principal.
func (p Principal) View() PrincipalView {
	return PrincipalView{
		ID:    p.ID,
		Name:  p.Name,
		Email: p.Email,
	}
}

// PrincipalView is the safe principal projection returned from Login.
type PrincipalView struct {
	ID    string
	Name  string
	Email string
}

// TokenPair is the result of a successful Login or RefreshTokens call.
// ExpiresAt is the expiry of the access token; the refresh token's own
// expiry is tracked by the store record. Pairs are never persisted.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshTokenRecord is the stored state of one issued refresh token.
// Token is unique among live records for a given store.
type RefreshTokenRecord struct {
	ID          string
	PrincipalID string
	Token       string
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Live reports whether the record can still redeem a refresh: not revoked
// and not past its stored expiry at the given instant.
func (r RefreshTokenRecord) Live(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// PrincipalStore is the account-lookup contract callers must implement to
// integrate authcore with their user database. Absence is reported as
// [ErrPrincipalNotFound]. Email matching is case-insensitive; the Service
// lowercases before calling, but implementations should not rely on it.
type PrincipalStore interface {
	GetByEmail(ctx context.Context, email string) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)
	Update(ctx context.Context, p Principal) error
}

// RefreshTokenStore persists refresh-token records. Implementations must be
// safe for concurrent use; Rotate in particular is the linearization point
// for concurrent refreshes of the same token.
//
// Rotate atomically replaces the record identified by oldToken with one
// carrying newToken and newExpiry, preserving the record's identity and
// principal. When oldToken is absent (already rotated, revoked, or expired)
// it returns [ErrRotationConflict]: of N concurrent rotations of the same
// token exactly one succeeds.
//
// DeleteExpired prunes records whose expiry has passed and returns the
// number removed. The library owns no scheduler; callers run it from their
// own cron or ticker.
type RefreshTokenStore interface {
	GetByToken(ctx context.Context, token string) (RefreshTokenRecord, error)
	Create(ctx context.Context, rec RefreshTokenRecord) error
	Rotate(ctx context.Context, oldToken, newToken string, newExpiry time.Time) error
	RevokeAllForPrincipal(ctx context.Context, principalID string) error
	DeleteExpired(ctx context.Context) (int, error)
}
