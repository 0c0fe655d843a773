package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation reports malformed caller input rejected before any store
	// access occurs.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is the narrow failure returned for every credential or
	// token problem at the public boundary. The failing step is never disclosed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is the Login failure value. Unknown email and wrong
	// password both produce it, preventing account enumeration. It wraps
	// ErrUnauthorized, so errors.Is(err, ErrUnauthorized) holds.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	// ErrPrincipalNotFound is returned by administrative lookups
	// (ResetPassword) when the target account does not exist. Public
	// authentication flows translate it to ErrUnauthorized instead.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrRefreshTokenNotFound is the store sentinel for an absent refresh-token
	// record.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRotationConflict is the store sentinel returned to the loser of a
	// concurrent rotation of the same refresh token: the compare-and-swap found
	// the record already rotated away.
	ErrRotationConflict = errors.New("refresh token rotation conflict")
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrServiceNotReady reports use of a Service that was not built through
	// Builder.Build.
	ErrServiceNotReady = errors.New("service not initialized")
)
