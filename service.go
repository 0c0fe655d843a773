package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veldran/authcore/password"
	"github.com/veldran/authcore/token"
)

// Service orchestrates credential verification and session lifecycle. Build
// one through [Builder.Build]; the zero value is not usable. All methods are
// safe for concurrent use.
type Service struct {
	config     Config
	principals PrincipalStore
	tokens     RefreshTokenStore
	codec      *token.Codec
	hasher     *password.Verifier
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close drains and stops the audit dispatcher. The Service must not be used
// after Close.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.audit != nil {
		s.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (s *Service) AuditDropped() uint64 {
	if s == nil || s.audit == nil {
		return 0
	}
	return s.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	if s == nil || s.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return s.metrics.Snapshot()
}

func (s *Service) metricInc(id MetricID) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.Inc(id)
}

func (s *Service) emitAudit(ctx context.Context, eventType string, success bool, principalID string, opErr error, metaFn func() map[string]string) {
	if s == nil || s.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp:   time.Now(),
		EventType:   eventType,
		PrincipalID: principalID,
		Success:     success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metaFn != nil {
		event.Metadata = metaFn()
	}
	s.audit.Emit(ctx, event)
}

// Login verifies the email/password pair and opens a fresh session. On
// success every outstanding refresh record for the principal is revoked
// before the new one is persisted, so a credential holder always converges
// to a single live refresh token per login.
//
// Unknown email and wrong password return the identical
// [ErrInvalidCredentials]; callers cannot probe which accounts exist.
func (s *Service) Login(ctx context.Context, email, pass string) (TokenPair, PrincipalView, error) {
	if s == nil || s.principals == nil || s.tokens == nil {
		return TokenPair{}, PrincipalView{}, ErrServiceNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		err := fmt.Errorf("%w: email and password are required", ErrValidation)
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, "", err, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return TokenPair{}, PrincipalView{}, err
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": "principal_not_found",
			}
		})
		return TokenPair{}, PrincipalView{}, ErrInvalidCredentials
	}

	if !s.hasher.Verify(pass, principal.PasswordHash) {
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": "password_mismatch",
			}
		})
		return TokenPair{}, PrincipalView{}, ErrInvalidCredentials
	}
	pass = ""

	if err := ctx.Err(); err != nil {
		return TokenPair{}, PrincipalView{}, err
	}
	if err := s.tokens.RevokeAllForPrincipal(ctx, principal.ID); err != nil {
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, err, func() map[string]string {
			return map[string]string{"reason": "revoke_failed"}
		})
		return TokenPair{}, PrincipalView{}, err
	}
	s.metricInc(MetricSessionRevoked)

	pair, record, err := s.issuePair(principal.ID)
	if err != nil {
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, err, func() map[string]string {
			return map[string]string{"reason": "issue_failed"}
		})
		return TokenPair{}, PrincipalView{}, err
	}

	if err := ctx.Err(); err != nil {
		return TokenPair{}, PrincipalView{}, err
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		s.metricInc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, err, func() map[string]string {
			return map[string]string{"reason": "persist_failed"}
		})
		return TokenPair{}, PrincipalView{}, err
	}

	s.metricInc(MetricLoginSuccess)
	s.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})

	return pair, principal.View(), nil
}

// RefreshTokens redeems a refresh token for a fresh pair. The stored record
// is rotated in place: its identity survives, its token value and expiry are
// replaced atomically. When two calls race on the same token exactly one
// wins; the loser, like every other failure on this path, surfaces as
// [ErrUnauthorized] without detail.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	if s == nil || s.principals == nil || s.tokens == nil {
		return TokenPair{}, ErrServiceNotReady
	}
	if s.metrics != nil && s.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { s.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()
	}

	if refreshToken == "" {
		err := fmt.Errorf("%w: refresh token is required", ErrValidation)
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, "", err, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return TokenPair{}, err
	}

	principalID, err := s.codec.Decode(refreshToken, token.KindRefresh, true)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	record, err := s.tokens.GetByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			// A validly signed token with no live record is the replay
			// signature: it was rotated or revoked after issuance.
			s.metricInc(MetricRefreshFailure)
			s.emitAudit(ctx, auditEventRefreshReuseDetected, false, principalID, ErrUnauthorized, nil)
			return TokenPair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "store_lookup_failed"}
		})
		return TokenPair{}, err
	}

	now := time.Now()
	if record.PrincipalID != principalID || !record.Live(now) {
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, principalID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "record_not_live"}
		})
		return TokenPair{}, fmt.Errorf("%w: refresh token no longer valid", ErrUnauthorized)
	}

	if _, err := s.principals.GetByID(ctx, principalID); err != nil {
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, principalID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "principal_vanished"}
		})
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	pair, newRecord, err := s.issuePair(principalID)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "issue_failed"}
		})
		return TokenPair{}, err
	}

	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Rotate(ctx, refreshToken, newRecord.Token, newRecord.ExpiresAt); err != nil {
		if errors.Is(err, ErrRotationConflict) || errors.Is(err, ErrRefreshTokenNotFound) {
			s.metricInc(MetricRefreshConflict)
			s.metricInc(MetricRefreshFailure)
			s.emitAudit(ctx, auditEventRefreshReuseDetected, false, principalID, ErrUnauthorized, func() map[string]string {
				return map[string]string{"reason": "rotation_lost"}
			})
			return TokenPair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		s.metricInc(MetricRefreshFailure)
		s.emitAudit(ctx, auditEventRefreshFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "rotate_failed"}
		})
		return TokenPair{}, err
	}

	s.metricInc(MetricRefreshSuccess)
	s.emitAudit(ctx, auditEventRefreshSuccess, true, principalID, nil, nil)

	return pair, nil
}

// ResetPassword replaces a principal's credential without knowing the old
// one. It is an administrative operation: unlike Login, an unknown email is
// reported as [ErrPrincipalNotFound] rather than folded into an unauthorized
// shape, because the caller is trusted tooling, not an anonymous client.
//
// When Config.Session.RevokeOnPasswordReset is set (the default), every
// outstanding refresh record is revoked after the credential is updated.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) error {
	if s == nil || s.principals == nil || s.tokens == nil {
		return ErrServiceNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || newPassword == "" {
		err := fmt.Errorf("%w: email and new password are required", ErrValidation)
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventPasswordResetFailure, false, "", err, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return err
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventPasswordResetFailure, false, "", err, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": "principal_not_found",
			}
		})
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrValidation, err)
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventPasswordResetFailure, false, principal.ID, wrapped, func() map[string]string {
			return map[string]string{"reason": "hash_failed"}
		})
		return wrapped
	}
	newPassword = ""

	if err := ctx.Err(); err != nil {
		return err
	}
	principal.PasswordHash = hash
	principal.UpdatedAt = time.Now()
	if err := s.principals.Update(ctx, principal); err != nil {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventPasswordResetFailure, false, principal.ID, err, func() map[string]string {
			return map[string]string{"reason": "update_failed"}
		})
		return err
	}

	if s.config.Session.RevokeOnPasswordReset {
		if err := s.tokens.RevokeAllForPrincipal(ctx, principal.ID); err != nil {
			// The credential is already updated; there is no rollback.
			log.Print("authcore: session revocation failed after password reset")
			s.metricInc(MetricPasswordResetFailure)
			s.emitAudit(ctx, auditEventPasswordResetFailure, false, principal.ID, err, func() map[string]string {
				return map[string]string{"reason": "revoke_failed"}
			})
			return fmt.Errorf("revoke sessions after password reset: %w", err)
		}
		s.metricInc(MetricSessionRevoked)
	}

	s.metricInc(MetricPasswordResetSuccess)
	s.emitAudit(ctx, auditEventPasswordResetSuccess, true, principal.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})

	return nil
}

// ChangePassword is the self-service counterpart of ResetPassword: the
// caller proves knowledge of the current password, the new password must
// differ, and every outstanding session is revoked on success.
func (s *Service) ChangePassword(ctx context.Context, principalID, oldPassword, newPassword string) error {
	if s == nil || s.principals == nil || s.tokens == nil {
		return ErrServiceNotReady
	}
	if principalID == "" || oldPassword == "" || newPassword == "" {
		err := fmt.Errorf("%w: principal id, old and new password are required", ErrValidation)
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return err
	}

	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "principal_not_found"}
		})
		return err
	}

	if !s.hasher.Verify(oldPassword, principal.PasswordHash) {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return ErrInvalidCredentials
	}
	if s.hasher.Verify(newPassword, principal.PasswordHash) {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, ErrPasswordReuse, func() map[string]string {
			return map[string]string{"reason": "password_reuse"}
		})
		return ErrPasswordReuse
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrValidation, err)
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, wrapped, func() map[string]string {
			return map[string]string{"reason": "hash_failed"}
		})
		return wrapped
	}
	oldPassword = ""
	newPassword = ""

	if err := ctx.Err(); err != nil {
		return err
	}
	principal.PasswordHash = hash
	principal.UpdatedAt = time.Now()
	if err := s.principals.Update(ctx, principal); err != nil {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "update_failed"}
		})
		return err
	}

	if err := s.tokens.RevokeAllForPrincipal(ctx, principalID); err != nil {
		log.Print("authcore: session revocation failed after password change")
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventPasswordChangeFailure, false, principalID, err, func() map[string]string {
			return map[string]string{"reason": "revoke_failed"}
		})
		return fmt.Errorf("revoke sessions after password change: %w", err)
	}
	s.metricInc(MetricSessionRevoked)

	s.metricInc(MetricPasswordChangeSuccess)
	s.emitAudit(ctx, auditEventPasswordChangeSuccess, true, principalID, nil, nil)

	return nil
}

// Logout revokes every outstanding refresh record for the principal. Access
// tokens already in the wild stay valid until they expire; only the refresh
// path is cut.
func (s *Service) Logout(ctx context.Context, principalID string) error {
	if s == nil || s.tokens == nil {
		return ErrServiceNotReady
	}
	if principalID == "" {
		return fmt.Errorf("%w: principal id is required", ErrValidation)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.tokens.RevokeAllForPrincipal(ctx, principalID)
	if err == nil {
		s.metricInc(MetricLogout)
		s.metricInc(MetricSessionRevoked)
	}
	s.emitAudit(ctx, auditEventLogout, err == nil, principalID, err, nil)
	return err
}

// LogoutByToken revokes all sessions of the principal named by a refresh
// token. The token's expiry is deliberately not checked so that cleanup
// tooling can act on tokens that have already lapsed; signature, issuer,
// audience, and kind are still enforced.
func (s *Service) LogoutByToken(ctx context.Context, refreshToken string) error {
	if s == nil || s.tokens == nil {
		return ErrServiceNotReady
	}

	principalID, err := s.codec.Decode(refreshToken, token.KindRefresh, false)
	if err != nil {
		s.emitAudit(ctx, auditEventLogout, false, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return s.Logout(ctx, principalID)
}

// ValidateAccess verifies an access token and returns the principal id it
// was issued for. This is a pure codec check; no store is consulted, which
// keeps it allocation-light for per-request middleware.
func (s *Service) ValidateAccess(tokenStr string) (string, error) {
	if s == nil || s.codec == nil {
		return "", ErrServiceNotReady
	}

	principalID, err := s.codec.Decode(tokenStr, token.KindAccess, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return principalID, nil
}

// SweepExpiredTokens prunes refresh records past their stored expiry and
// returns the number removed. The library owns no scheduler; run this from
// an external cron or ticker.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int, error) {
	if s == nil || s.tokens == nil {
		return 0, ErrServiceNotReady
	}

	n, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		s.emitAudit(ctx, auditEventTokenSweep, false, "", err, nil)
		return n, err
	}
	if s.metrics != nil {
		s.metrics.Add(MetricTokensSwept, uint64(n))
	}
	s.emitAudit(ctx, auditEventTokenSweep, true, "", nil, func() map[string]string {
		return map[string]string{"pruned": fmt.Sprintf("%d", n)}
	})
	return n, nil
}

func (s *Service) issuePair(principalID string) (TokenPair, RefreshTokenRecord, error) {
	access, accessExp, err := s.codec.IssueAccess(principalID)
	if err != nil {
		return TokenPair{}, RefreshTokenRecord{}, err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(principalID)
	if err != nil {
		return TokenPair{}, RefreshTokenRecord{}, err
	}

	now := time.Now()
	record := RefreshTokenRecord{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Token:       refresh,
		ExpiresAt:   refreshExp,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	pair := TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}
	return pair, record, nil
}
