package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestResetPasswordRejectsMissingInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.svc.ResetPassword(ctx, "", "new password"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty email, got %v", err)
	}
	if err := env.svc.ResetPassword(ctx, "ada@example.com", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty password, got %v", err)
	}
}

// ResetPassword is an administrative flow; unlike Login it reports an unknown
// email as not-found instead of hiding it.
func TestResetPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.svc.ResetPassword(context.Background(), "nobody@example.com", "new password")
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := env.svc.ResetPassword(ctx, "ada@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	// Old credential and old session are both dead.
	if _, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old session revoked, got %v", err)
	}

	// The new credential works.
	if _, _, err := env.svc.Login(ctx, "ada@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Login with new password error: %v", err)
	}
}

func TestResetPasswordKeepsSessionsWhenDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Session.RevokeOnPasswordReset = false
	})
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := env.svc.ResetPassword(ctx, "ada@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("expected session to survive reset, got %v", err)
	}
}

func TestResetPasswordSurfacesRevokeFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	boom := errors.New("store down")
	env.tokens.failRevoke = boom

	err := env.svc.ResetPassword(context.Background(), "ada@example.com", "hunter2hunter2")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error to surface, got %v", err)
	}

	// The credential update itself already happened.
	env.tokens.failRevoke = nil
	if _, _, err := env.svc.Login(context.Background(), "ada@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Login with new password error: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := env.svc.ChangePassword(ctx, "p-1", "wrong", "new password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong old password, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, "p-1", "open sesame", "open sesame"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, "ghost", "open sesame", "new password"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}

	if err := env.svc.ChangePassword(ctx, "p-1", "open sesame", "new password"); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	// Change always cuts outstanding sessions.
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "ada@example.com", "new password"); err != nil {
		t.Fatalf("Login with new password error: %v", err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.svc.Logout(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty principal id, got %v", err)
	}

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if err := env.svc.Logout(ctx, "p-1"); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected refresh after logout rejected, got %v", err)
	}

	// Logout of a principal with no sessions is not an error.
	if err := env.svc.Logout(ctx, "p-1"); err != nil {
		t.Fatalf("repeated Logout error: %v", err)
	}
}

func TestLogoutByToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := env.svc.LogoutByToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("LogoutByToken error: %v", err)
	}
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected refresh after logout rejected, got %v", err)
	}

	if err := env.svc.LogoutByToken(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage token, got %v", err)
	}
}

// An expired refresh token still identifies its principal for cleanup.
func TestLogoutByTokenAcceptsExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	now := time.Now()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"knd": "refresh",
		"sub": "p-1",
		"iss": "authcore-test",
		"aud": "authcore-clients",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	if err := env.svc.LogoutByToken(ctx, expired); err != nil {
		t.Fatalf("LogoutByToken with expired token error: %v", err)
	}
	if n := env.tokens.liveCount("p-1"); n != 0 {
		t.Fatalf("expected all sessions revoked, got %d live", n)
	}
}

func TestValidateAccess(t *testing.T) {
	env := newTestEnv(t, nil)

	pair, _, err := env.svc.Login(context.Background(), "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	id, err := env.svc.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess error: %v", err)
	}
	if id != "p-1" {
		t.Fatalf("expected principal p-1, got %q", id)
	}

	if _, err := env.svc.ValidateAccess(pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for refresh token, got %v", err)
	}
	if _, err := env.svc.ValidateAccess("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage, got %v", err)
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	if _, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	env.tokens.put(RefreshTokenRecord{
		ID:          "stale-1",
		PrincipalID: "p-1",
		Token:       "stale-token-1",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
	env.tokens.put(RefreshTokenRecord{
		ID:          "stale-2",
		PrincipalID: "p-1",
		Token:       "stale-token-2",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	n, err := env.svc.SweepExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredTokens error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}

	snap := env.svc.MetricsSnapshot()
	if got := snap.Counters[MetricTokensSwept]; got != 2 {
		t.Fatalf("expected MetricTokensSwept=2, got %d", got)
	}

	// Nothing left to sweep.
	n, err = env.svc.SweepExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("second SweepExpiredTokens error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 swept, got %d", n)
	}
}
