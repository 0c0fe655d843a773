package authcore

import (
	"errors"
	"time"
)

// Config groups every tunable of the authentication core. A Config is copied
// into the Service at Build time; mutating it afterwards has no effect on a
// built Service.
type Config struct {
	Token    TokenConfig
	Password PasswordConfig
	Session  SessionConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// TokenConfig controls signed-token issuance and validation.
type TokenConfig struct {
	// Secret is the HMAC-SHA256 signing key. Required; at least 32 bytes.
	Secret []byte
	// Issuer and Audience are stamped into every token and enforced on decode.
	Issuer   string
	Audience string
	// AccessTTL bounds the short-lived access token, RefreshTTL the rotating
	// refresh token. RefreshTTL must exceed AccessTTL.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// PasswordConfig controls credential hashing.
type PasswordConfig struct {
	// Cost is the bcrypt work factor, fixed at construction.
	Cost int
}

// SessionConfig controls refresh-session lifecycle behavior.
type SessionConfig struct {
	// RevokeOnPasswordReset revokes all outstanding refresh records when an
	// administrative password reset succeeds. Disabling it leaves sessions
	// issued under the old credential alive until they expire.
	RevokeOnPasswordReset bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter and histogram set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration: 60 minute access tokens,
// 7 day refresh tokens, bcrypt cost 12, revocation on password reset, audit
// and metrics disabled. The signing secret, issuer, and audience must still
// be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  60 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Cost: 12,
		},
		Session: SessionConfig{
			RevokeOnPasswordReset: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for fatal misconfiguration. It is called
// by Builder.Build; callers constructing a Config by hand may invoke it
// directly to fail fast.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) == 0 {
		return errors.New("Token Secret is required")
	}
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}
	if c.Token.Issuer == "" {
		return errors.New("Token Issuer is required")
	}
	if c.Token.Audience == "" {
		return errors.New("Token Audience is required")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}

	// Password
	if c.Password.Cost < 4 || c.Password.Cost > 31 {
		return errors.New("Password Cost must be between 4 and 31")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
