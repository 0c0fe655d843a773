package authcore

import (
	"errors"

	"github.com/veldran/authcore/password"
	"github.com/veldran/authcore/token"
)

// Builder assembles a [Service]. A Builder is single-use: Build succeeds at
// most once per Builder.
type Builder struct {
	config Config

	principals PrincipalStore
	tokens     RefreshTokenStore
	auditSink  AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the Builder's configuration. The value is cloned, so
// later mutation of cfg by the caller has no effect.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithPrincipalStore sets the account store. Required.
func (b *Builder) WithPrincipalStore(s PrincipalStore) *Builder {
	b.principals = s
	return b
}

// WithRefreshTokenStore sets the refresh-token store. Required.
func (b *Builder) WithRefreshTokenStore(s RefreshTokenStore) *Builder {
	b.tokens = s
	return b
}

// WithAuditSink sets the destination for audit events. Implies nothing about
// Config.Audit.Enabled; with auditing disabled the sink is never used.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and returns a ready
// [Service]. Every misconfiguration surfaces here rather than on first use.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if b.tokens == nil {
		return nil, errors.New("refresh token store required")
	}

	codec, err := token.NewCodec(token.Config{
		Secret:     cloneBytes(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewVerifier(cfg.Password.Cost)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		config:     cfg,
		principals: b.principals,
		tokens:     b.tokens,
		codec:      codec,
		hasher:     hasher,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
	}

	b.built = true

	return svc, nil
}
