package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates access tokens from refresh tokens. The kind is embedded
// in the signed payload (claim "knd") and enforced on decode, so a refresh
// token can never be replayed where an access token is expected.
type Kind string

const (
	// KindAccess marks short-lived tokens presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks rotating tokens redeemable exactly once.
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed reports a token that is not a structurally valid JWT, or
	// one whose claims cannot be read.
	ErrMalformed = errors.New("token malformed")
	// ErrSignature reports a signature that does not verify under the
	// configured secret.
	ErrSignature = errors.New("token signature invalid")
	// ErrIssuer reports an issuer claim mismatch.
	ErrIssuer = errors.New("token issuer mismatch")
	// ErrAudience reports an audience claim mismatch.
	ErrAudience = errors.New("token audience mismatch")
	// ErrExpired reports a token past its exp claim.
	ErrExpired = errors.New("token expired")
	// ErrWrongKind reports a token of the wrong kind for the operation.
	ErrWrongKind = errors.New("token kind mismatch")
)

// Config carries the construction parameters for a [Codec].
type Config struct {
	// Secret is the HMAC-SHA256 signing key shared by issue and decode.
	Secret []byte
	// Issuer and Audience are stamped into every token and enforced on
	// decode. Both are required.
	Issuer   string
	Audience string
	// AccessTTL and RefreshTTL bound the two token kinds.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Codec issues and decodes HS256-signed JWTs. A Codec is immutable and safe
// for concurrent use.
type Codec struct {
	config Config
}

type claims struct {
	Kind string `json:"knd"`
	jwt.RegisteredClaims
}

// NewCodec validates cfg and returns a ready Codec. It fails fast on a
// missing secret, missing issuer or audience, or a non-positive TTL.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience required")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be > 0")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh TTL must be > 0")
	}

	cfg.Secret = append([]byte(nil), cfg.Secret...)
	return &Codec{config: cfg}, nil
}

// IssueAccess signs a new access token for the principal and returns it with
// its expiry instant.
func (c *Codec) IssueAccess(principalID string) (string, time.Time, error) {
	return c.issue(principalID, KindAccess, c.config.AccessTTL)
}

// IssueRefresh signs a new refresh token for the principal and returns it
// with its expiry instant. Every call produces a distinct token: the jti
// claim is a fresh UUID.
func (c *Codec) IssueRefresh(principalID string) (string, time.Time, error) {
	return c.issue(principalID, KindRefresh, c.config.RefreshTTL)
}

func (c *Codec) issue(principalID string, kind Kind, ttl time.Duration) (string, time.Time, error) {
	if principalID == "" {
		return "", time.Time{}, errors.New("principal id required")
	}

	now := time.Now()
	exp := now.Add(ttl)
	cl := claims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			Audience:  jwt.ClaimStrings{c.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Decode verifies tokenStr and returns the principal id it was issued for.
// Signature, issuer, audience, and kind are always enforced. checkExpiry=false
// relaxes only the expiry check; it exists so administrative cleanup can read
// the principal off an expired refresh token, and must never gate access.
func (c *Codec) Decode(tokenStr string, kind Kind, checkExpiry bool) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if checkExpiry {
		options = append(options,
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(c.config.Issuer),
			jwt.WithAudience(c.config.Audience),
		)
	} else {
		// Issuer and audience are re-checked by hand below.
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &claims{}, func(*jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return "", mapParseError(err)
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok {
		return "", ErrMalformed
	}

	if !checkExpiry {
		if cl.Issuer != c.config.Issuer {
			return "", ErrIssuer
		}
		if !audienceContains(cl.Audience, c.config.Audience) {
			return "", ErrAudience
		}
	}
	if cl.Kind != string(kind) {
		return "", ErrWrongKind
	}
	if cl.Subject == "" {
		return "", ErrMalformed
	}

	return cl.Subject, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudience, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
