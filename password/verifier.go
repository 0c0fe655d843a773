package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when callers do not override it.
const DefaultCost = 12

// Verifier hashes and verifies credentials with bcrypt. The cost is fixed at
// construction; a Verifier is immutable and safe for concurrent use.
type Verifier struct {
	cost int
}

// NewVerifier returns a Verifier with the given bcrypt cost. It fails fast
// when the cost is outside bcrypt's supported range.
func NewVerifier(cost int) (*Verifier, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Verifier{cost: cost}, nil
}

// Hash derives a salted bcrypt hash of plain. Empty or all-whitespace input
// is rejected before any hashing work happens. Hashing the same input twice
// yields different hashes; both verify.
func (v *Verifier) Hash(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", errors.New("password must not be blank")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plain matches the stored hash. It never returns an
// error: empty input and a malformed hash are both just false, so callers
// cannot distinguish which side was bad.
func (v *Verifier) Verify(plain, hash string) bool {
	if plain == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Cost returns the work factor the Verifier hashes with.
func (v *Verifier) Cost() int {
	return v.cost
}
