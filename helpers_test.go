package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veldran/authcore/password"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = append([]byte(nil), testSecret...)
	cfg.Token.Issuer = "authcore-test"
	cfg.Token.Audience = "authcore-clients"
	// MinCost keeps the suite fast; production keeps the default.
	cfg.Password.Cost = bcrypt.MinCost
	return cfg
}

// fakePrincipalStore is an in-memory PrincipalStore keyed by id.
type fakePrincipalStore struct {
	mu         sync.Mutex
	byID       map[string]Principal
	failGet    error
	failUpdate error
}

func newFakePrincipalStore() *fakePrincipalStore {
	return &fakePrincipalStore{byID: map[string]Principal{}}
}

func (s *fakePrincipalStore) put(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
}

func (s *fakePrincipalStore) GetByEmail(_ context.Context, email string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return Principal{}, s.failGet
	}
	for _, p := range s.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return Principal{}, ErrPrincipalNotFound
}

func (s *fakePrincipalStore) GetByID(_ context.Context, id string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return Principal{}, s.failGet
	}
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (s *fakePrincipalStore) Update(_ context.Context, p Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	if _, ok := s.byID[p.ID]; !ok {
		return ErrPrincipalNotFound
	}
	s.byID[p.ID] = p
	return nil
}

// fakeTokenStore is an in-memory RefreshTokenStore. Rotate performs its
// compare-and-swap under the store mutex, so concurrent rotations of the same
// token admit exactly one winner.
type fakeTokenStore struct {
	mu         sync.Mutex
	byToken    map[string]RefreshTokenRecord
	failRevoke error
	failCreate error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byToken: map[string]RefreshTokenRecord{}}
}

func (s *fakeTokenStore) put(rec RefreshTokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[rec.Token] = rec
}

func (s *fakeTokenStore) liveCount(principalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, rec := range s.byToken {
		if rec.PrincipalID == principalID && rec.Live(now) {
			n++
		}
	}
	return n
}

func (s *fakeTokenStore) GetByToken(_ context.Context, token string) (RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[token]
	if !ok {
		return RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	return rec, nil
}

func (s *fakeTokenStore) Create(_ context.Context, rec RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.byToken[rec.Token] = rec
	return nil
}

func (s *fakeTokenStore) Rotate(_ context.Context, oldToken, newToken string, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[oldToken]
	if !ok || !rec.Live(time.Now()) {
		return ErrRotationConflict
	}
	delete(s.byToken, oldToken)
	rec.Token = newToken
	rec.ExpiresAt = newExpiry
	rec.UpdatedAt = time.Now()
	s.byToken[newToken] = rec
	return nil
}

func (s *fakeTokenStore) RevokeAllForPrincipal(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRevoke != nil {
		return s.failRevoke
	}
	now := time.Now()
	for token, rec := range s.byToken {
		if rec.PrincipalID == principalID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = now
			s.byToken[token] = rec
		}
	}
	return nil
}

func (s *fakeTokenStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for token, rec := range s.byToken {
		if !now.Before(rec.ExpiresAt) {
			delete(s.byToken, token)
			n++
		}
	}
	return n, nil
}

type testEnv struct {
	svc        *Service
	principals *fakePrincipalStore
	tokens     *fakeTokenStore
}

// seedPrincipal registers "p-1" (ada@example.com, password "open sesame").
func seedPrincipal(t *testing.T, principals *fakePrincipalStore) {
	t.Helper()

	hasher, err := password.NewVerifier(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewVerifier error: %v", err)
	}
	hash, err := hasher.Hash("open sesame")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	principals.put(Principal{
		ID:           "p-1",
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
}

// newTestEnv builds a Service over fake stores with one seeded principal.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	principals := newFakePrincipalStore()
	tokens := newFakeTokenStore()
	seedPrincipal(t, principals)

	svc, err := New().
		WithConfig(cfg).
		WithPrincipalStore(principals).
		WithRefreshTokenStore(tokens).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, principals: principals, tokens: tokens}
}
