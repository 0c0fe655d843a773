package redistore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veldran/authcore"
)

// ErrRedisUnavailable wraps every transport-level Redis failure so callers
// can distinguish infrastructure trouble from authentication outcomes.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRecordCorrupt is returned when a stored record blob cannot be parsed.
var ErrRecordCorrupt = errors.New("refresh record corrupt")

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

// rotateRecordScript is the compare-and-swap at the heart of rotation. It
// runs atomically inside Redis: the old record is checked, deleted, and the
// new one written in a single step, so of N concurrent rotations of the same
// token exactly one observes the old key and wins.
//
// The new blob is built in place from the old one: everything up to the
// final 8 bytes (identity, principal, creation time) is preserved and only
// the expiry is replaced, which is why Encode pins the expiry to the tail.
const rotateRecordScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local old_key = KEYS[1]
local new_key = KEYS[2]
local old_member = ARGV[1]
local new_member = ARGV[2]
local index_prefix = ARGV[3]
local now_unix = tonumber(ARGV[4])
local new_expiry = ARGV[5]
local new_ttl_ms = tonumber(ARGV[6])

local data = redis.call("GET", old_key)
if not data then
  return 0
end

local version = string.byte(data, 1)
if version ~= 1 then
  return 4
end
local id_len = string.byte(data, 2)
if not id_len then
  return 4
end
local pidx = 3 + id_len
local principal_len = string.byte(data, pidx)
if not principal_len then
  return 4
end
if #data < pidx + principal_len + 16 then
  return 4
end
local principal = string.sub(data, pidx + 1, pidx + principal_len)
local index_key = index_prefix .. principal

local expires_at = read_be64(data, #data - 7)
if not expires_at then
  return 4
end
if expires_at <= now_unix then
  redis.call("DEL", old_key)
  redis.call("SREM", index_key, old_member)
  return 1
end

local updated = string.sub(data, 1, #data - 8) .. new_expiry

redis.call("DEL", old_key)
redis.call("SREM", index_key, old_member)
redis.call("SET", new_key, updated, "PX", new_ttl_ms)
redis.call("SADD", index_key, new_member)

return 3
`

var rotateRecordLua = redis.NewScript(rotateRecordScript)

// Store is a Redis-backed [authcore.RefreshTokenStore]. Records are keyed by
// the SHA-256 of the token string, so raw tokens never appear in the
// keyspace, and carry a key TTL matching their expiry. Revocation is
// deletion: a revoked record is indistinguishable from one that never
// existed, which is exactly the shape reuse detection wants.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a Store backed by the given Redis client. prefix sets the
// key namespace and defaults to "authrt".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "authrt"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Store) recordKey(digest string) string {
	return s.prefix + ":rt:" + digest
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":rp:" + principalID
}

func (s *Store) principalKeyPrefix() string {
	return s.prefix + ":rp:"
}

// Create persists a new refresh record with a TTL running to its expiry and
// registers it in the principal's index set.
func (s *Store) Create(ctx context.Context, rec authcore.RefreshTokenRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return errors.New("refresh record already expired")
	}

	data, err := Encode(rec)
	if err != nil {
		return err
	}

	digest := tokenDigest(rec.Token)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(digest), data, ttl)
		pipe.SAdd(ctx, s.principalKey(rec.PrincipalID), digest)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// GetByToken returns the live record for a token. An absent key, whether
// never created, rotated away, revoked, or TTL-expired, is
// [authcore.ErrRefreshTokenNotFound].
func (s *Store) GetByToken(ctx context.Context, token string) (authcore.RefreshTokenRecord, error) {
	digest := tokenDigest(token)

	data, err := s.redis.Get(ctx, s.recordKey(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.RefreshTokenRecord{}, authcore.ErrRefreshTokenNotFound
		}
		return authcore.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	rec.Token = token

	// Key TTL normally handles expiry; the stored timestamp is the
	// authoritative check against clock drift between writers.
	if !time.Now().Before(rec.ExpiresAt) {
		_, _ = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.recordKey(digest))
			pipe.SRem(ctx, s.principalKey(rec.PrincipalID), digest)
			return nil
		})
		return authcore.RefreshTokenRecord{}, authcore.ErrRefreshTokenNotFound
	}

	return rec, nil
}

// Rotate atomically swaps oldToken's record for one carrying newToken and
// newExpiry via a Lua compare-and-swap. Identity, principal, and creation
// time carry over. A missing or expired old record returns
// [authcore.ErrRotationConflict]: the caller lost the race or is replaying.
func (s *Store) Rotate(ctx context.Context, oldToken, newToken string, newExpiry time.Time) error {
	ttlMillis := time.Until(newExpiry).Milliseconds()
	if ttlMillis <= 0 {
		return errors.New("new expiry already passed")
	}

	var expiryBytes [8]byte
	binary.BigEndian.PutUint64(expiryBytes[:], uint64(newExpiry.Unix()))

	oldDigest := tokenDigest(oldToken)
	newDigest := tokenDigest(newToken)

	result, err := rotateRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(oldDigest), s.recordKey(newDigest)},
		oldDigest,
		newDigest,
		s.principalKeyPrefix(),
		time.Now().Unix(),
		string(expiryBytes[:]),
		ttlMillis,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, ok := result.(int64)
	if !ok {
		return fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound, rotateStatusExpired:
		return authcore.ErrRotationConflict
	case rotateStatusInvalidBlob:
		return ErrRecordCorrupt
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// RevokeAllForPrincipal deletes every record in the principal's index set
// along with the set itself.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	indexKey := s.principalKey(principalID)

	digests, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, digest := range digests {
			pipe.Del(ctx, s.recordKey(digest))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteExpired prunes index entries whose record keys have TTL-expired and
// returns the number removed. Record keys themselves expire on their own;
// this sweep keeps the per-principal index sets from accumulating dead
// members. Admin-path only: it SCANs the index keyspace.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	pattern := s.principalKeyPrefix() + "*"
	var (
		cursor uint64
		pruned int
	)

	for {
		indexKeys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, indexKey := range indexKeys {
			n, err := s.pruneIndex(ctx, indexKey)
			if err != nil {
				return pruned, err
			}
			pruned += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return pruned, nil
}

func (s *Store) pruneIndex(ctx context.Context, indexKey string) (int, error) {
	digests, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(digests) == 0 {
		// Empty index sets are themselves garbage.
		if err := s.redis.Del(ctx, indexKey).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(digests))
	for i, digest := range digests {
		existsCmds[i] = pipe.Exists(ctx, s.recordKey(digest))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var dead []interface{}
	for i, cmd := range existsCmds {
		v, cmdErr := cmd.Result()
		if cmdErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if v == 0 {
			dead = append(dead, digests[i])
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	if err := s.redis.SRem(ctx, indexKey, dead...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return len(dead), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
