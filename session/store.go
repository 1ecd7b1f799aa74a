package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transient Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound reports a session that does not exist (or was evicted).
var ErrNotFound = errors.New("session not found")

// ErrExpired reports a session whose lifetime has passed.
var ErrExpired = errors.New("session expired")

// ErrHashMismatch reports a rotation attempt with a stale refresh hash.
// The store has already destroyed the session when this is returned.
var ErrHashMismatch = errors.New("refresh hash mismatch")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

const rolesSeparator = ","

// A stale hash is treated as reuse of an already-rotated refresh token,
// so the mismatch arm destroys the session instead of leaving it usable.
const rotateRefreshScript = `
local rh = redis.call("HGET", KEYS[1], "rh")
if not rh then
  return {0}
end
local uid = redis.call("HGET", KEYS[1], "uid") or ""
local ukey = ARGV[5] .. uid
local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
if exp > 0 and tonumber(ARGV[3]) > exp then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ukey, ARGV[4])
  return {1}
end
if rh ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ukey, ARGV[4])
  return {2}
end
redis.call("HSET", KEYS[1], "rh", ARGV[2], "exp", ARGV[7])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("PEXPIRE", ukey, ARGV[6])
local roles = redis.call("HGET", KEYS[1], "roles") or ""
return {3, uid, roles}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const deleteSessionScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[2] .. uid, ARGV[1])
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Session is a single refresh session for one identity on one tenant.
type Session struct {
	SessionID   string
	UserID      string
	TenantID    string
	Roles       []string
	RefreshHash string // hex-encoded SHA-256 of the current rotation marker
	IssuedAt    int64
	ExpiresAt   int64
}

// Store reads and writes sessions in Redis.
type Store struct {
	redis  *redis.Client
	prefix string
}

// NewStore returns a store with the given key prefix.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ak"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":s:" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) userKeyPrefix(tenantID string) string {
	return s.prefix + ":u:" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.userKeyPrefix(tenantID) + userID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save writes the session and indexes it under its user. The per-user
// index carries the same TTL so it cannot outlive its last session by
// more than one lifetime.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.SessionID == "" || sess.UserID == "" {
		return errors.New("incomplete session")
	}
	if ttl <= 0 {
		return errors.New("invalid session ttl")
	}
	for _, role := range sess.Roles {
		if strings.Contains(role, rolesSeparator) {
			return fmt.Errorf("role %q contains separator", role)
		}
	}

	key := s.key(sess.TenantID, sess.SessionID)
	userKey := s.userKey(sess.TenantID, sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"uid":   sess.UserID,
			"roles": strings.Join(sess.Roles, rolesSeparator),
			"rh":    sess.RefreshHash,
			"iat":   sess.IssuedAt,
			"exp":   sess.ExpiresAt,
		})
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tenantID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess := sessionFromFields(tenantID, sessionID, fields["uid"], fields["roles"], fields)

	if sess.ExpiresAt > 0 && time.Now().Unix() > sess.ExpiresAt {
		_ = s.Delete(ctx, tenantID, sessionID)
		return nil, ErrExpired
	}

	return sess, nil
}

// Delete removes one session and its index entry.
func (s *Store) Delete(ctx context.Context, tenantID, sessionID string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID)},
		sessionID,
		s.userKeyPrefix(tenantID),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForUser destroys every session of one identity on a tenant.
// Used after password reset and password change to force re-login.
func (s *Store) DeleteAllForUser(ctx context.Context, tenantID, userID string) error {
	userKey := s.userKey(tenantID, userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sid := range sessionIDs {
			pipe.Del(ctx, s.key(tenantID, sid))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// ActiveSessionCount returns how many sessions are indexed for a user.
func (s *Store) ActiveSessionCount(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// RotateRefreshHash atomically swaps the stored rotation hash from
// providedHash to nextHash and extends the session lifetime to a full
// ttl from now, so the refresh token minted for nextHash never outlives
// its session. A stale providedHash destroys the session and returns
// ErrHashMismatch; callers treat that as replay.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	tenantID, sessionID string,
	providedHash, nextHash string,
	ttl time.Duration,
) (*Session, error) {
	if ttl <= 0 {
		return nil, errors.New("invalid session ttl")
	}

	now := time.Now()

	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID)},
		providedHash,
		nextHash,
		now.Unix(),
		sessionID,
		s.userKeyPrefix(tenantID),
		ttl.Milliseconds(),
		now.Add(ttl).Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusMismatch:
		return nil, ErrHashMismatch
	case rotateStatusRotated:
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: missing rotate script payload", ErrRedisUnavailable)
		}
		uid, _ := parts[1].(string)
		roles, _ := parts[2].(string)

		return &Session{
			SessionID:   sessionID,
			UserID:      uid,
			TenantID:    normalizeTenantID(tenantID),
			Roles:       splitRoles(roles),
			RefreshHash: nextHash,
			ExpiresAt:   now.Add(ttl).Unix(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Ping verifies Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func sessionFromFields(tenantID, sessionID, uid, roles string, fields map[string]string) *Session {
	iat, _ := strconv.ParseInt(fields["iat"], 10, 64)
	exp, _ := strconv.ParseInt(fields["exp"], 10, 64)

	return &Session{
		SessionID:   sessionID,
		UserID:      uid,
		TenantID:    normalizeTenantID(tenantID),
		Roles:       splitRoles(roles),
		RefreshHash: fields["rh"],
		IssuedAt:    iat,
		ExpiresAt:   exp,
	}
}

func splitRoles(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, rolesSeparator)
}
