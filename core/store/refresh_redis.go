package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRefreshRedisUnavailable = errors.New("refresh redis unavailable")

const (
	refreshStateActive = "a"
	refreshStateUsed   = "u"
)

// consumeRefreshLua flips an active record to used, keeping its remaining TTL.
// KEYS[1] = record key
//
// Returns {"ok", data} on first use, {"reused", data} afterwards and a
// not_found error when the key is missing or expired.
var consumeRefreshLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
local state = string.sub(data, 1, 1)
if state ~= 'a' then
  return {'reused', data}
end
local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end
local used = 'u' .. string.sub(data, 2)
redis.call('SET', KEYS[1], used, 'PX', ttlMs)
return {'ok', data}
`)

// revokeRefreshLua deletes every still-active token listed in the user index.
// KEYS[1] = user index set
// ARGV[1] = record key prefix
var revokeRefreshLua = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local data = redis.call('GET', key)
  if not data then
    redis.call('SREM', KEYS[1], id)
  elseif string.sub(data, 1, 1) == 'a' then
    redis.call('DEL', key)
    redis.call('SREM', KEYS[1], id)
    removed = removed + 1
  end
end
return removed
`)

type redisRefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRefreshStore keeps one key per token id with a TTL matching the
// token expiry, plus a per-user index set used by RevokeUser. Index members
// whose record has expired are dropped lazily on revoke.
func NewRedisRefreshStore(client redis.UniversalClient, prefix string) RefreshStore {
	if prefix == "" {
		prefix = "chapel"
	}
	return &redisRefreshStore{redis: client, prefix: prefix}
}

func (s *redisRefreshStore) recordPrefix() string {
	return s.prefix + ":rt:"
}

func (s *redisRefreshStore) key(id string) string {
	return s.recordPrefix() + id
}

func (s *redisRefreshStore) userKey(userID int64) string {
	return s.prefix + ":rtu:" + strconv.FormatInt(userID, 10)
}

func (s *redisRefreshStore) Register(ctx context.Context, rec RefreshRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("register refresh token: already expired")
	}
	pipe := s.redis.TxPipeline()
	setCmd := pipe.SetNX(ctx, s.key(rec.ID), encodeRefreshRecord(refreshStateActive, rec), ttl)
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	if !setCmd.Val() {
		return fmt.Errorf("register refresh token: duplicate id %s", rec.ID)
	}
	return nil
}

func (s *redisRefreshStore) Consume(ctx context.Context, id string, now time.Time) (*RefreshRecord, error) {
	result, err := consumeRefreshLua.Run(ctx, s.redis, []string{s.key(id)}).Result()
	if err != nil {
		if err.Error() == "not_found" || errors.Is(err, redis.Nil) {
			return nil, ErrRefreshUnknown
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("%w: unexpected lua result", ErrRefreshRedisUnavailable)
	}
	status, _ := parts[0].(string)
	data, _ := parts[1].(string)
	rec, err := decodeRefreshRecord(id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	switch status {
	case "ok":
		if !now.Before(rec.ExpiresAt) {
			return nil, ErrRefreshUnknown
		}
		return rec, nil
	case "reused":
		return rec, ErrRefreshReused
	default:
		return nil, fmt.Errorf("%w: unexpected status %q", ErrRefreshRedisUnavailable, status)
	}
}

func (s *redisRefreshStore) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	n, err := revokeRefreshLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.recordPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return n, nil
}

// PurgeExpired is a no-op: record keys carry their own TTL.
func (s *redisRefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// record layout: state|userID|expiresUnix|createdUnix
func encodeRefreshRecord(state string, rec RefreshRecord) string {
	return strings.Join([]string{
		state,
		strconv.FormatInt(rec.UserID, 10),
		strconv.FormatInt(rec.ExpiresAt.UTC().Unix(), 10),
		strconv.FormatInt(rec.CreatedAt.UTC().Unix(), 10),
	}, "|")
}

func decodeRefreshRecord(id, data string) (*RefreshRecord, error) {
	parts := strings.Split(data, "|")
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed refresh record")
	}
	if parts[0] != refreshStateActive && parts[0] != refreshStateUsed {
		return nil, fmt.Errorf("malformed refresh state %q", parts[0])
	}
	uid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, err
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, err
	}
	created, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, err
	}
	return &RefreshRecord{
		ID:        id,
		UserID:    uid,
		ExpiresAt: time.Unix(exp, 0).UTC(),
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}
