// Package redis keeps refresh tokens in redis.
//
// Keys layout (prefix is configurable):
//
//	{prefix}:rt:{id}      hash with token record
//	{prefix}:rth:{hash}   token id by token hash
//	{prefix}:rtu:{user}   set of user's token ids
//
// Record keys expire some time after the token itself, so reuse of a revoked
// token is still detectable for a while.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	defaultPrefix    = "gopherauth"
	defaultRetention = 7 * 24 * time.Hour
)

// Script results
const (
	statusOK       int64 = 0
	statusNotFound int64 = 1
	statusRevoked  int64 = 2
	statusExpired  int64 = 3
	statusExists   int64 = 4
)

// KEYS: record, hash index, user set
// ARGV: record fields as name/value pairs..., expire at (unix ms)
const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 4
end
local expire_at = ARGV[#ARGV]
local fields = {}
for i = 1, #ARGV - 1 do
  fields[i] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("PEXPIREAT", KEYS[1], expire_at)
redis.call("SET", KEYS[2], redis.call("HGET", KEYS[1], "id"))
redis.call("PEXPIREAT", KEYS[2], expire_at)
redis.call("SADD", KEYS[3], redis.call("HGET", KEYS[1], "id"))
return 0
`

var createLua = redis.NewScript(createScript)

// KEYS: parent record, child record, child hash index, user set
// ARGV: now (unix us), user id, child id, child hash, child expires at (unix us),
//
//	device name, user agent, ip address, child expire at (unix ms)
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 1
end
local parent = redis.call("HMGET", KEYS[1], "revoked", "expires_at", "user_id")
if parent[3] ~= ARGV[2] then
  return 1
end
if parent[1] == "1" then
  return 2
end
if tonumber(parent[2]) <= tonumber(ARGV[1]) then
  return 3
end
if redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return 4
end

redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "last_used_at", ARGV[1])

redis.call("HSET", KEYS[2],
  "id", ARGV[3], "user_id", parent[3], "token_hash", ARGV[4], "expires_at", ARGV[5],
  "revoked", "0", "revoked_at", "", "device_name", ARGV[6], "user_agent", ARGV[7],
  "ip_address", ARGV[8], "created_at", ARGV[1], "last_used_at", "")
redis.call("PEXPIREAT", KEYS[2], ARGV[9])
redis.call("SET", KEYS[3], ARGV[3])
redis.call("PEXPIREAT", KEYS[3], ARGV[9])
redis.call("SADD", KEYS[4], ARGV[3])
return 0
`

var rotateLua = redis.NewScript(rotateScript)

// KEYS: record
// ARGV: now (unix us)
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 1
end
if redis.call("HGET", KEYS[1], "revoked") ~= "1" then
  redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1])
end
return 0
`

var revokeLua = redis.NewScript(revokeScript)

// KEYS: user set
// ARGV: now (unix us), record key prefix
// Record keys are built inside the script, so it is not redis cluster friendly
const revokeAllScript = `
local revoked = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. id
  if redis.call("EXISTS", key) == 1 then
    if redis.call("HGET", key, "revoked") ~= "1" then
      redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[1])
      revoked = revoked + 1
    end
  else
    redis.call("SREM", KEYS[1], id)
  end
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

type Config struct {
	// Keys namespace
	// If not set than default is used
	Prefix string

	// How long record is kept after token expiration
	// If not set than default is used
	Retention time.Duration
}

// Refresh token repository
// Every write is one lua script, so check-and-set is atomic on the server
type RefreshTokenRepo struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRefreshTokenRepo(rdb redis.UniversalClient, cfg Config) *RefreshTokenRepo {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}

	return &RefreshTokenRepo{
		rdb:       rdb,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
	}
}

func (r *RefreshTokenRepo) recordPrefix() string {
	return r.prefix + ":rt:"
}

func (r *RefreshTokenRepo) recordKey(id uuid.UUID) string {
	return r.recordPrefix() + id.String()
}

func (r *RefreshTokenRepo) hashKey(tokenHash string) string {
	return r.prefix + ":rth:" + tokenHash
}

func (r *RefreshTokenRepo) userKey(userID uuid.UUID) string {
	return r.prefix + ":rtu:" + userID.String()
}

func (r *RefreshTokenRepo) expireAt(expiresAt time.Time) int64 {
	return expiresAt.Add(r.retention).UnixMilli()
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	args := append(encodeToken(t), r.expireAt(t.ExpiresAt))
	status, err := createLua.Run(ctx, r.rdb,
		[]string{r.recordKey(t.ID), r.hashKey(t.TokenHash), r.userKey(t.UserID)},
		args...,
	).Int64()

	switch {
	case err != nil:
		return t, fmt.Errorf("redis error: %w", err)
	case status == statusExists:
		return t, fmt.Errorf("repo error: token %s already stored", t.ID)
	}

	return r.GetByID(ctx, t.ID)
}

func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	raw, err := r.rdb.Get(ctx, r.hashKey(tokenHash)).Result()

	switch {
	case errors.Is(err, redis.Nil):
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("repo error: bad token id in index: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *RefreshTokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, r.recordKey(id)).Result()

	switch {
	case err != nil:
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	case len(fields) == 0:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	token, err := decodeToken(fields)
	if err != nil {
		return token, fmt.Errorf("repo error: corrupted token %s: %w", id, err)
	}
	return token, nil
}

func (r *RefreshTokenRepo) Rotate(ctx context.Context, parentID uuid.UUID, child models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	// Child's user is parent's one, the script refuses parents of somebody else
	parent, err := r.GetByID(ctx, parentID)
	if err != nil {
		return models.RefreshToken{}, err
	}

	status, err := rotateLua.Run(ctx, r.rdb,
		[]string{r.recordKey(parentID), r.recordKey(child.ID), r.hashKey(child.TokenHash), r.userKey(parent.UserID)},
		at.UnixMicro(),
		parent.UserID.String(),
		child.ID.String(),
		child.TokenHash,
		child.ExpiresAt.UnixMicro(),
		child.Device.Name,
		child.Device.UserAgent,
		child.Device.IPAddress,
		r.expireAt(child.ExpiresAt),
	).Int64()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}

	switch status {
	case statusOK:
		return r.GetByID(ctx, child.ID)
	case statusNotFound:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case statusRevoked:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case statusExpired:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	default:
		return models.RefreshToken{}, fmt.Errorf("repo error: token %s already stored", child.ID)
	}
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (models.RefreshToken, error) {
	status, err := revokeLua.Run(ctx, r.rdb, []string{r.recordKey(id)}, at.UnixMicro()).Int64()

	switch {
	case err != nil:
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	case status == statusNotFound:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return r.GetByID(ctx, id)
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	n, err := revokeAllLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, at.UnixMicro(), r.recordPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}

// Record as HSET name/value pairs, times as unix microseconds
func encodeToken(t models.RefreshToken) []any {
	revoked := "0"
	if t.Revoked {
		revoked = "1"
	}

	return []any{
		"id", t.ID.String(),
		"user_id", t.UserID.String(),
		"token_hash", t.TokenHash,
		"expires_at", t.ExpiresAt.UnixMicro(),
		"revoked", revoked,
		"revoked_at", encodeTime(t.RevokedAt),
		"device_name", t.Device.Name,
		"user_agent", t.Device.UserAgent,
		"ip_address", t.Device.IPAddress,
		"created_at", t.CreatedAt.UnixMicro(),
		"last_used_at", encodeTime(t.LastUsedAt),
	}
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func decodeToken(f map[string]string) (models.RefreshToken, error) {
	var (
		t   models.RefreshToken
		err error
	)

	if t.ID, err = uuid.Parse(f["id"]); err != nil {
		return t, fmt.Errorf("id: %w", err)
	}
	if t.UserID, err = uuid.Parse(f["user_id"]); err != nil {
		return t, fmt.Errorf("user_id: %w", err)
	}
	if t.ExpiresAt, err = decodeTime(f["expires_at"]); err != nil {
		return t, fmt.Errorf("expires_at: %w", err)
	}
	if t.CreatedAt, err = decodeTime(f["created_at"]); err != nil {
		return t, fmt.Errorf("created_at: %w", err)
	}
	if t.RevokedAt, err = decodeOptionalTime(f["revoked_at"]); err != nil {
		return t, fmt.Errorf("revoked_at: %w", err)
	}
	if t.LastUsedAt, err = decodeOptionalTime(f["last_used_at"]); err != nil {
		return t, fmt.Errorf("last_used_at: %w", err)
	}

	t.TokenHash = f["token_hash"]
	t.Revoked = f["revoked"] == "1"
	t.Device = models.Device{
		Name:      f["device_name"],
		UserAgent: f["user_agent"],
		IPAddress: f["ip_address"],
	}

	return t, nil
}

func decodeTime(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}

func decodeOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := decodeTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
