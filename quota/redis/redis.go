// Package redis provides a Redis-backed QuotaManager for rpcrouter.
//
// Usage counters live in a single Redis hash, one field per provider,
// with Lua scripts making reserve and rollback atomic. This makes
// monthly accounting safe across multiple gateway instances.
package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chainmux/rpcrouter"
)

// DefaultKey is the hash key holding usage counters.
const DefaultKey = "rpcrouter:usage"

// Store is a Redis-backed QuotaManager.
type Store struct {
	client goredis.Cmdable
	key    string
	logger zerolog.Logger
}

var _ rpcrouter.QuotaManager = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKey sets the Redis hash key (default DefaultKey).
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger used for backend errors.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Redis-backed QuotaManager. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		key:    DefaultKey,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// reserveScript atomically reserves usage.
// KEYS[1] = usage hash key
// ARGV[1] = provider field
// ARGV[2] = cost
// ARGV[3] = limit (0 or less = unlimited)
//
// Returns:
//
//	1 = reserved OK
//	0 = limit exceeded
var reserveScript = goredis.NewScript(`
local key = KEYS[1]
local provider = ARGV[1]
local cost = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local used = tonumber(redis.call("HGET", key, provider) or "0")
if limit > 0 and used + cost > limit then
    return 0
end

redis.call("HINCRBY", key, provider, cost)
return 1
`)

// rollbackScript subtracts usage, clamped at zero.
// KEYS[1] = usage hash key
// ARGV[1] = provider field
// ARGV[2] = cost
var rollbackScript = goredis.NewScript(`
local key = KEYS[1]
local provider = ARGV[1]
local cost = tonumber(ARGV[2])

local used = tonumber(redis.call("HGET", key, provider) or "0")
used = used - cost
if used < 0 then
    used = 0
end
redis.call("HSET", key, provider, used)
return used
`)

// Check reports whether provider could absorb cost more units within
// limit. Backend errors deny the check so a flaky Redis cannot let
// usage run past the limit.
func (s *Store) Check(ctx context.Context, provider string, limit, cost int64) bool {
	if limit <= 0 {
		return true
	}
	used, err := s.usage(ctx, provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota check failed")
		return false
	}
	return used+cost <= limit
}

// TryReserve atomically adds cost to the provider's usage if the
// result stays within limit.
func (s *Store) TryReserve(ctx context.Context, provider string, cost, limit int64) bool {
	result, err := reserveScript.Run(ctx, s.client, []string{s.key}, provider, cost, limit).Int64()
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota reserve failed")
		return false
	}
	return result == 1
}

// Rollback subtracts cost from the provider's usage, clamped at zero.
func (s *Store) Rollback(ctx context.Context, provider string, cost int64) {
	if err := rollbackScript.Run(ctx, s.client, []string{s.key}, provider, cost).Err(); err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota rollback failed")
	}
}

// Usage returns the provider's current usage counter.
func (s *Store) Usage(ctx context.Context, provider string) int64 {
	used, err := s.usage(ctx, provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota usage read failed")
		return 0
	}
	return used
}

// Reset clears the provider's usage counter.
func (s *Store) Reset(ctx context.Context, provider string) {
	if err := s.client.HDel(ctx, s.key, provider).Err(); err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota reset failed")
	}
}

func (s *Store) usage(ctx context.Context, provider string) (int64, error) {
	used, err := s.client.HGet(ctx, s.key, provider).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return used, nil
}
