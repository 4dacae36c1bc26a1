package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
)

var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisStore keeps windows in Redis so limits hold across restarts. On any
// Redis failure it degrades to the in-memory fallback rather than admitting
// unlimited traffic.
type RedisStore struct {
	Client   *redis.Client
	Prefix   string
	Fallback *InMemoryStore
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{
		Client:   client,
		Prefix:   "rl:",
		Fallback: NewInMemory(),
	}
}

func (s *RedisStore) Allow(tier policy.Tier, key string) Decision {
	limit := tier.Limit
	if limit <= 0 {
		limit = 1
	}
	window := tier.Window
	if window <= 0 {
		window = time.Minute
	}
	if s.Client == nil {
		return s.fallback(tier, key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	redisKey := s.Prefix + tier.Name + ":" + key
	res, err := windowScript.Run(ctx, s.Client, []string{redisKey}, window.Milliseconds()).Result()
	if err != nil {
		return s.fallback(tier, key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return s.fallback(tier, key)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	allowed := int(count) <= limit
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     int(count),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().UTC().Add(time.Duration(ttlMs) * time.Millisecond),
	}
}

func (s *RedisStore) fallback(tier policy.Tier, key string) Decision {
	if s.Fallback != nil {
		return s.Fallback.Allow(tier, key)
	}
	return Decision{Allowed: true, Limit: tier.Limit, Remaining: tier.Limit, ResetAt: time.Now().UTC().Add(tier.Window)}
}
