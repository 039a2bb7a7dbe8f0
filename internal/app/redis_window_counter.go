package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var windowCounterScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisWindowCounter implements WindowCounter on Redis so the limit holds
// across service replicas. The INCR and PEXPIRE run in one Lua script to
// keep the increment-and-arm-TTL step atomic.
type RedisWindowCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisWindowCounter creates a counter under the given key prefix.
func NewRedisWindowCounter(client redis.UniversalClient, prefix string) *RedisWindowCounter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "coinatlas:affiliate"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisWindowCounter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// ConsumeWindow increments the counter for key, arming a TTL equal to the
// window on the first hit of each window.
func (c *RedisWindowCounter) ConsumeWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	fullKey := fmt.Sprintf("%s:rate_limit:%s", c.prefix, key)
	rawResult, err := windowCounterScript.Run(ctx, c.client, []string{fullKey}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis counter response shape: %T", rawResult)
	}

	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis counter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return count, 0, fmt.Errorf("unexpected redis counter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	return count, time.Duration(ttlMs) * time.Millisecond, nil
}
