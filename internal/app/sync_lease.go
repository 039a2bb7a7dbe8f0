/**
 * @description
 * Single-flight guard for sync runs. Two runs for the same partner program
 * must never overlap, and the external scheduler's cadence is not a
 * guarantee, so the orchestrator takes a short-lived Redis lease before
 * doing any work. The lease TTL equals the maximum run duration so a
 * crashed run frees itself.
 *
 * @dependencies
 * - context, fmt, strings, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: The Redis client library.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Release only deletes the key when the holder token still matches, so a
// slow run that outlived its TTL cannot release a successor's lease.
var leaseReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLease is the single-flight guard consumed by the orchestrator.
type RunLease interface {
	Acquire(ctx context.Context, program, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, program, token string) error
}

// RedisRunLease implements RunLease with SET NX PX.
type RedisRunLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRunLease creates a lease manager under the given key prefix.
func NewRedisRunLease(client redis.UniversalClient, prefix string) *RedisRunLease {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "coinatlas:affiliate"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRunLease{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (l *RedisRunLease) key(program string) string {
	return fmt.Sprintf("%s:sync_lease:%s", l.prefix, program)
}

// Acquire takes the lease for a program. It returns false when another run
// already holds it.
func (l *RedisRunLease) Acquire(ctx context.Context, program, token string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key(program), token, ttl).Result()
}

// Release frees the lease if this run still holds it.
func (l *RedisRunLease) Release(ctx context.Context, program, token string) error {
	return leaseReleaseScript.Run(ctx, l.client, []string{l.key(program)}, token).Err()
}
