package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// holdScript extends the lease when holder owns it, or takes it when nobody does.
var holdScript = goredis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return 1
	end
	if current == false then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	return 0
`)

// releaseScript deletes the lease only if holder still owns it.
var releaseScript = goredis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lease is a named lock with a TTL that one instance holds at a time. The holder
// keeps it by calling Hold more often than the TTL; if it stops, another instance
// takes over once the TTL runs out.
type Lease struct {
	rdb    *goredis.Client
	key    string
	holder string
	ttl    time.Duration
}

// NewLease creates a lease. holder must be unique per instance (e.g. hostname-PID).
func NewLease(rdb *goredis.Client, name, holder string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, key: leaseKey(name), holder: holder, ttl: ttl}
}

// Hold acquires the lease or extends it. False means another instance holds it.
func (l *Lease) Hold(ctx context.Context) (bool, error) {
	n, err := holdScript.Run(ctx, l.rdb, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to hold lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release gives the lease up so another instance need not wait for the TTL.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

func leaseKey(name string) string {
	return "lease:" + name
}
