// Package lock elects a single scheduler instance per deployment.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker guards the scheduler tick. Acquire both takes and renews the lock, so a holder calls
// it before every tick.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Local always grants the lock. It is used when no Redis is configured.
type Local struct{}

// Acquire implements Locker.
func (Local) Acquire(context.Context) (bool, error) { return true, nil }

// Release implements Locker.
func (Local) Release(context.Context) error { return nil }

var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a lease held in one key with an owner token. The lease expires after ttl unless
// renewed, so a crashed holder is replaced within one ttl.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string

	mu   sync.Mutex
	held bool
}

// NewRedis returns a lock on key. Each instance uses a fresh owner token.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// Token identifies this holder.
func (l *Redis) Token() string {
	return l.token
}

// Acquire renews the lease when this instance holds it, otherwise tries to take it.
func (l *Redis) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
		if err != nil {
			return false, fmt.Errorf("extend lock %s: %w", l.key, err)
		}
		if n == 1 {
			return true, nil
		}
		l.held = false
	}

	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	l.held = ok
	return ok, nil
}

// Release drops the lease if this instance still owns it.
func (l *Redis) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
