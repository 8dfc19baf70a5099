// Package redis implements a distributed per-key lock on Redis so that
// assessments for one (seed lot, destination) pair are serialized across
// replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can keep a key.
	DefaultTTL = 30 * time.Second
	// DefaultRetry is the polling interval while a key is held elsewhere.
	DefaultRetry = 50 * time.Millisecond
	keyPrefix    = "seedlot:lock:"
)

// releaseScript deletes the key only when it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tunes the locker.
type Options struct {
	TTL   time.Duration
	Retry time.Duration
}

// Locker acquires keys with SET NX PX and releases them with a token check.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retry <= 0 {
		opts.Retry = DefaultRetry
	}
	return &Locker{client: client, ttl: opts.TTL, retry: opts.Retry}
}

// Dial connects to addr, which is either host:port or a redis:// URL, and
// verifies the connection.
func Dial(ctx context.Context, addr string, opts Options) (*Locker, error) {
	var ropts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ropts.Addr, err)
	}
	return New(client, opts), nil
}

// Lock polls until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return func() {
		// The caller's context may already be cancelled; release regardless.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err()
	}, nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	if err := l.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
