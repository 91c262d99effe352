package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

const (
	defaultRetryInterval = 50 * time.Millisecond
	defaultTTL           = 30 * time.Second
)

// ErrNotObtained is returned when the key stays held for the whole wait window.
var ErrNotObtained = errors.New("lock not obtained")

// ReleaseFunc frees a previously obtained lock. Calling it twice is harmless.
type ReleaseFunc func(ctx context.Context) error

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

type keyer interface {
	LockKey(parts ...string) string
}

// Options tunes how long Obtain keeps retrying a held key.
type Options struct {
	Wait          time.Duration
	RetryInterval time.Duration
}

func (o Options) retryInterval() time.Duration {
	if o.RetryInterval <= 0 {
		return defaultRetryInterval
	}
	return o.RetryInterval
}

func (o Options) attempts() int {
	if o.Wait <= 0 {
		return 0
	}
	return int(o.Wait / o.retryInterval())
}

// RedisLocker obtains locks through bsm/redislock so every API and worker replica agrees.
type RedisLocker struct {
	client *redislock.Client
	keys   keyer
	opts   Options
}

// NewRedisLocker wraps a redislock client. keys namespaces the raw key; it may be nil.
func NewRedisLocker(client *redislock.Client, keys keyer, opts Options) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redislock client required")
	}
	return &RedisLocker{client: client, keys: keys, opts: opts}, nil
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if l.keys != nil {
		key = l.keys.LockKey(key)
	}

	strategy := redislock.NoRetry()
	if n := l.opts.attempts(); n > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(l.opts.retryInterval()), n)
	}

	held, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			releaseErr = held.Release(ctx)
			if errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				releaseErr = nil
			}
		})
		return releaseErr
	}, nil
}

// LocalLocker is the in-process fallback used when Redis is not configured.
// TTLs are ignored; holders must release.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	opts  Options
}

func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{}), opts: opts}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, _ time.Duration) (ReleaseFunc, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	ch := l.slot(key)

	acquired := false
	select {
	case ch <- struct{}{}:
		acquired = true
	default:
	}

	if !acquired && l.opts.Wait > 0 {
		timer := time.NewTimer(l.opts.Wait)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
			acquired = true
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !acquired {
		return nil, ErrNotObtained
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
