package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
)

const (
	defaultLockKey = "cron:cycle"
	defaultLockTTL = 30 * time.Minute
)

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockerLock adapts a lock.Locker (Redis in production, in-process otherwise) to Lock.
type LockerLock struct {
	locker lock.Locker
	key    string
	ttl    time.Duration

	mu      sync.Mutex
	release lock.ReleaseFunc
}

// NewLockerLock constructs a cycle lock on the provided locker.
func NewLockerLock(locker lock.Locker, key string, ttl time.Duration) (*LockerLock, error) {
	if locker == nil {
		return nil, errors.New("locker required for cron lock")
	}
	if key == "" {
		key = defaultLockKey
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &LockerLock{locker: locker, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL without waiting.
func (l *LockerLock) Acquire(ctx context.Context) (bool, error) {
	release, err := l.locker.Obtain(ctx, l.key, l.ttl)
	if errors.Is(err, lock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain cron lock: %w", err)
	}
	l.mu.Lock()
	l.release = release
	l.mu.Unlock()
	return true, nil
}

// Release frees the lock if this instance holds it.
func (l *LockerLock) Release(ctx context.Context) error {
	l.mu.Lock()
	release := l.release
	l.release = nil
	l.mu.Unlock()
	if release == nil {
		return nil
	}
	return release(ctx)
}
