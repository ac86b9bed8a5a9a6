// Package lock provides per-key mutual exclusion for ingestion runs, in-process or through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
)

// ErrLocked is returned by Acquire when the key is already held.
var ErrLocked = errors.New("lock already held")

// Locker hands out exclusive, non-blocking locks by key.
type Locker interface {
	// Acquire takes the lock for key or returns ErrLocked. The returned func releases it and is
	// safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
	Close() error
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Close implements Locker.
func (l *MemoryLocker) Close() error { return nil }

// NewFromConfig returns the locker selected by cfg.Backend.
func NewFromConfig(cfg config.LockConfig) (Locker, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLocker(RedisOptions{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown lock backend: %s", cfg.Backend)
	}
}
