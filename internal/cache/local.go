package cache

import (
	"context"
	"sync"
	"time"
)

type localItem struct {
	value     string
	expiresAt time.Time
}

// Local is an in-memory TTL cache safe for concurrent use.
type Local struct {
	mu         sync.RWMutex
	items      map[string]localItem
	defaultTTL time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// LocalOption customizes the local cache.
type LocalOption func(*Local)

// WithLocalClock overrides the wall clock, primarily for tests.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLocal builds an in-memory cache. A background sweep drops expired
// entries every defaultTTL so idle keys do not accumulate.
func NewLocal(defaultTTL time.Duration, opts ...LocalOption) *Local {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	l := &Local{
		items:      make(map[string]localItem),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// Get returns the live value for key, if any.
func (l *Local) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.RLock()
	item, ok := l.items[key]
	l.mu.RUnlock()
	if !ok || l.now().After(item.expiresAt) {
		return "", false, nil
	}
	return item.value, true, nil
}

// Set stores value under key for ttl (default TTL when ttl <= 0).
func (l *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	l.mu.Lock()
	l.items[key] = localItem{value: value, expiresAt: l.now().Add(ttl)}
	l.mu.Unlock()
	return nil
}

// Close stops the background sweep.
func (l *Local) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Local) sweepLoop() {
	ticker := time.NewTicker(l.defaultTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Local) sweep() {
	now := l.now()
	l.mu.Lock()
	for key, item := range l.items {
		if now.After(item.expiresAt) {
			delete(l.items, key)
		}
	}
	l.mu.Unlock()
}
