package directory

import (
	"log"
	"sync"
	"time"
)

// Reloader serves the current directory snapshot and swaps in a fresh one on
// demand. Lookups during a reload see either the old or the new snapshot,
// never a partial one.
type Reloader struct {
	path   string
	logger *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	current  *Directory
	loadedAt time.Time
}

// ReloaderOption customizes a Reloader.
type ReloaderOption func(*Reloader)

// WithReloaderLogger overrides the logger.
func WithReloaderLogger(logger *log.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReloaderClock overrides the wall clock, primarily for tests.
func WithReloaderClock(now func() time.Time) ReloaderOption {
	return func(r *Reloader) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReloader loads the initial snapshot from path.
func NewReloader(path string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{
		path:   path,
		logger: log.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the file and swaps the snapshot. On failure the previous
// snapshot stays in service.
func (r *Reloader) Reload() error {
	dir, err := Load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = dir
	r.loadedAt = r.now()
	r.mu.Unlock()
	r.logger.Printf("directory: loaded %d aliases from %s", dir.Len(), r.path)
	return nil
}

// Lookup resolves a username against the current snapshot.
func (r *Reloader) Lookup(username string) (string, bool) {
	r.mu.RLock()
	dir := r.current
	r.mu.RUnlock()
	return dir.Lookup(username)
}

// Len returns the alias count of the current snapshot.
func (r *Reloader) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Len()
}

// Age returns how long ago the current snapshot was loaded.
func (r *Reloader) Age() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now().Sub(r.loadedAt)
}
