// Package credstore owns the persisted credential bundles for every external
// account the bot talks to: the Salla platform token and one mailbox token per
// verification inbox. Bundles live as one JSON document per account under a
// configured directory; writes replace the file atomically so a concurrent
// reader never observes a half-written bundle.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no bundle exists for an account.
	ErrNotFound = errors.New("credstore: bundle not found")
	// ErrExpired is returned when a bundle exists but must not be used.
	ErrExpired = errors.New("credstore: bundle expired")
)

// Bundle is an access/refresh token pair authorizing calls on behalf of one
// external account.
type Bundle struct {
	AccountID    string    `json:"account_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the bundle's expiry has passed. A zero expiry means
// the issuer did not communicate one and the bundle is treated as live.
func (b Bundle) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}

// Usable reports whether the bundle may back a network call.
func (b Bundle) Usable(now time.Time) bool {
	return b.AccessToken != "" && !b.Expired(now)
}

// Store persists credential bundles keyed by account identifier.
type Store interface {
	Get(accountID string) (Bundle, error)
	Put(accountID string, bundle Bundle) error
	List() ([]string, error)
}

// FileStore keeps one JSON file per account plus an in-memory copy. Writes for
// different accounts never contend on the filesystem; for the same account the
// last write wins.
type FileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]Bundle
}

// NewFileStore opens (creating if needed) the bundle directory.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("credstore: directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, cache: make(map[string]Bundle)}, nil
}

// Get returns the bundle for accountID or ErrNotFound.
func (s *FileStore) Get(accountID string) (Bundle, error) {
	s.mu.RLock()
	cached, ok := s.cache[accountID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := os.ReadFile(s.path(accountID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bundle{}, fmt.Errorf("%w: %s", ErrNotFound, accountID)
		}
		return Bundle{}, fmt.Errorf("credstore: read %s: %w", accountID, err)
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("credstore: decode %s: %w", accountID, err)
	}

	s.mu.Lock()
	s.cache[accountID] = bundle
	s.mu.Unlock()
	return bundle, nil
}

// GetUsable returns the bundle only if it may back a network call right now.
// Missing bundles map to ErrNotFound, present-but-dead ones to ErrExpired.
func (s *FileStore) GetUsable(accountID string, now time.Time) (Bundle, error) {
	bundle, err := s.Get(accountID)
	if err != nil {
		return Bundle{}, err
	}
	if !bundle.Usable(now) {
		return Bundle{}, fmt.Errorf("%w: %s", ErrExpired, accountID)
	}
	return bundle, nil
}

// Put atomically replaces the stored bundle for accountID.
func (s *FileStore) Put(accountID string, bundle Bundle) error {
	if strings.TrimSpace(accountID) == "" {
		return errors.New("credstore: account id required")
	}
	bundle.AccountID = accountID

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encode %s: %w", accountID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "bundle-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("credstore: write %s: %w", accountID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: close %s: %w", accountID, err)
	}
	if err := os.Rename(tmpName, s.path(accountID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: replace %s: %w", accountID, err)
	}

	s.cache[accountID] = bundle
	return nil
}

// List returns the account ids with a cached or persisted bundle.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("credstore: list: %w", err)
	}

	seen := make(map[string]struct{})
	s.mu.RLock()
	for id := range s.cache {
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var bundle Bundle
		if err := json.Unmarshal(raw, &bundle); err != nil || bundle.AccountID == "" {
			continue
		}
		seen[bundle.AccountID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) path(accountID string) string {
	return filepath.Join(s.dir, sanitizeID(accountID)+".json")
}

// sanitizeID keeps account ids filesystem-safe. Mailbox ids are email
// addresses, so @ and dots stay readable.
func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
