// Package mailbox abstracts the verification inbox behind a connector
// interface with Gmail REST, IMAP and POP3 implementations. Connectors are
// strictly read-only: they never flag, mark or delete messages, so a polling
// session can be re-run without side effects on the mailbox.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

// Query describes one poll round against an inbox. Since is the session
// watermark; connectors use it to narrow the server-side search where the
// protocol allows, but the authoritative staleness check against
// Envelope.InternalDate stays with the caller.
type Query struct {
	AccountID  string
	Search     string
	MaxResults int
	Since      time.Time
}

// Part is one raw content block of a message body. Data may still carry its
// transfer encoding; Base64 marks blocks the provider returns base64-encoded.
type Part struct {
	MIMEType string
	Charset  string
	Base64   bool
	Data     []byte
}

// Envelope is an immutable snapshot of one fetched message.
type Envelope struct {
	ID           string
	InternalDate time.Time
	Subject      string
	Parts        []Part
}

// Fetcher returns the single newest message matching a query, or nil when
// nothing matches. Implementations exist per provider protocol.
type Fetcher interface {
	Name() string
	Newest(ctx context.Context, bundle credstore.Bundle, query Query) (*Envelope, error)
}

// Factory resolves the fetcher implementation for a mailbox account type.
type Factory interface {
	FetcherFor(accountType string) (Fetcher, error)
}

// FactoryOption customizes a connector factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewFactory builds a connector factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// WithFetcher registers a fetcher for the provided account types.
func WithFetcher(fetcher Fetcher, accountTypes ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || fetcher == nil {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, t := range accountTypes {
			key := normalizeType(t)
			if key == "" {
				continue
			}
			f.fetchers[key] = fetcher
		}
	}
}

func (f *simpleFactory) FetcherFor(accountType string) (Fetcher, error) {
	key := normalizeType(accountType)
	f.mu.RLock()
	fetcher, ok := f.fetchers[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mailbox: no connector registered for account type %q", accountType)
	}
	return fetcher, nil
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
