package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/mailbox"
)

// Metrics receives polling telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	PollRound(accountType string)
	PollOutcome(accountType, status string)
}

type noopMetrics struct{}

func (noopMetrics) PollRound(string)           {}
func (noopMetrics) PollOutcome(string, string) {}

// Request describes one polling session.
type Request struct {
	Username    string
	AccountID   string
	AccountType string
	Deadline    time.Duration
	Interval    time.Duration
}

// Poller runs the watermark-based polling loop. Each round inspects the
// single newest message matching the search term; a round that inspects a
// stale, absent or wrong-recipient message advances the watermark to that
// round's start time and sleeps. Only the newest message is inspected per
// round, so a qualifying message can be shadowed by a newer irrelevant one
// arriving in the same interval; the deadline bounds how long that can
// matter.
type Poller struct {
	store      credstore.Store
	factory    mailbox.Factory
	extractor  Extractor
	search     string
	maxResults int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *log.Logger
	metrics    Metrics
}

// Option customizes a Poller.
type Option func(*Poller)

// WithExtractor overrides the default code extractor.
func WithExtractor(extractor Extractor) Option {
	return func(p *Poller) {
		p.extractor = extractor
	}
}

// WithSearchTerm sets the broad relevance term passed to the mailbox query.
func WithSearchTerm(term string) Option {
	return func(p *Poller) {
		p.search = term
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper overrides the inter-round sleep, primarily for tests. The
// sleeper must return early with the context error when ctx is cancelled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithLogger overrides the logger used for per-round diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches a telemetry sink.
func WithMetrics(metrics Metrics) Option {
	return func(p *Poller) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// NewPoller builds a poller over the given credential store and connector
// factory.
func NewPoller(store credstore.Store, factory mailbox.Factory, opts ...Option) *Poller {
	p := &Poller{
		store:      store,
		factory:    factory,
		extractor:  NewExtractor(DefaultMinCodeLen, DefaultMaxCodeLen),
		maxResults: 1,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
		logger:     log.Default(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll resolves whether a qualifying new message arrives for req.Username
// within req.Deadline. Qualifying means newer than the session watermark and
// addressed to the username. The watermark starts at the session start and
// advances to each round's start time once that round's result is known, so
// it never moves backwards and an already-inspected message is never
// reconsidered.
//
// Credential problems (missing or expired bundle) and invalid arguments are
// returned as errors; everything that happens inside the loop resolves to an
// Outcome.
func (p *Poller) Poll(ctx context.Context, req Request) (Outcome, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return Outcome{}, errors.New("verify: username required")
	}
	if req.Deadline <= 0 || req.Interval <= 0 {
		return Outcome{}, errors.New("verify: deadline and interval must be positive")
	}
	if req.Interval >= req.Deadline {
		return Outcome{}, errors.New("verify: interval must be shorter than deadline")
	}

	bundle, err := p.store.Get(req.AccountID)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify: credentials for %q: %w", req.AccountID, err)
	}
	if !bundle.Usable(p.now()) {
		return Outcome{}, fmt.Errorf("verify: credentials for %q: %w", req.AccountID, credstore.ErrExpired)
	}

	fetcher, err := p.factory.FetcherFor(req.AccountType)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify: %w", err)
	}

	start := p.now()
	deadline := start.Add(req.Deadline)
	watermark := start

	for p.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		roundStart := p.now()
		p.metrics.PollRound(req.AccountType)

		env, err := fetcher.Newest(ctx, bundle, mailbox.Query{
			AccountID:  req.AccountID,
			Search:     p.search,
			MaxResults: p.maxResults,
			Since:      watermark,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			p.logger.Printf("verify: mailbox query for %s failed: %v", req.AccountID, err)
			return p.resolve(req, Outcome{Status: StatusTransportError, Err: err}), nil
		}

		if env == nil || !env.InternalDate.After(watermark) {
			watermark = laterOf(watermark, roundStart)
			if err := p.sleep(ctx, req.Interval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		body := mailbox.DecodeBody(env)
		if !AddressedTo(body, username) {
			// Could belong to another session sharing this mailbox.
			watermark = laterOf(watermark, roundStart)
			if err := p.sleep(ctx, req.Interval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		if code, ok := p.extractor.Extract(body); ok {
			return p.resolve(req, Outcome{Status: StatusFound, Code: code}), nil
		}
		return p.resolve(req, Outcome{Status: StatusExtractionFailed}), nil
	}

	return p.resolve(req, Outcome{Status: StatusTimedOut}), nil
}

func (p *Poller) resolve(req Request, outcome Outcome) Outcome {
	p.metrics.PollOutcome(req.AccountType, outcome.Status.String())
	return outcome
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// sleepContext waits d or until ctx is cancelled, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
