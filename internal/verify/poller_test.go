package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/mailbox"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pollStep struct {
	env *mailbox.Envelope
	err error
}

// scriptFetcher replays a fixed sequence of round results and records every
// query it receives. Exhausted scripts report an empty mailbox.
type scriptFetcher struct {
	steps   []pollStep
	queries []mailbox.Query
}

func (f *scriptFetcher) Name() string { return "script" }

func (f *scriptFetcher) Newest(_ context.Context, _ credstore.Bundle, query mailbox.Query) (*mailbox.Envelope, error) {
	f.queries = append(f.queries, query)
	if len(f.steps) == 0 {
		return nil, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.env, step.err
}

func textEnvelope(body string, at time.Time) *mailbox.Envelope {
	return &mailbox.Envelope{
		ID:           "msg",
		InternalDate: at,
		Parts:        []mailbox.Part{{MIMEType: "text/plain", Data: []byte(body)}},
	}
}

type pollHarness struct {
	poller  *Poller
	fetcher *scriptFetcher
	clock   *fakeClock
	store   *credstore.FileStore
}

func newPollHarness(t *testing.T, steps []pollStep) *pollHarness {
	t.Helper()

	store, err := credstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put("inbox@example.com", credstore.Bundle{AccessToken: "tok"}))

	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	fetcher := &scriptFetcher{steps: steps}
	factory := mailbox.NewFactory(mailbox.WithFetcher(fetcher, "script"))

	poller := NewPoller(store, factory,
		WithSearchTerm("verification"),
		WithClock(clock.Now),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			clock.Advance(d)
			return ctx.Err()
		}),
	)
	return &pollHarness{poller: poller, fetcher: fetcher, clock: clock, store: store}
}

func pollRequest() Request {
	return Request{
		Username:    "alice",
		AccountID:   "inbox@example.com",
		AccountType: "script",
		Deadline:    10 * time.Second,
		Interval:    2 * time.Second,
	}
}

func TestPollFindsCode(t *testing.T) {
	h := newPollHarness(t, nil)
	start := h.clock.Now()
	h.fetcher.steps = []pollStep{
		{},
		{env: textEnvelope("alice,\nAB12C\n", start.Add(time.Second))},
	}

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusFound, outcome.Status)
	require.Equal(t, "AB12C", outcome.Code)

	require.Len(t, h.fetcher.queries, 2)
	require.Equal(t, "verification", h.fetcher.queries[0].Search)
	require.Equal(t, 1, h.fetcher.queries[0].MaxResults)
}

func TestPollTimesOutNeverEarly(t *testing.T) {
	h := newPollHarness(t, nil)

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, outcome.Status)

	// Deadline 10s, interval 2s: rounds at +0, +2, +4, +6, +8.
	require.Len(t, h.fetcher.queries, 5)
	for i := 1; i < len(h.fetcher.queries); i++ {
		prev, cur := h.fetcher.queries[i-1].Since, h.fetcher.queries[i].Since
		require.False(t, cur.Before(prev), "watermark went backwards at round %d", i)
	}
}

func TestPollStaleMessageKeepsPolling(t *testing.T) {
	h := newPollHarness(t, nil)
	stale := h.clock.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		h.fetcher.steps = append(h.fetcher.steps, pollStep{env: textEnvelope("alice,\nAB12C\n", stale)})
	}

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, outcome.Status)
	require.Len(t, h.fetcher.queries, 5)
}

func TestPollWrongRecipientKeepsPolling(t *testing.T) {
	h := newPollHarness(t, nil)
	start := h.clock.Now()
	h.fetcher.steps = []pollStep{
		{env: textEnvelope("bob,\nhello\n", start.Add(time.Second))},
		{env: textEnvelope("alice,\nAB12C\n", start.Add(3 * time.Second))},
	}

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusFound, outcome.Status)
	require.Equal(t, "AB12C", outcome.Code)
	require.Len(t, h.fetcher.queries, 2)
}

func TestPollExtractionFailed(t *testing.T) {
	h := newPollHarness(t, nil)
	h.fetcher.steps = []pollStep{
		{env: textEnvelope("alice,\nno code in here\n", h.clock.Now().Add(time.Second))},
	}

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusExtractionFailed, outcome.Status)
	require.Empty(t, outcome.Code)
}

func TestPollTransportErrorTerminates(t *testing.T) {
	cause := errors.New("connection reset")
	h := newPollHarness(t, []pollStep{{err: cause}})

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusTransportError, outcome.Status)
	require.ErrorIs(t, outcome.Err, cause)
	require.Len(t, h.fetcher.queries, 1)
}

func TestPollMissingCredentials(t *testing.T) {
	h := newPollHarness(t, nil)
	req := pollRequest()
	req.AccountID = "unknown@example.com"

	_, err := h.poller.Poll(context.Background(), req)
	require.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestPollExpiredCredentials(t *testing.T) {
	h := newPollHarness(t, nil)
	require.NoError(t, h.store.Put("inbox@example.com", credstore.Bundle{
		AccessToken: "tok",
		ExpiresAt:   h.clock.Now().Add(-time.Hour),
	}))

	_, err := h.poller.Poll(context.Background(), pollRequest())
	require.ErrorIs(t, err, credstore.ErrExpired)
}

func TestPollValidation(t *testing.T) {
	h := newPollHarness(t, nil)

	req := pollRequest()
	req.Username = "   "
	_, err := h.poller.Poll(context.Background(), req)
	require.Error(t, err)

	req = pollRequest()
	req.Deadline = 0
	_, err = h.poller.Poll(context.Background(), req)
	require.Error(t, err)

	req = pollRequest()
	req.Interval = req.Deadline
	_, err = h.poller.Poll(context.Background(), req)
	require.Error(t, err)
}

func TestPollUnknownAccountType(t *testing.T) {
	h := newPollHarness(t, nil)
	req := pollRequest()
	req.AccountType = "carrier-pigeon"

	_, err := h.poller.Poll(context.Background(), req)
	require.Error(t, err)
}

func TestPollCancelledDuringSleep(t *testing.T) {
	h := newPollHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	h.poller.sleep = func(sleepCtx context.Context, d time.Duration) error {
		h.clock.Advance(d)
		cancel()
		return sleepCtx.Err()
	}

	_, err := h.poller.Poll(ctx, pollRequest())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.fetcher.queries, 1)
}

func TestPollWatermarkMonotonicAcrossMixedRounds(t *testing.T) {
	h := newPollHarness(t, nil)
	stale := h.clock.Now().Add(-time.Second)
	h.fetcher.steps = []pollStep{
		{},
		{env: textEnvelope("alice,\nAB12C\n", stale)},
		{},
	}

	outcome, err := h.poller.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, outcome.Status)

	for i := 1; i < len(h.fetcher.queries); i++ {
		prev, cur := h.fetcher.queries[i-1].Since, h.fetcher.queries[i].Since
		require.False(t, cur.Before(prev), "watermark went backwards at round %d", i)
	}
}
