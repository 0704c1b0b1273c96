// Package bot drives the Telegram conversation: an explicit per-chat state
// machine walking the user from order id, through username, to a delivered
// verification code.
package bot

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/metrics"
	"github.com/salahWD/salla-verify-bot/internal/replies"
	"github.com/salahWD/salla-verify-bot/internal/salla"
	"github.com/salahWD/salla-verify-bot/internal/verify"
)

// State is a chat session's position in the verification conversation.
type State int

const (
	// StateIdle means no verification is in progress.
	StateIdle State = iota
	// StateAwaitingOrderID means /code was issued and the order id is expected.
	StateAwaitingOrderID
	// StateAwaitingUsername means the order was accepted and the username is
	// expected.
	StateAwaitingUsername
	// StatePolling means a mailbox poll is running for this chat.
	StatePolling
)

type session struct {
	state    State
	orderID  string
	username string
	cancel   context.CancelFunc
}

type orderChecker interface {
	GetOrderStatus(ctx context.Context, orderID string) (salla.Status, error)
	Completed(status salla.Status) bool
}

type usernameLookup interface {
	Lookup(username string) (string, bool)
}

type codePoller interface {
	Poll(ctx context.Context, req verify.Request) (verify.Outcome, error)
}

// Manager owns all chat sessions and reacts to incoming updates.
type Manager struct {
	sender      Sender
	catalog     *replies.Catalog
	orders      orderChecker
	lookup      usernameLookup
	poller      codePoller
	metrics     *metrics.Metrics
	logger      *log.Logger
	accountType string
	deadline    time.Duration
	interval    time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
	wg       sync.WaitGroup
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger overrides the logger.
func WithManagerLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics attaches session telemetry.
func WithManagerMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithAccountType sets the mailbox connector type used for polls.
func WithAccountType(accountType string) ManagerOption {
	return func(m *Manager) {
		if accountType != "" {
			m.accountType = accountType
		}
	}
}

// WithPollWindow sets the poll deadline and interval.
func WithPollWindow(deadline, interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if deadline > 0 {
			m.deadline = deadline
		}
		if interval > 0 {
			m.interval = interval
		}
	}
}

// NewManager builds the session manager.
func NewManager(sender Sender, catalog *replies.Catalog, orders orderChecker, lookup usernameLookup, poller codePoller, opts ...ManagerOption) *Manager {
	m := &Manager{
		sender:      sender,
		catalog:     catalog,
		orders:      orders,
		lookup:      lookup,
		poller:      poller,
		logger:      log.Default(),
		accountType: "gmail",
		deadline:    2 * time.Minute,
		interval:    5 * time.Second,
		sessions:    make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleMessage advances the chat's session with one incoming text message.
func (m *Manager) HandleMessage(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)

	switch {
	case text == "/start":
		m.resetSession(chatID)
		m.reply(chatID, "intro", nil)
	case text == "/code":
		if m.resetSession(chatID) {
			m.reply(chatID, "session_cancelled", nil)
		}
		m.setState(chatID, StateAwaitingOrderID)
		m.reply(chatID, "ask_order_id", nil)
	default:
		m.advance(ctx, chatID, text)
	}
}

// Close cancels all in-flight polls and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, sess := range m.sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) advance(ctx context.Context, chatID int64, text string) {
	m.mu.Lock()
	sess, ok := m.sessions[chatID]
	if !ok {
		sess = &session{}
		m.sessions[chatID] = sess
	}
	state := sess.state
	m.mu.Unlock()

	switch state {
	case StateAwaitingOrderID:
		m.handleOrderID(ctx, chatID, text)
	case StateAwaitingUsername:
		m.handleUsername(ctx, chatID, text)
	case StatePolling:
		m.reply(chatID, "polling_started", map[string]interface{}{"username": m.sessionUsername(chatID)})
	default:
		m.reply(chatID, "unknown_input", nil)
	}
}

func (m *Manager) handleOrderID(ctx context.Context, chatID int64, orderID string) {
	m.reply(chatID, "order_received", map[string]interface{}{"order_id": orderID})

	status, err := m.orders.GetOrderStatus(ctx, orderID)
	switch {
	case err == nil && m.orders.Completed(status):
		if m.metrics != nil {
			m.metrics.OrderLookup("completed")
		}
		m.mu.Lock()
		if sess := m.sessions[chatID]; sess != nil {
			sess.orderID = orderID
			sess.state = StateAwaitingUsername
		}
		m.mu.Unlock()
		m.reply(chatID, "order_completed", map[string]interface{}{"order_id": orderID})
	case err == nil:
		if m.metrics != nil {
			m.metrics.OrderLookup("not_completed")
		}
		m.endSession(chatID)
		m.reply(chatID, "order_rejected", map[string]interface{}{"order_id": orderID})
	case errors.Is(err, credstore.ErrNotFound), errors.Is(err, credstore.ErrExpired):
		if m.metrics != nil {
			m.metrics.OrderLookup("credential_error")
		}
		m.logger.Printf("bot: order %s check blocked: %v", orderID, err)
		m.endSession(chatID)
		m.reply(chatID, "credential_problem", nil)
	case errors.Is(err, salla.ErrOrderNotFound), errors.Is(err, salla.ErrUnauthorized):
		if m.metrics != nil {
			m.metrics.OrderLookup("rejected")
		}
		m.endSession(chatID)
		m.reply(chatID, "order_rejected", map[string]interface{}{"order_id": orderID})
	default:
		if m.metrics != nil {
			m.metrics.OrderLookup("transport_error")
		}
		m.logger.Printf("bot: order %s check failed: %v", orderID, err)
		m.endSession(chatID)
		m.reply(chatID, "transport_failure", nil)
	}
}

func (m *Manager) handleUsername(ctx context.Context, chatID int64, username string) {
	accountID, ok := m.lookup.Lookup(username)
	if !ok {
		m.endSession(chatID)
		m.reply(chatID, "username_unknown", map[string]interface{}{"username": username})
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	sess := m.sessions[chatID]
	if sess == nil {
		m.mu.Unlock()
		cancel()
		return
	}
	sess.state = StatePolling
	sess.username = username
	sess.cancel = cancel
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionOpened()
	}
	m.reply(chatID, "polling_started", map[string]interface{}{"username": username})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runPoll(pollCtx, chatID, sess, username, accountID)
	}()
}

func (m *Manager) runPoll(ctx context.Context, chatID int64, sess *session, username, accountID string) {
	defer func() {
		if m.metrics != nil {
			m.metrics.SessionClosed()
		}
		m.endSessionIf(chatID, sess)
	}()

	outcome, err := m.poller.Poll(ctx, verify.Request{
		Username:    username,
		AccountID:   accountID,
		AccountType: m.accountType,
		Deadline:    m.deadline,
		Interval:    m.interval,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, credstore.ErrNotFound) || errors.Is(err, credstore.ErrExpired) {
			m.reply(chatID, "credential_problem", nil)
			return
		}
		m.logger.Printf("bot: poll for %s failed: %v", username, err)
		m.reply(chatID, "transport_failure", nil)
		return
	}

	switch outcome.Status {
	case verify.StatusFound:
		m.reply(chatID, "code_found", map[string]interface{}{"code": outcome.Code})
	case verify.StatusExtractionFailed:
		m.reply(chatID, "code_extraction_failed", nil)
	case verify.StatusTimedOut:
		m.reply(chatID, "code_timeout", nil)
	case verify.StatusTransportError:
		m.logger.Printf("bot: poll for %s transport error: %v", username, outcome.Err)
		m.reply(chatID, "transport_failure", nil)
	}
}

// resetSession cancels any in-flight poll and clears the chat's state. It
// reports whether a poll was cancelled.
func (m *Manager) resetSession(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		return false
	}
	wasPolling := sess.state == StatePolling && sess.cancel != nil
	if sess.cancel != nil {
		sess.cancel()
	}
	delete(m.sessions, chatID)
	return wasPolling
}

func (m *Manager) endSession(chatID int64) {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

// endSessionIf removes the chat's session only if it is still the given one,
// so a cancelled poll's cleanup cannot tear down a session the user has
// already restarted.
func (m *Manager) endSessionIf(chatID int64, sess *session) {
	m.mu.Lock()
	if current, ok := m.sessions[chatID]; ok && current == sess {
		delete(m.sessions, chatID)
	}
	m.mu.Unlock()
}

func (m *Manager) setState(chatID int64, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		sess = &session{}
		m.sessions[chatID] = sess
	}
	sess.state = state
}

func (m *Manager) sessionUsername(chatID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok {
		return sess.username
	}
	return ""
}

// stateOf reports the chat's current state, for tests.
func (m *Manager) stateOf(chatID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok {
		return sess.state
	}
	return StateIdle
}

func (m *Manager) reply(chatID int64, key string, ctx map[string]interface{}) {
	if err := m.sender.Send(chatID, m.catalog.Render(key, ctx)); err != nil {
		m.logger.Printf("bot: %v", err)
	}
}
