package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
}

type pop3ConnFactory func() (pop3Connection, error)

// POP3Fetcher reads an inbox over POP3. The protocol has neither server-side
// search nor internal dates, so relevance filtering happens client-side on
// the newest message and the Date header stands in for the internal
// timestamp. The bundle's access token is used as the account password (app
// password); XOAUTH2 is not offered by the POP3 library.
type POP3Fetcher struct {
	host        string
	port        int
	tls         bool
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
	newConn     pop3ConnFactory
}

// POP3Option customizes fetcher behavior.
type POP3Option func(*POP3Fetcher)

// WithPOP3TLS toggles implicit TLS (default on).
func WithPOP3TLS(enabled bool) POP3Option {
	return func(f *POP3Fetcher) {
		f.tls = enabled
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3Option {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3Option {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3Option {
	return func(f *POP3Fetcher) {
		f.newConn = factory
	}
}

// NewPOP3Fetcher returns a POP3 connector for the given endpoint.
func NewPOP3Fetcher(host string, port int, opts ...POP3Option) *POP3Fetcher {
	f := &POP3Fetcher{
		host:        host,
		port:        port,
		tls:         true,
		dialTimeout: 5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
	f.newConn = f.defaultConnFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newConn == nil {
		f.newConn = f.defaultConnFactory
	}
	return f
}

// Name returns the connector identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Newest retrieves the highest-numbered message, filters it against the
// search term and returns it as a raw RFC822 envelope. Messages are never
// deleted.
func (f *POP3Fetcher) Newest(ctx context.Context, bundle credstore.Bundle, query Query) (*Envelope, error) {
	if bundle.AccessToken == "" {
		return nil, errors.New("pop3: bundle missing access token")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	conn, err := f.newConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect: %w", err)
	}
	defer f.safeQuit(conn)

	if err := conn.Auth(bundle.AccountID, bundle.AccessToken); err != nil {
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	newest := msgs[0]
	for _, meta := range msgs[1:] {
		if meta.ID > newest.ID {
			newest = meta
		}
	}

	payload, err := conn.RetrRaw(newest.ID)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %d: %w", newest.ID, err)
	}
	raw := append([]byte(nil), payload.Bytes()...)

	subject, date := f.readHeader(raw)
	if query.Search != "" && !containsFold(raw, subject, query.Search) {
		return nil, nil
	}

	id := newest.UID
	if id == "" {
		id = fmt.Sprintf("%d", newest.ID)
	}
	return &Envelope{
		ID:           id,
		InternalDate: date,
		Subject:      subject,
		Parts: []Part{{
			MIMEType: "message/rfc822",
			Data:     raw,
		}},
	}, nil
}

func (f *POP3Fetcher) readHeader(raw []byte) (subject string, date time.Time) {
	date = f.now()
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", date
	}
	defer reader.Close()
	if s, err := reader.Header.Subject(); err == nil {
		subject = s
	}
	if d, err := reader.Header.Date(); err == nil && !d.IsZero() {
		date = d
	}
	return subject, date
}

func containsFold(raw []byte, subject, term string) bool {
	needle := strings.ToLower(term)
	if strings.Contains(strings.ToLower(subject), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(string(raw)), needle)
}

func (f *POP3Fetcher) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil && f.logger != nil {
		f.logger.Printf("pop3 quit error: %v", err)
	}
}

func (f *POP3Fetcher) defaultConnFactory() (pop3Connection, error) {
	if f.host == "" {
		return nil, errors.New("pop3: host required")
	}
	port := f.port
	if port == 0 {
		if f.tls {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        f.host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  f.tls,
	})
	return client.NewConn()
}
