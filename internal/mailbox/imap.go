package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

type imapClient interface {
	Authenticate(saslClient sasl.Client) error
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// peekBodySection fetches the full body without setting \Seen, keeping the
// connector read-only.
var peekBodySection = &imap.FetchItemBodySection{Peek: true}

// IMAPFetcher reads an inbox over IMAP, authenticating with the account's
// OAuth bundle via SASL XOAUTH2.
type IMAPFetcher struct {
	host        string
	port        int
	folder      string
	dialTimeout time.Duration
	logger      *log.Logger
	newClient   func() (imapClient, error)
}

// IMAPOption customizes fetcher behavior.
type IMAPOption func(*IMAPFetcher)

// WithIMAPFolder overrides the mailbox folder (default INBOX).
func WithIMAPFolder(folder string) IMAPOption {
	return func(f *IMAPFetcher) {
		if folder != "" {
			f.folder = folder
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func withIMAPClientFactory(factory func() (imapClient, error)) IMAPOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// NewIMAPFetcher returns an IMAP connector for the given TLS endpoint.
func NewIMAPFetcher(host string, port int, opts ...IMAPOption) *IMAPFetcher {
	f := &IMAPFetcher{
		host:        host,
		port:        port,
		folder:      "INBOX",
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Newest searches the folder for messages at or after the query watermark
// containing the search text and returns the one with the latest internal
// date, raw RFC822 payload attached as a single part. No flags are stored and
// nothing is expunged.
func (f *IMAPFetcher) Newest(ctx context.Context, bundle credstore.Bundle, query Query) (*Envelope, error) {
	if bundle.AccessToken == "" {
		return nil, errors.New("imap: bundle missing access token")
	}

	client, err := f.newClient()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer f.safeClose(client)

	auth := sasl.NewXoauth2Client(bundle.AccountID, bundle.AccessToken)
	if err := client.Authenticate(auth); err != nil {
		return nil, fmt.Errorf("imap auth: %w", err)
	}

	if _, err := client.Select(f.folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", f.folder, err)
	}

	criteria := &imap.SearchCriteria{}
	if !query.Since.IsZero() {
		// IMAP SINCE has date granularity; sub-day staleness is enforced by
		// the caller against InternalDate.
		criteria.Since = query.Since
	}
	if query.Search != "" {
		criteria.Text = []string{query.Search}
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		f.logout(client)
		return nil, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		Envelope:     true,
		BodySection:  []*imap.FetchItemBodySection{peekBodySection},
	}
	buffers, err := client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var newest *imapclient.FetchMessageBuffer
	for _, buf := range buffers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if newest == nil || buf.InternalDate.After(newest.InternalDate) {
			newest = buf
		}
	}
	if newest == nil {
		f.logout(client)
		return nil, nil
	}

	body := newest.FindBodySection(peekBodySection)
	env := &Envelope{
		ID:           fmt.Sprintf("%d", newest.UID),
		InternalDate: newest.InternalDate,
	}
	if newest.Envelope != nil {
		env.Subject = newest.Envelope.Subject
	}
	if body != nil {
		env.Parts = []Part{{
			MIMEType: "message/rfc822",
			Data:     append([]byte(nil), body...),
		}}
	}

	f.logout(client)
	return env, nil
}

func (f *IMAPFetcher) logout(client imapClient) {
	if err := client.Logout().Wait(); err != nil && f.logger != nil {
		f.logger.Printf("imap logout error: %v", err)
	}
}

func (f *IMAPFetcher) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && f.logger != nil {
		f.logger.Printf("imap close error: %v", err)
	}
}

func (f *IMAPFetcher) defaultClientFactory() (imapClient, error) {
	if f.host == "" {
		return nil, errors.New("imap: host required")
	}
	port := f.port
	if port == 0 {
		port = 993
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	client, err := imapclient.DialTLS(fmt.Sprintf("%s:%d", f.host, port), opts)
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Authenticate(saslClient sasl.Client) error {
	return w.Client.Authenticate(saslClient)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
