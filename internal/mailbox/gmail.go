package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

// gmailService is the slice of the Gmail API the fetcher needs, kept small so
// tests can fake it without the network.
type gmailService interface {
	ListNewest(ctx context.Context, query string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

type gmailServiceFactory func(ctx context.Context, bundle credstore.Bundle) (gmailService, error)

// GmailFetcher reads an inbox through the Gmail REST API using the account's
// OAuth bundle as a bearer token.
type GmailFetcher struct {
	logger     *log.Logger
	newService gmailServiceFactory
}

// GmailOption customizes fetcher behavior.
type GmailOption func(*GmailFetcher)

// WithGmailLogger overrides the logger used for connector diagnostics.
func WithGmailLogger(logger *log.Logger) GmailOption {
	return func(f *GmailFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func withGmailServiceFactory(factory gmailServiceFactory) GmailOption {
	return func(f *GmailFetcher) {
		f.newService = factory
	}
}

// NewGmailFetcher returns a Gmail connector ready for verification polling.
func NewGmailFetcher(opts ...GmailOption) *GmailFetcher {
	f := &GmailFetcher{logger: log.Default()}
	f.newService = defaultGmailServiceFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newService == nil {
		f.newService = defaultGmailServiceFactory
	}
	return f
}

// Name returns the connector identifier.
func (f *GmailFetcher) Name() string {
	return "gmail"
}

// Newest returns the most recent message matching the query's search term, or
// nil when the inbox has nothing matching. Messages are fetched with the
// read-only messages.get call; nothing is labeled or marked.
func (f *GmailFetcher) Newest(ctx context.Context, bundle credstore.Bundle, query Query) (*Envelope, error) {
	if bundle.AccessToken == "" {
		return nil, errors.New("gmail: bundle missing access token")
	}

	svc, err := f.newService(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("gmail connect: %w", err)
	}

	max := int64(query.MaxResults)
	if max <= 0 {
		max = 1
	}
	ids, err := svc.ListNewest(ctx, query.Search, max)
	if err != nil {
		return nil, fmt.Errorf("gmail list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// The list endpoint orders newest first; only the head is inspected.
	msg, err := svc.GetMessage(ctx, ids[0])
	if err != nil {
		return nil, fmt.Errorf("gmail get %s: %w", ids[0], err)
	}
	return envelopeFromGmail(msg), nil
}

func envelopeFromGmail(msg *gmail.Message) *Envelope {
	if msg == nil {
		return nil
	}
	env := &Envelope{
		ID:           msg.Id,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return env
	}
	for _, header := range msg.Payload.Headers {
		if header.Name == "Subject" {
			env.Subject = header.Value
			break
		}
	}
	if len(msg.Payload.Parts) > 0 {
		for _, part := range msg.Payload.Parts {
			if part == nil || part.Body == nil || part.Body.Data == "" {
				continue
			}
			env.Parts = append(env.Parts, Part{
				MIMEType: part.MimeType,
				Charset:  charsetOf(part.Headers),
				Base64:   true,
				Data:     []byte(part.Body.Data),
			})
		}
		return env
	}
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		env.Parts = append(env.Parts, Part{
			MIMEType: msg.Payload.MimeType,
			Charset:  charsetOf(msg.Payload.Headers),
			Base64:   true,
			Data:     []byte(msg.Payload.Body.Data),
		})
	}
	return env
}

func charsetOf(headers []*gmail.MessagePartHeader) string {
	for _, header := range headers {
		if header == nil || !strings.EqualFold(header.Name, "Content-Type") {
			continue
		}
		if _, params, err := mime.ParseMediaType(header.Value); err == nil {
			return params["charset"]
		}
	}
	return ""
}

type liveGmailService struct {
	svc *gmail.Service
}

func defaultGmailServiceFactory(ctx context.Context, bundle credstore.Bundle) (gmailService, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bundle.AccessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, err
	}
	return &liveGmailService{svc: svc}, nil
}

func (s *liveGmailService) ListNewest(ctx context.Context, query string, max int64) ([]string, error) {
	call := s.svc.Users.Messages.List("me").MaxResults(max).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (s *liveGmailService) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	return s.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
}
