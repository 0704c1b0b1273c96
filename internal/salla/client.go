// Package salla talks to the Salla merchant API: order status lookups gated
// on the store's OAuth bundle, and refresh-token rotation against the Salla
// accounts endpoint.
package salla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/salahWD/salla-verify-bot/internal/cache"
	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

const (
	// DefaultBaseURL is the Salla admin API root.
	DefaultBaseURL = "https://api.salla.dev/admin/v2"
	// DefaultTokenURL is the Salla OAuth token endpoint used for refresh.
	DefaultTokenURL = "https://accounts.salla.sa/oauth2/token"
	// DefaultAccountID keys the platform bundle in the credential store.
	DefaultAccountID = "salla"
	// DefaultCompletedLabel is the localized status name Salla reports for a
	// fulfilled order.
	DefaultCompletedLabel = "تم التنفيذ"

	maxErrorBody = 4 * 1024
)

var (
	// ErrOrderNotFound is returned when Salla reports no such order.
	ErrOrderNotFound = errors.New("salla: order not found")
	// ErrUnauthorized is returned when Salla rejects the access token.
	ErrUnauthorized = errors.New("salla: unauthorized")
)

// Status is an order's state as Salla reports it.
type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client queries the Salla admin API using the platform bundle from the
// credential store.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	tokenURL       string
	clientID       string
	clientSecret   string
	accountID      string
	completedLabel string
	store          credstore.Store
	cache          cache.Store
	cacheTTL       time.Duration
	now            func() time.Time
	logger         *log.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL overrides the admin API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
	}
}

// WithAppCredentials sets the OAuth client id/secret used for token refresh.
func WithAppCredentials(clientID, clientSecret string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
	}
}

// WithAccountID overrides the credential store key for the platform bundle.
func WithAccountID(accountID string) Option {
	return func(c *Client) {
		if accountID != "" {
			c.accountID = accountID
		}
	}
}

// WithCompletedLabel overrides the status name treated as completed.
func WithCompletedLabel(label string) Option {
	return func(c *Client) {
		if label != "" {
			c.completedLabel = label
		}
	}
}

// WithCache attaches a TTL cache for order status lookups.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a Salla API client over the given credential store.
func NewClient(store credstore.Store, opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		baseURL:        DefaultBaseURL,
		tokenURL:       DefaultTokenURL,
		accountID:      DefaultAccountID,
		completedLabel: DefaultCompletedLabel,
		store:          store,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrderStatus fetches the status of one order. Missing or expired platform
// credentials surface as credstore errors before any network call.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	if orderID == "" {
		return Status{}, errors.New("salla: order id required")
	}

	if status, ok := c.cachedStatus(ctx, orderID); ok {
		return status, nil
	}

	bundle, err := c.usableBundle()
	if err != nil {
		return Status{}, err
	}

	url := fmt.Sprintf("%s/orders/%s", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("salla: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("salla: order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Status{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Status{}, fmt.Errorf("%w: order %s", ErrUnauthorized, orderID)
	case resp.StatusCode != http.StatusOK:
		io.CopyN(io.Discard, resp.Body, maxErrorBody)
		return Status{}, fmt.Errorf("salla: order %s: unexpected status %d", orderID, resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Status Status `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Status{}, fmt.Errorf("salla: decode order %s: %w", orderID, err)
	}

	c.storeStatus(ctx, orderID, payload.Data.Status)
	return payload.Data.Status, nil
}

// Completed reports whether the status name matches the configured completed
// label.
func (c *Client) Completed(status Status) bool {
	return status.Name == c.completedLabel
}

func (c *Client) usableBundle() (credstore.Bundle, error) {
	bundle, err := c.store.Get(c.accountID)
	if err != nil {
		return credstore.Bundle{}, fmt.Errorf("salla: credentials: %w", err)
	}
	if !bundle.Usable(c.now()) {
		return credstore.Bundle{}, fmt.Errorf("salla: credentials: %w", credstore.ErrExpired)
	}
	return bundle, nil
}

func (c *Client) cachedStatus(ctx context.Context, orderID string) (Status, bool) {
	if c.cache == nil {
		return Status{}, false
	}
	raw, ok, err := c.cache.Get(ctx, "order:"+orderID)
	if err != nil || !ok {
		return Status{}, false
	}
	var status Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return Status{}, false
	}
	return status, true
}

func (c *Client) storeStatus(ctx context.Context, orderID string, status Status) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, "order:"+orderID, string(raw), c.cacheTTL); err != nil {
		c.logger.Printf("salla: cache order %s: %v", orderID, err)
	}
}
