// Package tasks holds the concrete scheduled jobs the runner executes.
package tasks

import (
	"context"
	"log"
	"time"
)

// TokenRefresher is the part of the Salla client the refresh task needs.
type TokenRefresher interface {
	NeedsRefresh(lead time.Duration) bool
	Refresh(ctx context.Context) error
}

// TokenRefresh rotates the Salla platform token before it expires.
type TokenRefresh struct {
	client   TokenRefresher
	schedule string
	lead     time.Duration
	logger   *log.Logger
}

// NewTokenRefresh builds the refresh task. lead is how far before expiry the
// rotation should happen.
func NewTokenRefresh(client TokenRefresher, schedule string, lead time.Duration, logger *log.Logger) *TokenRefresh {
	if schedule == "" {
		schedule = "0 */15 * * * *"
	}
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TokenRefresh{client: client, schedule: schedule, lead: lead, logger: logger}
}

func (t *TokenRefresh) Name() string { return "salla_token_refresh" }

func (t *TokenRefresh) Schedule() string { return t.schedule }

func (t *TokenRefresh) Timeout() time.Duration { return 30 * time.Second }

// Run refreshes the token only when it is inside the lead window, so the
// task can be scheduled frequently without churning tokens.
func (t *TokenRefresh) Run(ctx context.Context) error {
	if !t.client.NeedsRefresh(t.lead) {
		return nil
	}
	t.logger.Printf("tasks: platform token inside refresh window, rotating")
	return t.client.Refresh(ctx)
}
