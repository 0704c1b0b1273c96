package salla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Refresh rotates the platform bundle using its refresh token and persists
// the new pair atomically. The runner schedules this ahead of expiry so order
// lookups never hit Salla with a dead token.
func (c *Client) Refresh(ctx context.Context) error {
	bundle, err := c.store.Get(c.accountID)
	if err != nil {
		return fmt.Errorf("salla: refresh: %w", err)
	}
	if bundle.RefreshToken == "" {
		return errors.New("salla: refresh: bundle has no refresh token")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {bundle.RefreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("salla: refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("salla: refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("salla: refresh: token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("salla: refresh: decode response: %w", err)
	}
	if payload.AccessToken == "" {
		return errors.New("salla: refresh: response missing access token")
	}

	rotated := bundle
	rotated.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		rotated.RefreshToken = payload.RefreshToken
	}
	if payload.ExpiresIn > 0 {
		rotated.ExpiresAt = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	if err := c.store.Put(c.accountID, rotated); err != nil {
		return fmt.Errorf("salla: refresh: persist: %w", err)
	}
	c.logger.Printf("salla: refreshed platform token, expires %s", rotated.ExpiresAt.Format(time.RFC3339))
	return nil
}

// NeedsRefresh reports whether the platform bundle expires within the lead
// window (or has already expired). Missing bundles report false so the runner
// does not loop on an unauthorized install.
func (c *Client) NeedsRefresh(lead time.Duration) bool {
	bundle, err := c.store.Get(c.accountID)
	if err != nil || bundle.RefreshToken == "" {
		return false
	}
	if bundle.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(lead).Before(bundle.ExpiresAt)
}
