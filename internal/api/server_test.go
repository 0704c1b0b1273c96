package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/metrics"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *credstore.FileStore) {
	t.Helper()
	store, err := credstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	server, err := NewServer(store, opts...)
	require.NoError(t, err)
	return server, store
}

func doRequest(server *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookStoresAuthorizeTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server, store := newTestServer(t, WithClock(func() time.Time { return now }))

	body := `{
		"event": "app.store.authorize",
		"merchant": 181690847,
		"data": {
			"access_token": "platform-access",
			"refresh_token": "platform-refresh",
			"expires_in": 1209600
		}
	}`
	rec := doRequest(server, http.MethodPost, "/webhook", body)
	require.Equal(t, http.StatusOK, rec.Code)

	bundle, err := store.Get("salla")
	require.NoError(t, err)
	require.Equal(t, "platform-access", bundle.AccessToken)
	require.Equal(t, "platform-refresh", bundle.RefreshToken)
	require.Equal(t, now.Add(1209600*time.Second), bundle.ExpiresAt)
}

func TestWebhookAcknowledgesOtherEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server, store := newTestServer(t, WithMetrics(m, reg))

	rec := doRequest(server, http.MethodPost, "/webhook", `{"event":"order.created","data":{"id":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.Get("salla")
	require.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, http.MethodPost, "/webhook", `{"data":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(server, http.MethodPost, "/webhook", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAuthorizeRequiresToken(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, http.MethodPost, "/webhook", `{"event":"app.store.authorize","data":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthStartRedirects(t *testing.T) {
	server, _ := newTestServer(t, WithGoogleOAuth(GoogleOAuthConfig{
		ClientID:    "client",
		RedirectURL: "https://bot.example/oauth/google/callback",
		StateSecret: "state-secret",
	}))

	rec := doRequest(server, http.MethodGet, "/oauth/google/start?account=inbox@example.com", "")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Contains(t, location.Host, "accounts.google.com")
	require.NotEmpty(t, location.Query().Get("state"))
	require.Equal(t, "client", location.Query().Get("client_id"))
}

func TestOAuthStartRequiresAccount(t *testing.T) {
	server, _ := newTestServer(t, WithGoogleOAuth(GoogleOAuthConfig{StateSecret: "s"}))

	rec := doRequest(server, http.MethodGet, "/oauth/google/start", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallbackStoresBundle(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	server, store := newTestServer(t, WithGoogleOAuth(GoogleOAuthConfig{
		StateSecret: "state-secret",
		Exchange: func(_ context.Context, code string) (*oauth2.Token, error) {
			require.Equal(t, "auth-code", code)
			return &oauth2.Token{
				AccessToken:  "mail-access",
				RefreshToken: "mail-refresh",
				Expiry:       expiry,
			}, nil
		},
	}))

	state, err := server.oauth.signState("inbox@example.com", time.Now())
	require.NoError(t, err)

	rec := doRequest(server, http.MethodGet, "/oauth/google/callback?state="+url.QueryEscape(state)+"&code=auth-code", "")
	require.Equal(t, http.StatusOK, rec.Code)

	bundle, err := store.Get("inbox@example.com")
	require.NoError(t, err)
	require.Equal(t, "mail-access", bundle.AccessToken)
	require.Equal(t, "mail-refresh", bundle.RefreshToken)
	require.Equal(t, expiry, bundle.ExpiresAt)
}

func TestOAuthCallbackRejectsForgedState(t *testing.T) {
	server, _ := newTestServer(t, WithGoogleOAuth(GoogleOAuthConfig{StateSecret: "right-secret"}))

	forged, err := newOAuthFlow(GoogleOAuthConfig{StateSecret: "wrong-secret"}).signState("inbox@example.com", time.Now())
	require.NoError(t, err)

	rec := doRequest(server, http.MethodGet, "/oauth/google/callback?state="+url.QueryEscape(forged)+"&code=auth-code", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusListsCredentials(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server, store := newTestServer(t, WithClock(func() time.Time { return now }))
	require.NoError(t, store.Put("salla", credstore.Bundle{
		AccessToken: "tok",
		ExpiresAt:   now.Add(time.Hour),
	}))

	rec := doRequest(server, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Credentials []struct {
			Account string `json:"account"`
			Usable  bool   `json:"usable"`
		} `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Credentials, 1)
	require.Equal(t, "salla", payload.Credentials[0].Account)
	require.True(t, payload.Credentials[0].Usable)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server, _ := newTestServer(t, WithMetrics(m, reg))

	m.WebhookEvent("order.created")
	rec := doRequest(server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sallabot_webhook_events_total")
}
