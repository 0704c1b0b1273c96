package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
)

// GoogleOAuthConfig configures the mailbox consent flow. Exchange may be set
// to stub the code exchange in tests; when nil the real endpoint is used.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	StateSecret  string
	StateTTL     time.Duration
	Exchange     func(ctx context.Context, code string) (*oauth2.Token, error)
}

type oauthFlow struct {
	config      *oauth2.Config
	stateSecret []byte
	stateTTL    time.Duration
	exchange    func(ctx context.Context, code string) (*oauth2.Token, error)
}

func newOAuthFlow(cfg GoogleOAuthConfig) *oauthFlow {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     google.Endpoint,
	}
	if len(oc.Scopes) == 0 {
		oc.Scopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	flow := &oauthFlow{
		config:      oc,
		stateSecret: []byte(cfg.StateSecret),
		stateTTL:    ttl,
		exchange:    cfg.Exchange,
	}
	if flow.exchange == nil {
		flow.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
			return oc.Exchange(ctx, code)
		}
	}
	return flow
}

// signState issues a short-lived JWT binding the consent round trip to one
// mailbox account.
func (f *oauthFlow) signState(account string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"acct":  account,
		"nonce": uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(f.stateTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.stateSecret)
}

func (f *oauthFlow) verifyState(state string) (string, error) {
	token, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		return f.stateSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("api: oauth state: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("api: oauth state: unexpected claims")
	}
	account, _ := claims["acct"].(string)
	if account == "" {
		return "", errors.New("api: oauth state: missing account")
	}
	return account, nil
}

// handleOAuthStart redirects the operator to the Google consent screen for
// the requested mailbox account.
func (s *Server) handleOAuthStart(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account query parameter required"})
		return
	}

	state, err := s.oauth.signState(account, s.now())
	if err != nil {
		s.logger.Printf("api: sign oauth state: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start flow"})
		return
	}

	url := s.oauth.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	c.Redirect(http.StatusFound, url)
}

// handleOAuthCallback verifies the state, exchanges the code and persists the
// mailbox bundle under the account email.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code required"})
		return
	}

	account, err := s.oauth.verifyState(state)
	if err != nil {
		s.logger.Printf("api: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	token, err := s.oauth.exchange(c.Request.Context(), code)
	if err != nil {
		s.logger.Printf("api: oauth exchange for %s: %v", account, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	bundle := credstore.Bundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := s.store.Put(account, bundle); err != nil {
		s.logger.Printf("api: persist mailbox tokens for %s: %v", account, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "mailbox authorized", "account": account})
}
