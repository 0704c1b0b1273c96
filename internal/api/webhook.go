package api

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed webhook_schema.json
var webhookSchemaJSON []byte

const maxWebhookBody = 1 << 20

// eventStoreAuthorize delivers the merchant's OAuth tokens when the app is
// installed on a store.
const eventStoreAuthorize = "app.store.authorize"

type webhookValidator struct {
	schema *gojsonschema.Schema
}

func newWebhookValidator() (*webhookValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(webhookSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("api: webhook schema: %w", err)
	}
	return &webhookValidator{schema: schema}, nil
}

func (v *webhookValidator) validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("api: webhook payload: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("api: webhook payload: %s", result.Errors()[0].String())
	}
	return nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires"`
		ExpiresInAlt int64  `json:"expires_in"`
	} `json:"data"`
}

func (p webhookPayload) expiresIn() int64 {
	if p.Data.ExpiresIn > 0 {
		return p.Data.ExpiresIn
	}
	return p.Data.ExpiresInAlt
}

// handleWebhook receives Salla platform events. app.store.authorize persists
// the merchant token bundle; every other event is acknowledged and counted.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := s.webhookSchema.validate(body); err != nil {
		s.logger.Printf("api: rejected webhook: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if s.metrics != nil {
		s.metrics.WebhookEvent(payload.Event)
	}

	if payload.Event != eventStoreAuthorize {
		s.logger.Printf("api: webhook event %s acknowledged", payload.Event)
		c.JSON(http.StatusOK, gin.H{"message": "webhook received"})
		return
	}

	if payload.Data.AccessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorize event missing access token"})
		return
	}

	bundle, err := s.store.Get(s.platformAccountID)
	if err != nil {
		bundle.AccountID = s.platformAccountID
	}
	bundle.AccessToken = payload.Data.AccessToken
	if payload.Data.RefreshToken != "" {
		bundle.RefreshToken = payload.Data.RefreshToken
	}
	if secs := payload.expiresIn(); secs > 0 {
		bundle.ExpiresAt = s.now().Add(time.Duration(secs) * time.Second)
	}

	if err := s.store.Put(s.platformAccountID, bundle); err != nil {
		s.logger.Printf("api: persist platform tokens: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store tokens"})
		return
	}

	s.logger.Printf("api: stored platform tokens, expires %s", bundle.ExpiresAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"message": "tokens received and stored"})
}
