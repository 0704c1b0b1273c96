// Package api exposes the bot's HTTP surface: the Salla webhook receiver,
// the Google OAuth consent flow for mailbox accounts, and health, status and
// metrics endpoints.
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/directory"
	"github.com/salahWD/salla-verify-bot/internal/metrics"
)

// Server wires the HTTP routes over their dependencies.
type Server struct {
	engine    *gin.Engine
	store     credstore.Store
	directory *directory.Reloader
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *log.Logger
	now       func() time.Time

	platformAccountID string
	oauth             *oauthFlow
	webhookSchema     *webhookValidator
}

// Option customizes the server.
type Option func(*Server)

// WithDirectory attaches the username directory for the status endpoint.
func WithDirectory(reloader *directory.Reloader) Option {
	return func(s *Server) {
		s.directory = reloader
	}
}

// WithMetrics attaches the Prometheus instruments and the gatherer backing
// the /metrics endpoint.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPlatformAccountID overrides the credential store key used for tokens
// arriving on the webhook.
func WithPlatformAccountID(accountID string) Option {
	return func(s *Server) {
		if accountID != "" {
			s.platformAccountID = accountID
		}
	}
}

// WithGoogleOAuth enables the mailbox consent flow.
func WithGoogleOAuth(cfg GoogleOAuthConfig) Option {
	return func(s *Server) {
		s.oauth = newOAuthFlow(cfg)
	}
}

// NewServer builds the HTTP server. Call Handler to obtain the http.Handler.
func NewServer(store credstore.Store, opts ...Option) (*Server, error) {
	validator, err := newWebhookValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:             store,
		logger:            log.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		platformAccountID: "salla",
		webhookSchema:     validator,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/status", s.handleStatus)
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	if s.oauth != nil {
		engine.GET("/oauth/google/start", s.handleOAuthStart)
		engine.GET("/oauth/google/callback", s.handleOAuthCallback)
	}

	s.engine = engine
	return s, nil
}

// Handler returns the routed handler for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
