package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultWebhookPath = "/api/westwallet/callback"

// Reconciler credits observed transactions.
type Reconciler interface {
	Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
}

// TransactionFetcher re-reads a transaction from the gateway.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, id string) (*models.GatewayTransaction, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the routes call into.
type Dependencies struct {
	Engine  Reconciler
	Gateway TransactionFetcher
	Store   Pinger
	Metrics *metrics.Metrics
}

// Server wraps an http.Server with the webhook, health and metrics routes.
type Server struct {
	httpServer     *http.Server
	router         *gin.Engine
	engine         Reconciler
	gateway        TransactionFetcher
	store          Pinger
	metrics        *metrics.Metrics
	allowed        map[string]bool
	verify         bool
	processTimeout time.Duration
}

// New creates a server listening on cfg.Addr.
func New(cfg models.ServerConfig, deps Dependencies) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:         deps.Engine,
		gateway:        deps.Gateway,
		store:          deps.Store,
		metrics:        deps.Metrics,
		verify:         cfg.VerifyWithGateway && deps.Gateway != nil,
		processTimeout: cfg.ProcessTimeout,
	}
	if s.processTimeout <= 0 {
		s.processTimeout = 30 * time.Second
	}
	if len(cfg.AllowedIPs) > 0 {
		s.allowed = make(map[string]bool, len(cfg.AllowedIPs))
		for _, ip := range cfg.AllowedIPs {
			s.allowed[ip] = true
		}
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), requestLogger())

	webhookPath := cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = DefaultWebhookPath
	}
	router.POST(webhookPath, s.handleCallback)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router = router

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	zap.L().Info("HTTP server configured",
		zap.String("addr", addr),
		zap.String("webhook_path", webhookPath),
		zap.Bool("verify_with_gateway", s.verify),
		zap.Int("allowed_ips", len(cfg.AllowedIPs)))
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	zap.L().Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	zap.L().Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			zap.L().Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("duration", time.Since(start)))
	}
}
