// Package server provides the HTTP surface of the proxy.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/cloudcode"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/server/handlers"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

// Server wires the HTTP layer, the dispatch engine and the background quota
// refresher together.
type Server struct {
	cfg      *config.Config
	accounts *account.Manager
	client   *cloudcode.Client

	engine *gin.Engine
	http   *http.Server
	cron   *cron.Cron
}

// New creates the server and its routes
func New(cfg *config.Config, accounts *account.Manager, client *cloudcode.Client) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger())
	engine.Use(CORS())
	engine.Use(BodySizeLimit(config.RequestBodyLimit))

	s := &Server{
		cfg:      cfg,
		accounts: accounts,
		client:   client,
		engine:   engine,
		cron:     cron.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	messages := handlers.NewMessagesHandler(s.accounts, s.client, s.cfg)
	models := handlers.NewModelsHandler()
	health := handlers.NewHealthHandler(s.accounts)
	accounts := handlers.NewAccountsHandler(s.accounts)

	s.engine.GET("/health", health.Health)

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuth(s.cfg.APIKey))
	{
		v1.POST("/messages", messages.Messages)
		v1.POST("/messages/count_tokens", messages.CountTokens)
		v1.GET("/models", models.ListModels)
	}

	admin := s.engine.Group("/admin")
	admin.Use(APIKeyAuth(s.cfg.APIKey))
	{
		admin.GET("/accounts", accounts.List)
		admin.POST("/accounts/:email/enabled", accounts.SetEnabled)
		admin.POST("/accounts/reset-rate-limits", accounts.ResetRateLimits)
	}
}

// Start runs the server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	// Quota snapshots feed the hybrid strategy's quota tracker
	spec := fmt.Sprintf("@every %dm", config.QuotaRefreshIntervalMin)
	_, _ = s.cron.AddFunc(spec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.client.RefreshAccountQuotas(refreshCtx)
	})
	s.cron.Start()

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Success("[Server] Listening on http://localhost:%d", s.cfg.Port)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops background tasks and drains the HTTP server
func (s *Server) Shutdown() error {
	utils.Info("[Server] Shutting down...")
	s.cron.Stop()
	s.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
