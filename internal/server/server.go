// Package server exposes a protocol deployment over HTTP and WebSocket.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/solace-fi/coverage/internal/auth"
	"github.com/solace-fi/coverage/internal/config"
	"github.com/solace-fi/coverage/internal/health"
	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/metrics"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/protocol"
	"github.com/solace-fi/coverage/internal/ratelimit"
	"github.com/solace-fi/coverage/internal/realtime"
	"github.com/solace-fi/coverage/internal/validation"
	"github.com/solace-fi/coverage/internal/watcher"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

const shutdownGrace = 30 * time.Second

// Server owns the HTTP listener and the background workers of one
// deployment: the event hub, the expiry sweeper and, when configured, the
// chain head watcher.
type Server struct {
	cfg      *config.Config
	proto    *protocol.Protocol
	hub      *realtime.Hub
	sweeper  *policy.Sweeper
	watcher  *watcher.Watcher
	db       *sql.DB // nil with in-memory stores
	checks   *health.Registry
	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *slog.Logger
	stopRun  context.CancelFunc

	ready atomic.Bool // set once workers run, cleared on shutdown
	alive atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHub shares a hub already registered as a protocol event sink.
func WithHub(hub *realtime.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithWatcher hands the server the watcher backing the protocol clock. The
// server starts and stops it.
func WithWatcher(w *watcher.Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// WithDB registers the stores' database for health checks, pool metrics
// and closing on shutdown.
func WithDB(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// New builds the router for proto. Nothing runs until Run.
func New(cfg *config.Config, proto *protocol.Protocol, opts ...Option) (*Server, error) {
	if proto == nil {
		return nil, errors.New("server: protocol is required")
	}
	s := &Server{cfg: cfg, proto: proto}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	if s.hub == nil {
		s.hub = realtime.NewHub(s.logger)
		proto.Events().AddSink(s.hub)
	}
	s.hub.SetBacklog(proto.Events())

	s.sweeper = policy.NewSweeper(proto, cfg.SweepInterval, s.logger)
	s.sweeper.SetBatchSize(cfg.SweepBatchSize)
	s.verifier = auth.NewVerifier(cfg.AuthMaxSkew)
	s.limiter = ratelimit.New(rateLimitConfig(cfg))
	s.checks = s.healthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.useMiddleware()
	s.routes()

	s.alive.Store(true)
	return s, nil
}

func rateLimitConfig(cfg *config.Config) ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = float64(cfg.RateLimitRPS)
		rl.BurstSize = 0
	}
	return rl
}

func (s *Server) routes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))

	v1 := s.router.Group("/v1", validation.ParamMiddleware())
	h := &handler{proto: s.proto, hub: s.hub}

	// Reads and permissionless maintenance
	v1.GET("/info", h.info)
	v1.GET("/risk", h.riskSummary)
	v1.GET("/events", h.listEvents)
	v1.GET("/stream/stats", h.streamStats)
	v1.GET("/products", h.listProducts)
	v1.GET("/products/:product", h.getProduct)
	v1.GET("/products/:product/quote", h.quote)
	v1.POST("/products/:product/claims/digest", h.claimDigest)
	v1.GET("/policies/:id", h.getPolicy)
	v1.GET("/claims/:id", h.getClaim)
	v1.GET("/accounts/:address", h.getAccount)
	v1.GET("/accounts/:address/policies", h.listPolicies)
	v1.GET("/accounts/:address/claims", h.listClaims)
	v1.POST("/sweep", h.sweep)
	v1.GET("/governance/components/:address", h.getGovernance)

	// Calls made on behalf of the signed caller
	signed := v1.Group("", auth.RequireCaller())
	signed.POST("/products/:product/policies", h.buyPolicy)
	signed.POST("/products/:product/policies/:id/extend", h.extendPolicy)
	signed.POST("/products/:product/policies/:id/cover", h.updateCoverAmount)
	signed.DELETE("/products/:product/policies/:id", h.cancelPolicy)
	signed.POST("/products/:product/policies/:id/claim", h.submitClaim)
	signed.POST("/policies/:id/transfer", h.transferPolicy)
	signed.POST("/claims/:id/withdraw", h.withdrawClaim)
	signed.POST("/vault/deposit", h.deposit)
	signed.POST("/vault/withdraw", h.withdraw)

	// Governance setters; each component rejects callers other than governance
	gov := signed.Group("/governance")
	gov.POST("/mint", h.mint)
	gov.PUT("/products/:product/paused", h.setPaused)
	gov.PUT("/products/:product/signers", h.setSigner)
	gov.PUT("/products/:product/assets", h.setCoveredAsset)
	gov.PUT("/strategies/:strategy/products", h.setProductParams)
	gov.DELETE("/strategies/:strategy/products/:product", h.removeStrategyProduct)
	gov.PUT("/strategies/:strategy/status", h.setStrategyStatus)
	gov.PUT("/strategies/:strategy/weight", h.setWeightAllocation)
	gov.PUT("/reserves", h.setPartialReservesFactor)
	gov.PUT("/cooldown", h.setCooldownPeriod)
	gov.PUT("/claims/:id", h.adjustClaim)
	gov.PUT("/components/:address/pending", h.setPendingGovernance)
	gov.POST("/components/:address/accept", h.acceptGovernance)
}

// Run serves until ctx ends, SIGINT or SIGTERM arrives, or the listener
// fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	runCtx, cancel := context.WithCancel(ctx)
	s.stopRun = cancel

	if s.watcher != nil {
		if err := s.watcher.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start chain watcher: %w", err)
		}
	}
	if s.db != nil {
		if err := metrics.RegisterDB(s.db, "coverage"); err != nil {
			s.logger.Warn("db pool metrics unavailable", "error", err)
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.logger.Info("listening",
			"port", s.cfg.Port,
			"chain_id", s.proto.ChainID().String(),
			"products", len(s.proto.Products()),
		)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	go s.hub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	s.ready.Store(true)

	<-gctx.Done()
	if ctx.Err() != nil {
		s.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}
	shutdownErr := s.Shutdown()
	return errors.Join(g.Wait(), shutdownErr)
}

// Shutdown drains the listener and stops the workers. It is safe to call
// without Run.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	if s.stopRun != nil {
		s.stopRun()
	}

	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err = s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
	}

	s.sweeper.Stop()
	s.limiter.Stop()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.logger.Error("close database", "error", cerr)
		}
	}

	s.logger.Info("server stopped")
	return err
}

// Router exposes the handler tree to tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
