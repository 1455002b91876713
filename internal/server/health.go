package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solace-fi/coverage/internal/health"
	"github.com/solace-fi/coverage/internal/watcher"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Block     uint64          `json:"block"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthChecks() *health.Registry {
	r := health.NewRegistry(health.DefaultTimeout)
	r.Register("protocol", func(ctx context.Context) error {
		_, err := s.proto.Account(ctx, s.proto.Governance())
		return err
	})
	if s.db != nil {
		r.Register("database", health.Ping(s.db))
	}
	if s.watcher != nil {
		r.Register("chain", health.Fresh(s.watcher, maxHeadLag(s.cfg.BlockTime)))
	}
	return r
}

// maxHeadLag is how far the chain head may trail wall time before the
// chain check fails.
func maxHeadLag(blockTime time.Duration) time.Duration {
	return 10*blockTime + watcher.DefaultConfig().PollInterval
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.checks.CheckAll(c.Request.Context())
	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Block:     s.proto.Clock().BlockNumber(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !ok {
		resp.Status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if s.alive.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
}

// readinessHandler fails until Run has started the workers, and whenever a
// dependency check fails.
func (s *Server) readinessHandler(c *gin.Context) {
	body := gin.H{"status": "not_ready"}
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	if ok, checks := s.checks.CheckAll(c.Request.Context()); !ok {
		body["checks"] = checks
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
