package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solace-fi/coverage/internal/auth"
	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/metrics"
	"github.com/solace-fi/coverage/internal/security"
	"github.com/solace-fi/coverage/internal/validation"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// useMiddleware installs the chain in order: recovery, browser hardening,
// limits, then request identity and logging.
func (s *Server) useMiddleware() {
	s.router.Use(
		gin.CustomRecovery(recoverPanic),
		security.HeadersMiddleware(),
		security.CORSMiddleware(s.cfg.AllowedOrigins),
		validation.RequestSizeMiddleware(validation.MaxRequestSize),
		s.limiter.Middleware(),
		metrics.Middleware(),
		s.requestContext(),
		auth.Middleware(s.verifier),
		attachCaller(),
		accessLog(),
	)
}

func recoverPanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("panic recovered",
		"panic", recovered,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}

// requestContext assigns a request id, honouring a sane inbound one, and
// puts the server logger on the context.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		ctx := logging.WithLogger(logging.WithRequestID(c.Request.Context(), id), s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func attachCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if caller, ok := auth.Caller(c); ok {
			c.Request = c.Request.WithContext(logging.WithCaller(c.Request.Context(), caller.Hex()))
		}
		c.Next()
	}
}

// accessLog logs server errors at error, client errors at warn and the
// rest at debug.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
			attrs = append(attrs, slog.String("client_ip", c.ClientIP()))
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		ctx := c.Request.Context()
		logging.L(ctx).LogAttrs(ctx, level, "request completed", attrs...)
	}
}
