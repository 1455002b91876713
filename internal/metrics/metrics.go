// Package metrics exposes the coverage engine's Prometheus series.
//
// Everything registers on the default registry under the "solace"
// namespace. Protocol gauges are refreshed after each state change; HTTP
// series come from Middleware.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solace"

func gauge(name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func opsCounter(name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		[]string{"op", "result"})
}

// HTTP
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Protocol operations
var (
	PolicyOpsTotal = opsCounter("policy_operations_total",
		"Policy operations by kind (buy, extend, update, cancel, claim, expire) and result.")
	ClaimOpsTotal = opsCounter("claim_operations_total",
		"Escrow claim operations by kind (withdraw, adjust) and result.")

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Time an expired-policy sweep holds the protocol lock.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
)

// Protocol state
var (
	ActivePolicies        = gauge("active_policies", "Policies currently minted.")
	ActiveCover           = gauge("active_cover_ether", "Active cover across all strategies, in ether.")
	MinCapitalRequirement = gauge("min_capital_requirement_ether", "Capital the pool must hold, in ether.")
	PoolAssets            = gauge("pool_assets_ether", "Native balance of the capital pool, in ether.")
	PendingClaims         = gauge("pending_claims", "Claims received but not yet withdrawn.")
)

// Infrastructure
var (
	ActiveWebSocketClients = gauge("active_websocket_clients", "Connected event stream clients.")
	ChainHeadBlock         = gauge("chain_head_block", "Latest block height observed from the RPC endpoint.")
)

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RegisterDB exports connection pool statistics for db. Registering the
// same pool name twice is a no-op.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// Middleware records request count and latency. Requests are labelled by
// route pattern so path ids do not mint new series.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
