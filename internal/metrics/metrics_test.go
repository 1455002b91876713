package metrics

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{
		101: "1xx", 200: "2xx", 201: "2xx", 304: "3xx",
		400: "4xx", 409: "4xx", 500: "5xx", 503: "5xx", 0: "5xx",
	} {
		assert.Equal(t, want, statusClass(code), "code %d", code)
	}
}

func TestRegisterDB_Idempotent(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost/unused?sslmode=disable")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, RegisterDB(db, "coverage_test"))
	assert.NoError(t, RegisterDB(db, "coverage_test"))

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/metrics", Handler())
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `go_sql_open_connections{db_name="coverage_test"}`)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("capacity exceeded")))
}

func TestHandler_ExposesCoverageGauges(t *testing.T) {
	ActiveCover.Set(12.5)
	PolicyOpsTotal.WithLabelValues("buy", Result(nil)).Inc()

	r := gin.New()
	r.GET("/metrics", Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, want := range []string{
		"solace_active_cover_ether 12.5",
		"solace_min_capital_requirement_ether",
		"solace_pending_claims",
		"solace_chain_head_block",
		"solace_active_websocket_clients",
		`solace_policy_operations_total{op="buy",result="ok"}`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/policies/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	for _, path := range []string{"/v1/policies/1", "/v1/policies/2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/policies/:id", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")))
}
