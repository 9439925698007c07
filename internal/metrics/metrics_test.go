package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func scrape(t *testing.T) string {
	t.Helper()
	r := gin.New()
	r.GET("/metrics", Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{
		101: "1xx", 200: "2xx", 201: "2xx", 302: "3xx",
		402: "4xx", 409: "4xx", 422: "4xx", 500: "5xx", 42: "other",
	} {
		assert.Equal(t, want, statusClass(code), "code %d", code)
	}
}

func TestHandler_ExportsRegistrySeries(t *testing.T) {
	body := scrape(t)
	assert.Contains(t, body, "agentregistry_registered_agents")
	assert.Contains(t, body, "agentregistry_active_websocket_clients")

	ObserveOperation("register")("ok")
	body = scrape(t)
	assert.Contains(t, body, `agentregistry_operations_total{operation="register",result="ok"}`)
	assert.Contains(t, body, "agentregistry_operation_duration_seconds")
}

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/agents/:address", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent_not_found"})
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/agents/:address", "4xx"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents/0xa11ce00000000000000000000000000000000001", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/agents/:address", "4xx"))
	assert.Equal(t, before+1, after)
}

func TestObserveOperation_LabelsResult(t *testing.T) {
	OperationsTotal.Reset()

	ObserveOperation("penalize")("penalty_too_large")
	ObserveOperation("penalize")("ok")
	ObserveOperation("penalize")("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("penalize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("penalize", "penalty_too_large")))
}

func TestRegisterDB_Idempotent(t *testing.T) {
	// sql.Open does not connect; the collector only reads pool stats.
	db, err := sql.Open("postgres", "postgres://localhost/none?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RegisterDB(db, "metrics_test"))
	require.NoError(t, RegisterDB(db, "metrics_test"))
	assert.Contains(t, scrape(t), `go_sql_open_connections{db_name="metrics_test"}`)
}
