// Package metrics exports the registry's Prometheus series.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentregistry"

// HTTP surface.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	ActiveWebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected event stream subscribers.",
	})
)

// Engine operations. result is "ok" or the error code returned to the caller.
var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Registry operations by operation and result code.",
	}, []string{"operation", "result"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Registry operation latency, storage included.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"operation"})
)

// Domain counters.
var (
	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_agents",
		Help:      "Agents registered through this process.",
	})

	ReputationAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reputation_awarded_total",
		Help:      "Reputation points earned by actions.",
	})

	ReputationPenalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reputation_penalized_total",
		Help:      "Reputation points removed by admin penalties.",
	})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Committed paid actions by price tier.",
	}, []string{"tier"})

	PaymentVolume = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_volume_total",
		Help:      "Value paid into the treasury.",
	})
)

// StoreRetriesTotal counts store transactions re-run after a serialization
// conflict, by SQLSTATE.
var StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "store",
	Name:      "retries_total",
	Help:      "Store transactions re-run after a conflict.",
}, []string{"sqlstate"})

// RegisterDB exports connection pool statistics for db. Registering the same
// pool twice is a no-op.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Middleware records latency and a status class per matched route. Unmatched
// paths share the empty route label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, route))
		c.Next()
		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).Inc()
	}
}

// ObserveOperation starts timing op. Call the returned func with the result.
func ObserveOperation(op string) func(result string) {
	timer := prometheus.NewTimer(OperationDuration.WithLabelValues(op))
	return func(result string) {
		timer.ObserveDuration()
		OperationsTotal.WithLabelValues(op, result).Inc()
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
