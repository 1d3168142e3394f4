package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	LoansCreated  prometheus.Counter
	LoansReturned prometheus.Counter
	Conflicts     *prometheus.CounterVec

	requestSeconds *prometheus.HistogramVec
}

// New registers the lending collectors on the given registry
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoansCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_loans_created_total",
			Help: "Loans successfully created.",
		}),
		LoansReturned: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_loans_returned_total",
			Help: "Loans successfully returned.",
		}),
		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_conflicts_total",
			Help: "Requests rejected by a business rule or a lost race.",
		}, []string{"reason"}),
		requestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Middleware records per-request latency labeled by the matched route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}
		m.requestSeconds.
			WithLabelValues(c.Method(), path, strconv.Itoa(c.Response().StatusCode())).
			Observe(time.Since(start).Seconds())
		return err
	}
}
