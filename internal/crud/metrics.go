package crud

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the engine's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crud_operations_total",
			Help: "CRUD operations by entity, action and envelope status.",
		}, []string{"entity", "action", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crud_operation_duration_seconds",
			Help:    "CRUD operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity", "action"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

func (m *Metrics) observe(entity string, action Action, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(entity, string(action), string(status)).Inc()
	m.duration.WithLabelValues(entity, string(action)).Observe(d.Seconds())
}
