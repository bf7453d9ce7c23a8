package synthesis

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for synthesis and persistence.
type Metrics struct {
	PersistTotal   *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
}

// NewMetrics registers the synthesis metrics once per process.
//
// Metrics:
//   - council_persist_total{kind,result} - kind is decision or experiences
//   - council_synthesis_fallbacks_total{reason} - reason is no_responses or completion_failed
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PersistTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "council_persist_total",
					Help: "Total number of round persistence writes, by kind and result",
				},
				[]string{"kind", "result"},
			),
			FallbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "council_synthesis_fallbacks_total",
					Help: "Total number of synthesis fallbacks, by reason",
				},
				[]string{"reason"},
			),
		}
	})
	return globalMetrics
}
