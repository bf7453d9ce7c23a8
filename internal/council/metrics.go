package council

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for advisory rounds.
type Metrics struct {
	// RoundsTotal counts rounds by result: ok or failed.
	RoundsTotal *prometheus.CounterVec
}

// NewMetrics registers the round metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RoundsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "council_rounds_total",
					Help: "Total number of advisory rounds, by result",
				},
				[]string{"result"},
			),
		}
	})
	return globalMetrics
}
