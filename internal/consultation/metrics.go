package consultation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for consultation branches.
type Metrics struct {
	BranchesTotal  *prometheus.CounterVec
	BranchDuration *prometheus.HistogramVec
	MemoryFailures *prometheus.CounterVec
}

// NewMetrics registers the consultation metrics once per process.
//
// Metrics:
//   - council_consultation_branches_total{agent_type,result} - result is ok, degraded or timeout
//   - council_consultation_branch_duration_seconds{agent_type}
//   - council_consultation_memory_failures_total{agent_type} - lookups that failed or timed out
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			BranchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "council_consultation_branches_total",
					Help: "Total number of specialist branches run, by outcome",
				},
				[]string{"agent_type", "result"},
			),
			BranchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "council_consultation_branch_duration_seconds",
					Help:    "Duration of specialist branches in seconds",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
				},
				[]string{"agent_type"},
			),
			MemoryFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "council_consultation_memory_failures_total",
					Help: "Total number of memory lookups that failed or timed out",
				},
				[]string{"agent_type"},
			),
		}
	})
	return globalMetrics
}
