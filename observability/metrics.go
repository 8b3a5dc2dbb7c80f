package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VestingMetrics records settlement activity: operations by outcome, payout
// totals and handler latency.
type VestingMetrics struct {
	operations *prometheus.CounterVec
	payouts    prometheus.Counter
	latency    *prometheus.HistogramVec
}

var (
	vestingMetricsOnce sync.Once
	vestingRegistry    *VestingMetrics
)

// Metrics returns the lazily-initialised settlement metrics registry.
func Metrics() *VestingMetrics {
	vestingMetricsOnce.Do(func() {
		vestingRegistry = &VestingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestpay",
				Subsystem: "vesting",
				Name:      "operations_total",
				Help:      "Vesting operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			payouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestpay",
				Subsystem: "vesting",
				Name:      "payouts_total",
				Help:      "Number of settlement transfers handed to the ledger.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vestpay",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(vestingRegistry.operations, vestingRegistry.payouts, vestingRegistry.latency)
	})
	return vestingRegistry
}

// RecordOperation counts one engine operation with its outcome label.
func (m *VestingMetrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordPayouts counts settlement transfers executed against the ledger.
func (m *VestingMetrics) RecordPayouts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.payouts.Add(float64(n))
}

// ObserveRequest records handler latency for one JSON-RPC method.
func (m *VestingMetrics) ObserveRequest(method string, started time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
