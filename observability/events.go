package observability

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vestpay/core/events"
	"vestpay/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured settlement events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestpay",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of settlement events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the event counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// EventRecorder implements events.Emitter by logging every event and feeding
// the event counter. It is the default emitter wired into the engine by the
// daemon.
type EventRecorder struct {
	logger *slog.Logger
}

// NewEventRecorder builds an emitter over the given logger.
func NewEventRecorder(logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{logger: logger}
}

// Emit implements the events.Emitter interface.
func (r *EventRecorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	Events().Record(evt.EventType())
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				args = append(args, k, v)
			}
		}
	}
	r.logger.Info("event emitted", args...)
}
