package fed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks inbox and delivery activity for one engine instance.
type Metrics struct {
	// Inbox metrics
	InboxReceived   prometheus.Counter
	InboxRejected   *prometheus.CounterVec
	InboxDispatched *prometheus.CounterVec
	ListenerErrors  prometheus.Counter

	// Delivery metrics
	DeliveriesTotal  prometheus.Counter
	DeliveryFailures prometheus.Counter
	DeliveryLatency  prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics. A nil registry keeps
// the metrics private to this instance.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Metrics{
		InboxReceived: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "fedwire_inbox_received_total",
			Help: "Total number of inbound inbox requests",
		}),
		InboxRejected: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedwire_inbox_rejected_total",
			Help: "Inbound inbox requests rejected before dispatch",
		}, []string{"reason"}),
		InboxDispatched: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedwire_inbox_dispatched_total",
			Help: "Activities dispatched to a registered listener",
		}, []string{"variant"}),
		ListenerErrors: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "fedwire_inbox_listener_errors_total",
			Help: "Errors returned by inbox listeners",
		}),
		DeliveriesTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "fedwire_deliveries_total",
			Help: "Outbound activity deliveries attempted",
		}),
		DeliveryFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "fedwire_delivery_failures_total",
			Help: "Outbound activity deliveries that failed",
		}),
		DeliveryLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "fedwire_delivery_latency_seconds",
			Help:    "Latency of outbound activity deliveries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
