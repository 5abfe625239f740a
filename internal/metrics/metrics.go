package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	StoreRequests      *prometheus.CounterVec
	StoreLatency       *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec
	BatchesFlushed     *prometheus.CounterVec
	BatchItems         *prometheus.HistogramVec
	FlowTimeouts       *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_incoming_messages_total",
				Help:      "Total incoming WhatsApp messages processed.",
			}, []string{"type"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_store_requests_total",
				Help:      "Total backing record store requests by operation and outcome.",
			}, []string{"operation", "status"}),
			StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_store_request_duration_seconds",
				Help:      "Latency distribution for backing record store calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "write_behind_queue_depth",
				Help:      "Items currently waiting in each write-behind queue.",
			}, []string{"queue"}),
			BatchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_behind_batches_total",
				Help:      "Write-behind batches flushed by queue and outcome.",
			}, []string{"queue", "status"}),
			BatchItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_behind_batch_items",
				Help:      "Number of items per flushed batch.",
				Buckets:   []float64{1, 2, 3, 5, 8, 10},
			}, []string{"queue"}),
			FlowTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_timeouts_total",
				Help:      "Flow inactivity actions taken by the supervisor.",
			}, []string{"flow", "action"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WAIncomingMessages,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.StoreRequests,
			metricsInstance.StoreLatency,
			metricsInstance.QueueDepth,
			metricsInstance.BatchesFlushed,
			metricsInstance.BatchItems,
			metricsInstance.FlowTimeouts,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
