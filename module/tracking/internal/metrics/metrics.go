package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_samples_received_total",
		Help: "Location samples received, by ingress",
	}, []string{"source"})
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_samples_accepted_total",
		Help: "Location samples accepted by the evaluator",
	})
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_samples_rejected_total",
		Help: "Location samples rejected, by error code",
	}, []string{"code"})
	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_samples_dropped_total",
		Help: "Location samples dropped from full per-vehicle queues",
	})
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_alerts_emitted_total",
		Help: "Alert events emitted, by kind and severity",
	}, []string{"kind", "severity"})
	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_alerts_suppressed_total",
		Help: "Alert candidates suppressed by the cooldown",
	})
	PersistWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_persist_written_total",
		Help: "Items written to the store, by collection",
	}, []string{"collection"})
	PersistFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_persist_failed_total",
		Help: "Items that failed to persist after retry, by collection",
	}, []string{"collection"})
	PersistDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazard_persist_dropped_total",
		Help: "Items evicted from full overflow queues, by collection",
	}, []string{"collection"})
	HubDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_hub_delivered_total",
		Help: "Messages enqueued to subscriber outboxes",
	})
	HubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_hub_dropped_total",
		Help: "Messages evicted from full subscriber outboxes",
	})
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazard_ws_connections",
		Help: "Open session gateway connections",
	})
	RelayFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazard_relay_publish_failed_total",
		Help: "Events that could not be published to the broker",
	})
	EvalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hazard_evaluation_latency_seconds",
		Help:    "Latency of one sample evaluation",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})
)

func ObserveEvalLatency(start time.Time) {
	EvalLatency.Observe(time.Since(start).Seconds())
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
