package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Write path metrics
	WritesTotal   *prometheus.CounterVec
	WriteDuration *prometheus.HistogramVec

	// Replication metrics
	RepliedTotal    *prometheus.CounterVec
	ReplicationLag  prometheus.Gauge
	DroppedMessages prometheus.Counter

	// Outbox relay metrics
	OutboxPublished *prometheus.CounterVec
	OutboxPending   prometheus.Gauge

	// Idempotency metrics
	IdempotencyKeysReaped prometheus.Counter
}

// NewMetrics creates and registers Prometheus metrics with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propstream_writes_total",
				Help: "Total number of write requests by outcome",
			},
			[]string{"result"},
		),

		WriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propstream_write_duration_seconds",
				Help:    "Duration of write transaction processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		RepliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propstream_replication_messages_total",
				Help: "Total number of replication log messages by outcome",
			},
			[]string{"result"},
		),

		ReplicationLag: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "propstream_replication_lag_seconds",
				Help: "Seconds between the last processed message timestamp and now",
			},
		),

		DroppedMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "propstream_replication_dropped_total",
				Help: "Total number of replication messages dropped on store failure",
			},
		),

		OutboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propstream_outbox_published_total",
				Help: "Total number of outbox events by publish status",
			},
			[]string{"status"},
		),

		OutboxPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "propstream_outbox_pending",
				Help: "Current number of outbox rows awaiting publish",
			},
		),

		IdempotencyKeysReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "propstream_idempotency_keys_reaped_total",
				Help: "Total number of idempotency keys removed by the reaper",
			},
		),
	}
}

// RecordWrite records a write request outcome
func (m *Metrics) RecordWrite(result string, duration float64) {
	m.WritesTotal.WithLabelValues(result).Inc()
	m.WriteDuration.WithLabelValues(result).Observe(duration)
}

// RecordReplication records a replication message outcome
func (m *Metrics) RecordReplication(result string) {
	m.RepliedTotal.WithLabelValues(result).Inc()
}

// SetReplicationLag updates the replication lag gauge
func (m *Metrics) SetReplicationLag(seconds float64) {
	m.ReplicationLag.Set(seconds)
}

// RecordDropped records a dropped replication message
func (m *Metrics) RecordDropped() {
	m.DroppedMessages.Inc()
}

// RecordOutboxPublish records an outbox publish attempt
func (m *Metrics) RecordOutboxPublish(status string) {
	m.OutboxPublished.WithLabelValues(status).Inc()
}

// SetOutboxPending updates the pending outbox gauge
func (m *Metrics) SetOutboxPending(count int64) {
	m.OutboxPending.Set(float64(count))
}

// RecordReaped records reaped idempotency keys
func (m *Metrics) RecordReaped(count int64) {
	m.IdempotencyKeysReaped.Add(float64(count))
}
