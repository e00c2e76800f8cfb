package prometheus

import (
	"time"

	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// transferMetrics is the Prometheus implementation of metrics.TransferMetrics.
type transferMetrics struct {
	messagesTotal          *prometheus.CounterVec
	messageDuration        *prometheus.HistogramVec
	bytesWritten           prometheus.Counter
	chunkSize              prometheus.Histogram
	sessionsOpen           prometheus.Gauge
	sessionsEnded          *prometheus.CounterVec
	promotionsTotal        *prometheus.CounterVec
	promotionDuration      prometheus.Histogram
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	rateLimited            prometheus.Counter
}

// NewTransferMetrics creates a Prometheus-backed TransferMetrics registered
// on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopTransferMetrics()
	}
	return newTransferMetrics(metrics.GetRegistry())
}

func newTransferMetrics(reg prometheus.Registerer) *transferMetrics {
	return &transferMetrics{
		messagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_messages_total",
				Help: "Total number of upload protocol messages by type and status",
			},
			[]string{"type", "status", "error_code"},
		),
		messageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittostore_transfer_message_duration_milliseconds",
				Help: "Duration of upload protocol message handling in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"type"},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_bytes_written_total",
				Help: "Total chunk bytes written to staging",
			},
		),
		chunkSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittostore_transfer_chunk_size_bytes",
				Help: "Distribution of chunk payload sizes",
				Buckets: []float64{
					4096,     // 4KB
					65536,    // 64KB
					1048576,  // 1MB
					10485760, // 10MB
				},
			},
		),
		sessionsOpen: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittostore_transfer_sessions_open",
				Help: "Current number of open upload sessions",
			},
		),
		sessionsEnded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_sessions_ended_total",
				Help: "Total number of upload sessions ended, by reason",
			},
			[]string{"reason"},
		),
		promotionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_promotions_total",
				Help: "Total number of promote requests by status",
			},
			[]string{"status"},
		),
		promotionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittostore_transfer_promotion_duration_seconds",
				Help:    "Duration of staging to permanent copies in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 7),
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittostore_transfer_active_connections",
				Help: "Current number of active transfer connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_connections_accepted_total",
				Help: "Total number of transfer connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_connections_closed_total",
				Help: "Total number of transfer connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_connections_force_closed_total",
				Help: "Total number of transfer connections force-closed during shutdown timeout",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittostore_transfer_rate_limited_total",
				Help: "Total number of messages rejected by the rate limiter",
			},
		),
	}
}

func (m *transferMetrics) RecordMessage(msgType string, duration time.Duration, code string) {
	status := "success"
	if code != "" {
		status = "error"
	}

	m.messagesTotal.WithLabelValues(msgType, status, code).Inc()
	m.messageDuration.WithLabelValues(msgType).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *transferMetrics) RecordBytesWritten(bytes int) {
	m.bytesWritten.Add(float64(bytes))
	m.chunkSize.Observe(float64(bytes))
}

func (m *transferMetrics) RecordSessionStarted() {
	m.sessionsOpen.Inc()
}

func (m *transferMetrics) RecordSessionEnded(reason string) {
	m.sessionsOpen.Dec()
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *transferMetrics) RecordPromotion(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.promotionsTotal.WithLabelValues(status).Inc()
	m.promotionDuration.Observe(duration.Seconds())
}

func (m *transferMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *transferMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *transferMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *transferMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *transferMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
