// Package prometheus provides the client_golang implementation of
// metrics.SessionMetrics.
package prometheus

import (
	"time"

	"github.com/marmos91/netclass/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sessionMetrics is the Prometheus implementation of metrics.SessionMetrics.
type sessionMetrics struct {
	messagesTotal       *prometheus.CounterVec
	messageDuration     *prometheus.HistogramVec
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	ownedObjects        prometheus.Gauge
	pendingSnapshots    prometheus.Gauge
	snapshotsRelayed    prometheus.Counter
	snapshotRecords     prometheus.Histogram
}

// NewSessionMetrics creates a new Prometheus-backed SessionMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewSessionMetrics() metrics.SessionMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSessionMetrics()
	}

	reg := metrics.GetRegistry()

	return &sessionMetrics{
		messagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "messages_total",
				Help:      "Total number of dispatched messages by kind and status",
			},
			[]string{"kind", "status", "error_code"},
		),
		messageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "message_duration_microseconds",
				Help:      "Time spent handling one message in microseconds",
				Buckets: []float64{
					10,    // 10us
					100,   // 100us
					1000,  // 1ms
					10000, // 10ms
				},
			},
			[]string{"kind"},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "connections_accepted_total",
				Help:      "Total number of connections accepted into the session",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "connections_rejected_total",
				Help:      "Total number of connection attempts rejected by reason",
			},
			[]string{"reason"},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "connections_closed_total",
				Help:      "Total number of session clients that disconnected",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "active_connections",
				Help:      "Current number of connected clients",
			},
		),
		ownedObjects: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "owned_objects",
				Help:      "Current number of registered network objects",
			},
		),
		pendingSnapshots: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "pending_snapshots",
				Help:      "Current number of joining clients waiting for a snapshot",
			},
		),
		snapshotsRelayed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "snapshots_relayed_total",
				Help:      "Total number of snapshots relayed to joining clients",
			},
		),
		snapshotRecords: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "snapshot_records",
				Help:      "Distribution of records per relayed snapshot",
				Buckets:   []float64{0, 10, 100, 1000},
			},
		),
	}
}

func (m *sessionMetrics) RecordMessage(kind string, duration time.Duration, errorCode string) {
	status := "success"
	if errorCode != "" {
		status = "error"
	}

	m.messagesTotal.WithLabelValues(kind, status, errorCode).Inc()
	m.messageDuration.WithLabelValues(kind).Observe(float64(duration.Microseconds()))
}

func (m *sessionMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *sessionMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *sessionMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *sessionMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *sessionMetrics) SetOwnedObjects(count int) {
	m.ownedObjects.Set(float64(count))
}

func (m *sessionMetrics) SetPendingSnapshots(count int) {
	m.pendingSnapshots.Set(float64(count))
}

func (m *sessionMetrics) RecordSnapshotRelayed(records int) {
	m.snapshotsRelayed.Inc()
	m.snapshotRecords.Observe(float64(records))
}
