// Package metrics provides Prometheus observability for the ferry server:
// connection lifecycle, per-command outcomes, and transfer volume.
//
// The ServerMetrics interface is optional everywhere it is accepted; a
// nil value disables collection with zero overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics records protocol server activity.
type ServerMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the live connection gauge.
	SetActiveConnections(count int32)

	// RecordCommand records one completed command with its response
	// keyword and handling duration.
	RecordCommand(keyword, outcome string, duration time.Duration)

	// RecordBytesTransferred records payload bytes moved in the given
	// direction ("in" or "out").
	RecordBytesTransferred(direction string, bytes uint64)
}

// serverMetrics is the Prometheus-backed ServerMetrics implementation.
// All methods are nil-safe so callers never need to branch.
type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
}

// NewServerMetrics registers the ferry server collectors with reg and
// returns the recording handle.
func NewServerMetrics(reg prometheus.Registerer) ServerMetrics {
	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ferry_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ferry_connections_closed_total",
			Help: "Total number of closed client connections",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ferry_active_connections",
			Help: "Current number of active client connections",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ferry_commands_total",
			Help: "Total number of handled commands by keyword and response",
		}, []string{"command", "outcome"}),
		commandDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ferry_command_duration_seconds",
			Help:    "Command handling duration by keyword",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		bytesTransferred: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ferry_payload_bytes_total",
			Help: "Total payload bytes transferred by direction",
		}, []string{"direction"}),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordCommand(keyword, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(keyword, outcome).Inc()
	m.commandDuration.WithLabelValues(keyword).Observe(duration.Seconds())
}

func (m *serverMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	if m == nil {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
