// Package prometheus provides a Prometheus implementation of the
// sparkle.Metrics interface.
//
// All metrics use the configured namespace prefix (default:
// "sparkle").
//
// # Counters
//
//	sparkle_packets_sent_total{opcode="<name>"}
//	sparkle_packets_received_total{opcode="<name>"}
//	sparkle_bytes_sent_total{opcode="<name>"}
//	sparkle_bytes_received_total{opcode="<name>"}
//	sparkle_packets_dropped_total{reason="malformed|unexpected|crypto|unknown_opcode"}
//	sparkle_handshake_results_total{result="success|failure|timeout"}
//	sparkle_join_results_total{result="success|failure"}
//	sparkle_role_changes_total{role="master|slave"}
//	sparkle_encryption_errors_total
//	sparkle_decryption_errors_total
//	sparkle_events_dropped_total
//	sparkle_messages_dropped_total
//
// # Histograms
//
//	sparkle_handshake_duration_seconds
//
// # Gauges
//
//	sparkle_current_routes
//
// # Example Usage
//
//	metrics := prommetrics.NewMetrics("myapp")
//	cfg := sparkle.NewConfig(key, addr, sparkle.WithMetrics(metrics))
//	node, err := sparkle.New(cfg)
//	// ...
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShiRenzhi/sparkle"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "sparkle"

// Metrics implements the sparkle.Metrics interface using Prometheus
// metrics.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec

	handshakeResults  *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	joinResults       *prometheus.CounterVec
	roleChanges       *prometheus.CounterVec

	currentRoutes prometheus.Gauge

	encryptionErrors prometheus.Counter
	decryptionErrors prometheus.Counter
	eventsDropped    prometheus.Counter
	messagesDropped  prometheus.Counter
}

// Ensure Metrics implements sparkle.Metrics.
var _ sparkle.Metrics = (*Metrics)(nil)

// NewMetrics creates a Prometheus metrics collector registered with
// the default registry. Panics when registration fails; use
// NewMetricsWithRegisterer with a custom registry to avoid that.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a Prometheus metrics collector with
// the given namespace and registerer. If namespace is empty,
// DefaultNamespace is used. If registerer is nil, metrics are not
// registered automatically.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total number of packets transmitted",
		}, []string{"opcode"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of packets received",
		}, []string{"opcode"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes transmitted",
		}, []string{"opcode"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received",
		}, []string{"opcode"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped before handling",
		}, []string{"reason"}),
		handshakeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_results_total",
			Help:      "Total number of key negotiations by result",
		}, []string{"result"}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of successful key negotiations",
			Buckets:   prometheus.DefBuckets,
		}),
		joinResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_results_total",
			Help:      "Total number of join attempts by result",
		}, []string{"result"}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_changes_total",
			Help:      "Total number of local role changes",
		}, []string{"role"}),
		currentRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_routes",
			Help:      "Current number of routed peers including self",
		}),
		encryptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encryption_errors_total",
			Help:      "Total number of encryption errors",
		}),
		decryptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryption_errors_total",
			Help:      "Total number of decryption errors",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped due to buffer full",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of data frames dropped due to buffer full",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.packetsSent, m.packetsReceived, m.bytesSent, m.bytesReceived,
			m.packetsDropped, m.handshakeResults, m.handshakeDuration,
			m.joinResults, m.roleChanges, m.currentRoutes,
			m.encryptionErrors, m.decryptionErrors,
			m.eventsDropped, m.messagesDropped,
		)
	}

	return m
}

// PacketSent implements sparkle.Metrics.
func (m *Metrics) PacketSent(opcode string, bytes int) {
	m.packetsSent.WithLabelValues(opcode).Inc()
	m.bytesSent.WithLabelValues(opcode).Add(float64(bytes))
}

// PacketReceived implements sparkle.Metrics.
func (m *Metrics) PacketReceived(opcode string, bytes int) {
	m.packetsReceived.WithLabelValues(opcode).Inc()
	m.bytesReceived.WithLabelValues(opcode).Add(float64(bytes))
}

// PacketDropped implements sparkle.Metrics.
func (m *Metrics) PacketDropped(reason string) {
	m.packetsDropped.WithLabelValues(reason).Inc()
}

// HandshakeResult implements sparkle.Metrics.
func (m *Metrics) HandshakeResult(result string) {
	m.handshakeResults.WithLabelValues(result).Inc()
}

// HandshakeDuration implements sparkle.Metrics.
func (m *Metrics) HandshakeDuration(seconds float64) {
	m.handshakeDuration.Observe(seconds)
}

// JoinResult implements sparkle.Metrics.
func (m *Metrics) JoinResult(result string) {
	m.joinResults.WithLabelValues(result).Inc()
}

// RoleChanged implements sparkle.Metrics.
func (m *Metrics) RoleChanged(role string) {
	m.roleChanges.WithLabelValues(role).Inc()
}

// RoutingTableSize implements sparkle.Metrics.
func (m *Metrics) RoutingTableSize(n int) {
	m.currentRoutes.Set(float64(n))
}

// EncryptionError implements sparkle.Metrics.
func (m *Metrics) EncryptionError() {
	m.encryptionErrors.Inc()
}

// DecryptionError implements sparkle.Metrics.
func (m *Metrics) DecryptionError() {
	m.decryptionErrors.Inc()
}

// EventDropped implements sparkle.Metrics.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// MessageDropped implements sparkle.Metrics.
func (m *Metrics) MessageDropped() {
	m.messagesDropped.Inc()
}
