// Package metrics collects Prometheus metrics for a blip.Connection via
// Config.MetricsHook: one counter or gauge per observable concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blipkit/blip/pkg/blip"
)

// Config configures the Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "blip").
	Namespace string
	// Subsystem is the metrics subsystem (default: "").
	Subsystem string
	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels
	// Registry is the Prometheus registry to register with.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

func WithNamespace(ns string) Option { return func(c *Config) { c.Namespace = ns } }
func WithSubsystem(ss string) Option { return func(c *Config) { c.Subsystem = ss } }
func WithConstLabels(l prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = l }
}
func WithRegistry(r prometheus.Registerer) Option { return func(c *Config) { c.Registry = r } }

func defaultConfig() Config {
	return Config{
		Namespace: "blip",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the Prometheus metrics for one or more blip connections.
type Collector struct {
	framesSent        *prometheus.CounterVec
	framesSentBytes   *prometheus.CounterVec
	acksSent          prometheus.Counter
	messagesCompleted *prometheus.CounterVec
	protocolErrors    prometheus.Counter
	activeConnections prometheus.Gauge
}

// New builds a Collector and registers its metrics.
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total BLIP frames sent, by message type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		framesSentBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frame_bytes_sent_total",
			Help:        "Total bytes of BLIP frame payload sent, by message type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		acksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "acks_sent_total",
			Help:        "Total ACK frames sent for inbound message flow control.",
			ConstLabels: cfg.ConstLabels,
		}),

		messagesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_completed_total",
			Help:        "Total messages fully sent, by message type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Total protocol errors observed (malformed frames, bad UTF-8, corrupt compression).",
			ConstLabels: cfg.ConstLabels,
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_connections",
			Help:        "Number of currently open blip connections instrumented with this collector.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Hook returns a blip.Config.MetricsHook suitable for blip.WithMetricsHook,
// translating the package's decoupled Event into the collector's series.
func (c *Collector) Hook() func(blip.Event) {
	return func(ev blip.Event) {
		switch ev.Kind {
		case "frame_sent":
			c.framesSent.WithLabelValues(ev.MessageType.String()).Inc()
			c.framesSentBytes.WithLabelValues(ev.MessageType.String()).Add(float64(ev.Bytes))
		case "ack_sent":
			c.acksSent.Inc()
		case "message_complete":
			c.messagesCompleted.WithLabelValues(ev.MessageType.String()).Inc()
		case "protocol_error":
			c.protocolErrors.Inc()
		}
	}
}

// ConnectionOpened increments the active-connections gauge. Call when a
// Connection is constructed.
func (c *Collector) ConnectionOpened() { c.activeConnections.Inc() }

// ConnectionClosed decrements the active-connections gauge. Call from
// blip.WithOnClose.
func (c *Collector) ConnectionClosed() { c.activeConnections.Dec() }
