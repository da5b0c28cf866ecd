package blip

import (
	"log/slog"
	"time"

	"github.com/blipkit/blip/pkg/scheduler"
)

// DefaultFrameSize is the largest slice of a message's payload the
// connection puts in a single frame.
const DefaultFrameSize = 4096

// Config collects a Connection's tunables, set via functional options
// following the usual ServerConfig/MetricsConfig pattern.
type Config struct {
	FrameSize        int
	AckThreshold     uint64
	AckWindow        uint64
	MaxMessageSize   int
	SendBufferSize   int
	WriteTimeout     time.Duration
	IdlePingInterval time.Duration
	Logger           *slog.Logger
	Scheduler        scheduler.Scheduler
	Compressor       Compressor
	OnClose          func(CloseInfo)

	MetricsHook func(Event)
	Tracer      Tracer
}

// Event names the observable points a metrics/tracing hook can key off of
// without this package importing pkg/metrics or pkg/tracing directly.
type Event struct {
	Kind          string // "frame_sent", "ack_sent", "message_complete", "protocol_error"
	MessageNumber MessageNo
	MessageType   MessageType
	Bytes         int
}

// Tracer is the minimal span-starting capability Connection needs; it is
// satisfied by pkg/tracing.Tracer (itself a thin wrapper over
// go.opentelemetry.io/otel/trace.Tracer) without this package depending on
// OpenTelemetry directly.
type Tracer interface {
	StartMessageSpan(number MessageNo, kind string) (end func())
}

// CloseInfo is passed to Config.OnClose once, when the connection's final
// close status is known.
type CloseInfo struct {
	Code    int
	Message string
	Err     error
}

type Option func(*Config)

func defaultConfig() Config {
	return Config{
		FrameSize:      DefaultFrameSize,
		AckThreshold:   AckThreshold,
		AckWindow:      DefaultAckWindow,
		MaxMessageSize: 1 * 1024 * 1024,
		SendBufferSize: 64 * 1024,
		WriteTimeout:   10 * time.Second,
		Logger:         slog.Default(),
		Scheduler:      scheduler.NewDefault(),
		Compressor:     DefaultCompressor,
	}
}

func WithFrameSize(n int) Option {
	return func(c *Config) { c.FrameSize = n }
}

func WithAckThreshold(n uint64) Option {
	return func(c *Config) { c.AckThreshold = n }
}

func WithAckWindow(n uint64) Option {
	return func(c *Config) { c.AckWindow = n }
}

func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

func WithSendBufferSize(n int) Option {
	return func(c *Config) { c.SendBufferSize = n }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.WriteTimeout = d }
}

func WithIdlePing(d time.Duration) Option {
	return func(c *Config) { c.IdlePingInterval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithScheduler(s scheduler.Scheduler) Option {
	return func(c *Config) {
		if s != nil {
			c.Scheduler = s
		}
	}
}

func WithCompressor(c Compressor) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.Compressor = c
		}
	}
}

func WithOnClose(fn func(CloseInfo)) Option {
	return func(c *Config) { c.OnClose = fn }
}

func WithMetricsHook(fn func(Event)) Option {
	return func(c *Config) { c.MetricsHook = fn }
}

func WithTracer(t Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}
