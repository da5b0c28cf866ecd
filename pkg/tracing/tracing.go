// Package tracing wraps an OpenTelemetry tracer so it can satisfy
// blip.Tracer: one span per BLIP message.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blipkit/blip/pkg/blip"
)

const defaultTracerName = "blipkit/blip"

// Config configures a Tracer.
type Config struct {
	// TracerName names the tracer (default: "blipkit/blip").
	TracerName string
	// Context is the parent context spans are started from. Defaults to
	// context.Background() if unset — BLIP's actor model has no natural
	// per-request context to thread through, unlike an HTTP handler.
	Context context.Context
}

type Option func(*Config)

func WithTracerName(name string) Option { return func(c *Config) { c.TracerName = name } }
func WithContext(ctx context.Context) Option {
	return func(c *Config) { c.Context = ctx }
}

// Tracer implements blip.Tracer over an OpenTelemetry trace.Tracer.
type Tracer struct {
	tracer trace.Tracer
	ctx    context.Context
}

// New resolves a tracer from the global OpenTelemetry provider, the same
// convention middleware.OpenTelemetry relies on: configure the provider in
// main() before constructing a blip.Connection with this tracer.
func New(opts ...Option) *Tracer {
	cfg := Config{TracerName: defaultTracerName, Context: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracer{tracer: otel.Tracer(cfg.TracerName), ctx: cfg.Context}
}

// StartMessageSpan implements blip.Tracer: starts a span named by kind
// ("send", "receive") tagged with the message number, returning a func that
// ends it with Ok status. The returned func takes no error; EndWithError is a
// separate helper for a trace.Span the caller holds itself.
func (t *Tracer) StartMessageSpan(number blip.MessageNo, kind string) (end func()) {
	_, span := t.tracer.Start(t.ctx, "blip."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("blip.message_number", int64(number))),
	)
	return func() {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
}

// EndWithError ends a span started by StartMessageSpan, recording err as a
// failed span status instead of Ok. Pass the *trace.Span captured via a
// closure if finer control than StartMessageSpan's end func is needed.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
