package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	// ZapLogger wraps a *zap.Logger for runtime logging.
	ZapLogger struct {
		l *zap.Logger
	}

	// OTelMetrics wraps an OpenTelemetry meter for runtime instrumentation.
	OTelMetrics struct {
		meter      otelmetric.Meter
		counters   map[string]otelmetric.Float64Counter
		histograms map[string]otelmetric.Float64Histogram
		gauges     map[string]otelmetric.Float64Gauge
	}

	// OTelTracer wraps an OpenTelemetry tracer for runtime tracing.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewZapLogger constructs a Logger backed by the supplied zap logger. Passing
// nil uses zap.NewNop(), matching the no-op default used by the in-memory
// controller wiring in tests.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{l: l}
}

func (z *ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.l.Sugar().Debugw(msg, keyvals...)
}
func (z *ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.l.Sugar().Infow(msg, keyvals...)
}
func (z *ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.l.Sugar().Warnw(msg, keyvals...)
}
func (z *ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.l.Sugar().Errorw(msg, keyvals...)
}

// NewOTelMetrics constructs a Metrics recorder that delegates to the global
// OTEL MeterProvider under the given instrumentation scope name.
func NewOTelMetrics(scope string) Metrics {
	return &OTelMetrics{
		meter:      otel.Meter(scope),
		counters:   make(map[string]otelmetric.Float64Counter),
		histograms: make(map[string]otelmetric.Float64Histogram),
		gauges:     make(map[string]otelmetric.Float64Gauge),
	}
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, otelmetric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(context.Background(), float64(duration.Milliseconds()), otelmetric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, otelmetric.WithAttributes(tagsToAttrs(tags)...))
}

// NewOTelTracer constructs a Tracer that delegates to the global
// OTEL TracerProvider under the given instrumentation scope name.
func NewOTelTracer(scope string) Tracer {
	return &OTelTracer{tracer: otel.Tracer(scope)}
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	c, span := t.tracer.Start(ctx, name, opts...)
	return c, &otelSpan{span: span}
}

func (t *OTelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption)             { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any)          { s.span.AddEvent(name) }
func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
