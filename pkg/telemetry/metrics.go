package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	dispatchCounter          metric.Int64Counter
	dispatchAttemptCounter   metric.Int64Counter
	dispatchLatencyHistogram metric.Float64Histogram
	refreshCounter           metric.Int64Counter
	refreshLatencyHistogram  metric.Float64Histogram
)

// DispatchMetrics captures one resource call made on behalf of a client.
type DispatchMetrics struct {
	Resource   string
	Method     string
	StatusCode int
	Kind       string
	Duration   time.Duration
	Attempts   int
	Refreshed  bool
}

// RecordDispatch emits counters and histograms describing a backend dispatch.
func RecordDispatch(ctx context.Context, m DispatchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("gateway.resource", m.Resource),
		attribute.String("http.request.method", m.Method),
		attribute.String("http.response.status_code", strconv.Itoa(m.StatusCode)),
		attribute.String("gateway.error.kind", m.Kind),
		attribute.Bool("gateway.auth.refreshed", m.Refreshed),
	}

	dispatchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Attempts > 0 {
		dispatchAttemptCounter.Add(ctx, int64(m.Attempts), metric.WithAttributes(attrs...))
	}

	if m.Duration > 0 {
		dispatchLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordTokenRefresh counts a refresh attempt by outcome.
func RecordTokenRefresh(ctx context.Context, outcome string, d time.Duration) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("gateway.refresh.outcome", outcome))
	refreshCounter.Add(ctx, 1, attrs)
	if d > 0 {
		refreshLatencyHistogram.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("taskgate.gateway")

		dispatchCounter, metricsInitErr = meter.Int64Counter(
			"gateway.dispatch.requests_total",
			metric.WithDescription("Resource calls dispatched to the backend partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		dispatchAttemptCounter, metricsInitErr = meter.Int64Counter(
			"gateway.dispatch.attempts_total",
			metric.WithDescription("Backend HTTP attempts, including the replay after a refresh"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		dispatchLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gateway.dispatch.duration_ms",
			metric.WithDescription("Observed end-to-end dispatch latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		refreshCounter, metricsInitErr = meter.Int64Counter(
			"gateway.token.refresh_total",
			metric.WithDescription("Token refresh attempts partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		refreshLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gateway.token.refresh_duration_ms",
			metric.WithDescription("Observed latency of refresh endpoint calls"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordAuthEvent attaches an auth lifecycle event to the provided span without leaking
// token material.
func RecordAuthEvent(span trace.Span, name string, attempt int, err error) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("gateway.attempt", attempt),
		attribute.Bool("gateway.auth.failed", err != nil),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("gateway.auth.error", err.Error()))
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// AnnotateDispatch sets the resource and route label of a dispatch on the span.
func AnnotateDispatch(span trace.Span, resource, label string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.String("gateway.resource", resource))
	if label != "" {
		span.SetAttributes(attribute.String("gateway.route.label", label))
	}
}
