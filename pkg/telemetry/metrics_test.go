package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordDispatch(t *testing.T) {
	reader := installManualReader(t)
	ctx := context.Background()

	RecordDispatch(ctx, DispatchMetrics{
		Resource:   "/tasks/{id}",
		Method:     "GET",
		StatusCode: 200,
		Duration:   150 * time.Millisecond,
		Attempts:   2,
		Refreshed:  true,
	})

	metrics := collect(t, reader)

	sumReq, ok := metrics["gateway.dispatch.requests_total"]
	if !ok {
		t.Fatalf("missing gateway.dispatch.requests_total metric")
	}
	reqData, ok := sumReq.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for requests metric")
	}
	if len(reqData.DataPoints) != 1 || reqData.DataPoints[0].Value != 1 {
		t.Fatalf("expected one request datapoint with value 1, got %+v", reqData.DataPoints)
	}
	if value, ok := reqData.DataPoints[0].Attributes.Value(attribute.Key("gateway.resource")); !ok || value.AsString() != "/tasks/{id}" {
		t.Fatalf("expected gateway.resource attribute /tasks/{id}, got %v", value)
	}
	if value, ok := reqData.DataPoints[0].Attributes.Value(attribute.Key("gateway.auth.refreshed")); !ok || !value.AsBool() {
		t.Fatalf("expected gateway.auth.refreshed attribute true")
	}

	attempts := metrics["gateway.dispatch.attempts_total"].Data.(metricdata.Sum[int64])
	if attempts.DataPoints[0].Value != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.DataPoints[0].Value)
	}

	hist, ok := metrics["gateway.dispatch.duration_ms"]
	if !ok {
		t.Fatalf("missing gateway.dispatch.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 || histData.DataPoints[0].Sum != 150 {
		t.Fatalf("unexpected histogram datapoint %+v", histData.DataPoints[0])
	}
}

func TestRecordTokenRefresh(t *testing.T) {
	reader := installManualReader(t)
	ctx := context.Background()

	RecordTokenRefresh(ctx, "refreshed", 20*time.Millisecond)
	RecordTokenRefresh(ctx, "failed", 5*time.Millisecond)
	RecordTokenRefresh(ctx, "refreshed", 10*time.Millisecond)

	metrics := collect(t, reader)
	sum, ok := metrics["gateway.token.refresh_total"]
	if !ok {
		t.Fatalf("missing gateway.token.refresh_total metric")
	}

	byOutcome := map[string]int64{}
	for _, dp := range sum.Data.(metricdata.Sum[int64]).DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("gateway.refresh.outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	if byOutcome["refreshed"] != 2 || byOutcome["failed"] != 1 {
		t.Fatalf("unexpected refresh counts %v", byOutcome)
	}
}

func TestRecordAuthEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "dispatch")
	AnnotateDispatch(span, "/tasks/{id}", "TaskDetailAPI")
	RecordAuthEvent(span, "gateway.auth.refresh", 1, errors.New("refresh rejected"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "gateway.auth.refresh" {
		t.Fatalf("unexpected events %+v", events)
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if value, ok := attrs.Value(attribute.Key("gateway.auth.failed")); !ok || !value.AsBool() {
		t.Fatalf("expected gateway.auth.failed attribute true")
	}

	spanAttrs := attribute.NewSet(spans[0].Attributes()...)
	if value, ok := spanAttrs.Value(attribute.Key("gateway.route.label")); !ok || value.AsString() != "TaskDetailAPI" {
		t.Fatalf("expected route label attribute, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestTraceIDEmptyWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if got := TraceID(ctx); len(got) != 32 {
		t.Fatalf("expected 32 hex trace id, got %q", got)
	}
}
