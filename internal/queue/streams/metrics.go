package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	envelopeBytes     otelmetric.Int64Histogram
)

func initStreamMetrics() {
	meter := otel.Meter("wrrk-pilot/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"run_events_published_total",
		otelmetric.WithDescription("Run progress events written to Redis streams by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	envelopeBytes, err = meter.Int64Histogram(
		"run_event_envelope_bytes",
		otelmetric.WithDescription("Encoded size of published run event envelopes"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordPublish(ctx context.Context, eventType, outcome string, size int) {
	streamMetricsOnce.Do(initStreamMetrics)
	ctx = contextOrBackground(ctx)
	attrs := otelmetric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	if eventsPublished != nil {
		eventsPublished.Add(ctx, 1, attrs)
	}
	if envelopeBytes != nil && size > 0 {
		envelopeBytes.Record(ctx, int64(size), otelmetric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
