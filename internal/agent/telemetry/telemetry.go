package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Telemetry records run, worker, LLM and compensation metrics.
type Telemetry struct {
	logger *zap.Logger

	runs          otelmetric.Int64Counter
	runDuration   otelmetric.Float64Histogram
	leadsReturned otelmetric.Int64Counter
	workerCalls   otelmetric.Int64Counter
	workerLeads   otelmetric.Int64Counter
	workerLatency otelmetric.Float64Histogram
	llmCalls      otelmetric.Int64Counter
	llmTokens     otelmetric.Int64Counter
	actions       otelmetric.Int64Counter
}

// New creates the instruments on the given meter. Instrument errors are logged and the
// affected instrument stays nil; every Record method tolerates that.
func New(meter otelmetric.Meter, logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{logger: logger.Named("telemetry")}
	var err error
	if t.runs, err = meter.Int64Counter("prospect_runs_total",
		otelmetric.WithDescription("Prospecting runs by terminal status")); err != nil {
		t.initErr("prospect_runs_total", err)
	}
	if t.runDuration, err = meter.Float64Histogram("prospect_run_duration_seconds",
		otelmetric.WithDescription("Wall-clock duration of prospecting runs"),
		otelmetric.WithUnit("s")); err != nil {
		t.initErr("prospect_run_duration_seconds", err)
	}
	if t.leadsReturned, err = meter.Int64Counter("prospect_leads_returned_total",
		otelmetric.WithDescription("Leads returned in final run results")); err != nil {
		t.initErr("prospect_leads_returned_total", err)
	}
	if t.workerCalls, err = meter.Int64Counter("prospect_worker_invocations_total",
		otelmetric.WithDescription("Worker invocations by worker and outcome")); err != nil {
		t.initErr("prospect_worker_invocations_total", err)
	}
	if t.workerLeads, err = meter.Int64Counter("prospect_worker_leads_total",
		otelmetric.WithDescription("Leads returned by workers before aggregation")); err != nil {
		t.initErr("prospect_worker_leads_total", err)
	}
	if t.workerLatency, err = meter.Float64Histogram("prospect_worker_duration_seconds",
		otelmetric.WithDescription("Worker invocation latency"),
		otelmetric.WithUnit("s")); err != nil {
		t.initErr("prospect_worker_duration_seconds", err)
	}
	if t.llmCalls, err = meter.Int64Counter("prospect_llm_calls_total",
		otelmetric.WithDescription("Structured LLM calls by component and outcome")); err != nil {
		t.initErr("prospect_llm_calls_total", err)
	}
	if t.llmTokens, err = meter.Int64Counter("prospect_llm_tokens_total",
		otelmetric.WithDescription("Tokens consumed by structured LLM calls")); err != nil {
		t.initErr("prospect_llm_tokens_total", err)
	}
	if t.actions, err = meter.Int64Counter("prospect_compensation_actions_total",
		otelmetric.WithDescription("Compensation actions by verdict")); err != nil {
		t.initErr("prospect_compensation_actions_total", err)
	}
	return t
}

// NewGlobal uses the globally registered meter provider.
func NewGlobal(serviceName string, logger *zap.Logger) *Telemetry {
	return New(otel.Meter(serviceName), logger)
}

func (t *Telemetry) initErr(name string, err error) {
	t.logger.Warn("metric init failed", zap.String("metric", name), zap.Error(err))
}

// RecordRun records a finished run.
func (t *Telemetry) RecordRun(ctx context.Context, status string, d time.Duration, leads int) {
	if t == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	if t.runs != nil {
		t.runs.Add(ctx, 1, attrs)
	}
	if t.runDuration != nil {
		t.runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if t.leadsReturned != nil && leads > 0 {
		t.leadsReturned.Add(ctx, int64(leads), attrs)
	}
}

// RecordWorker records a single worker invocation.
func (t *Telemetry) RecordWorker(ctx context.Context, worker, outcome string, leads int, d time.Duration) {
	if t == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("worker", worker),
		attribute.String("outcome", outcome),
	)
	if t.workerCalls != nil {
		t.workerCalls.Add(ctx, 1, attrs)
	}
	if t.workerLeads != nil && leads > 0 {
		t.workerLeads.Add(ctx, int64(leads), otelmetric.WithAttributes(attribute.String("worker", worker)))
	}
	if t.workerLatency != nil {
		t.workerLatency.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordLLMCall records one attempt of a structured completion.
func (t *Telemetry) RecordLLMCall(ctx context.Context, component, outcome string, tokens int64) {
	if t == nil {
		return
	}
	if t.llmCalls != nil {
		t.llmCalls.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("component", component),
			attribute.String("outcome", outcome),
		))
	}
	if t.llmTokens != nil && tokens > 0 {
		t.llmTokens.Add(ctx, tokens, otelmetric.WithAttributes(attribute.String("component", component)))
	}
}

// RecordCompensation records how many proposed actions were accepted and discarded.
func (t *Telemetry) RecordCompensation(ctx context.Context, accepted, discarded int) {
	if t == nil || t.actions == nil {
		return
	}
	if accepted > 0 {
		t.actions.Add(ctx, int64(accepted), otelmetric.WithAttributes(attribute.String("verdict", "accepted")))
	}
	if discarded > 0 {
		t.actions.Add(ctx, int64(discarded), otelmetric.WithAttributes(attribute.String("verdict", "discarded")))
	}
}

// InstallPrometheus registers a Prometheus-backed meter provider globally. The exporter
// registers with the default Prometheus registry served by promhttp.Handler.
func InstallPrometheus() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider, nil
}
