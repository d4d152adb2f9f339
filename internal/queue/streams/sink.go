package streams

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// RunEventSink mirrors run progress events onto one Redis stream per run.
type RunEventSink struct {
	publisher *Publisher
	prefix    string
	maxLen    int64
	logger    *zap.Logger
}

// NewRunEventSink creates a sink writing to "<prefix>:<run_id>".
func NewRunEventSink(publisher *Publisher, cfg config.EventsConfig, logger *zap.Logger) *RunEventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.StreamPrefix
	if prefix == "" {
		prefix = "pilot:events"
	}
	return &RunEventSink{publisher: publisher, prefix: prefix, maxLen: cfg.MaxLen, logger: logger.Named("streams")}
}

// Stream names the stream that carries a run's events.
func (s *RunEventSink) Stream(runID string) string {
	return s.prefix + ":" + runID
}

// Emit publishes evt. Failures are logged; the run never waits on Redis beyond publishTimeout.
func (s *RunEventSink) Emit(ctx context.Context, evt core.Event) {
	data, err := json.Marshal(evt.Payload())
	if err != nil {
		s.logger.Warn("encode event", zap.String("run_id", evt.RunID), zap.Error(err))
		return
	}
	env := Envelope{
		EventType:      string(evt.Type),
		RunID:          evt.RunID,
		OccurredAt:     evt.OccurredAt,
		PayloadVersion: PayloadVersion,
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}

	// The run context may already be cancelled when terminal events go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := s.publisher.Publish(pubCtx, s.Stream(evt.RunID), env, WithMaxLenApprox(s.maxLen)); err != nil {
		s.logger.Warn("publish event",
			zap.String("run_id", evt.RunID),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
	}
}
