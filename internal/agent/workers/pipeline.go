package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("wrrk-pilot/internal/agent/workers")

// pipeline records a StepRecord per step. After the first failing step the remaining
// steps are skipped, except classification, which always runs on whatever leads exist.
type pipeline struct {
	worker string
	trace  []core.StepRecord
	err    error
}

func newPipeline(worker string) *pipeline {
	return &pipeline{worker: worker}
}

// step runs fn unless an earlier step failed. fn returns the number of items it produced.
func (p *pipeline) step(ctx context.Context, name string, itemsIn int, fn func(ctx context.Context) (int, error)) {
	if p.err != nil {
		return
	}
	p.run(ctx, name, itemsIn, fn)
}

func (p *pipeline) run(ctx context.Context, name string, itemsIn int, fn func(ctx context.Context) (int, error)) error {
	ctx, span := tracer.Start(ctx, "worker."+name, trace.WithAttributes(
		attribute.String("worker", p.worker),
		attribute.Int("items_in", itemsIn),
	))
	defer span.End()

	rec := core.StepRecord{Name: name, StartedAt: time.Now(), ItemsIn: itemsIn}
	out, err := fn(ctx)
	rec.Duration = time.Since(rec.StartedAt)
	rec.ItemsOut = out
	span.SetAttributes(attribute.Int("items_out", out))
	if err != nil {
		rec.Error = err.Error()
		if p.err == nil {
			p.err = fmt.Errorf("%s: %w", name, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.trace = append(p.trace, rec)
	return err
}

// classify is the mandatory last step. Leads that cannot be classified are never returned.
func (p *pipeline) classify(ctx context.Context, classifier core.IntentClassifier, leads []core.Lead) core.WorkerResult {
	var (
		buyers  []core.Lead
		removed int
	)
	if len(leads) > 0 {
		err := p.run(ctx, "classify", len(leads), func(ctx context.Context) (int, error) {
			var err error
			buyers, removed, err = classifier.Classify(ctx, leads)
			return len(buyers), err
		})
		if err != nil {
			buyers, removed = nil, 0
		}
	}
	if buyers == nil {
		buyers = []core.Lead{}
	}
	res := core.WorkerResult{Success: p.err == nil, Leads: buyers, StepTrace: p.trace, SellersRemoved: removed}
	if p.err != nil {
		res.Error = p.err.Error()
	}
	return res
}
