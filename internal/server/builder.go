package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/agent/telemetry"
	"github.com/samz905/wrrk-pilot/internal/agent/workers"
	"github.com/samz905/wrrk-pilot/internal/events"
	"github.com/samz905/wrrk-pilot/internal/queue/streams"
	"github.com/samz905/wrrk-pilot/internal/store"
	"go.uber.org/zap"
)

// Runtime is the wired prospecting stack plus the resources it owns.
type Runtime struct {
	Orchestrator *core.Orchestrator
	Hub          *events.Hub
	Runs         core.RunRepository
	// Replay and Streams are nil unless events.redis_stream_enabled is set.
	Replay  *streams.Reader
	Streams *streams.RunEventSink

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Close releases storage and stream connections. Only the first call does anything.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// Shutdown interrupts in-flight runs, waits for their terminal state to be stored and
// published within ctx, and then closes the runtime.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.Orchestrator != nil {
		if err := r.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop runs: %w", err))
		}
	}
	if err := r.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BuildRuntime wires the configured LLM provider into a new runtime.
func BuildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return NewRuntime(ctx, cfg, logger, provider)
}

// NewRuntime wires planner, classifier, workers, compensation agent, event sinks and
// run storage around the given provider.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, provider core.LLMProvider) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.NewGlobal(cfg.Telemetry.ServiceName, logger)
	}

	rt := &Runtime{Hub: events.NewHub(cfg.Storage.ResultTTL, logger)}
	runs, closeRuns, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.Runs = runs
	rt.closers = append(rt.closers, closeRuns)

	sinks := core.MultiSink{rt.Hub}
	if cfg.Events.RedisStreamEnabled {
		client, err := store.Conn(ctx, cfg.Storage.Redis)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("connect redis for event streams: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		registry, err := streams.NewDefaultRegistry()
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Streams = streams.NewRunEventSink(streams.NewPublisher(client, registry), cfg.Events, logger)
		rt.Replay = streams.NewReader(client, registry)
		sinks = append(sinks, rt.Streams)
	}

	llm := core.NewLLMClient(provider, tele, logger)
	classifier := core.NewIntentClassifier(cfg, llm, logger)
	orch, err := core.NewOrchestrator(cfg, logger, tele, core.Dependencies{
		Planner:     core.NewStrategyPlanner(cfg, llm, logger),
		Classifier:  classifier,
		Compensator: core.NewCompensationAgent(cfg, llm, workers.Descriptors(), logger),
		Workers:     workers.New(cfg, llm, classifier, logger),
		Events:      sinks,
		Runs:        runs,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Orchestrator = orch
	return rt, nil
}
