package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samz905/wrrk-pilot/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.Routing.Fallback = "fast"
	cfg.Prospecting = config.ProspectingConfig{
		WorkerTimeout:       2 * time.Second,
		RunBudget:           10 * time.Second,
		MinQueryLength:      12,
		MinSearchTerms:      2,
		MaxTargetLeads:      200,
		ClassifierBatchSize: 25,
	}
	return cfg
}

var samplePlan = StrategyPlan{
	Product:         "AI meeting notes for sales teams",
	SearchTerms:     []string{"meeting notes tool recommendation", "gong alternative for startups"},
	CompetitorNames: []string{"Gong", "Otter AI"},
	TargetRoles:     []string{"VP Sales"},
	IndustryFocus:   "B2B SaaS, Series A",
}

// makeLeads returns n distinct leads named prefix-0..n-1 with scores counting down from top.
func makeLeads(platform SourcePlatform, prefix string, n, top int) []Lead {
	out := make([]Lead, n)
	for i := range out {
		score := top - i
		if score < 0 {
			score = 0
		}
		out[i] = Lead{Name: fmt.Sprintf("%s-%d", prefix, i), IntentScore: score, SourcePlatform: platform}
	}
	return out
}

// scriptedProvider replays raw model outputs in order and counts calls.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (p *scriptedProvider) GenerateWithTokens(_ context.Context, prompt, _ string, _ map[string]interface{}) (string, int64, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", 0, 0, p.err
	}
	if len(p.responses) == 0 {
		return "", 10, 0, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, 100, 50, nil
}

func (p *scriptedProvider) CalculateCost(in, out int64, _ string) float64 {
	return float64(in+out) / 1000
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

// stubWorker answers each invocation with fn(call index, params).
type stubWorker struct {
	id string
	fn func(ctx context.Context, call int, params ParameterSet) WorkerResult

	mu     sync.Mutex
	params []ParameterSet
}

func (w *stubWorker) ID() string { return w.id }

func (w *stubWorker) Invoke(ctx context.Context, _ StrategyPlan, params ParameterSet) WorkerResult {
	w.mu.Lock()
	call := len(w.params)
	w.params = append(w.params, params)
	w.mu.Unlock()
	return w.fn(ctx, call, params)
}

func (w *stubWorker) calls() []ParameterSet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ParameterSet(nil), w.params...)
}

// yields returns a worker fn producing leads[call] for each call, and nothing after.
func yields(platform SourcePlatform, counts ...int) func(context.Context, int, ParameterSet) WorkerResult {
	return func(_ context.Context, call int, _ ParameterSet) WorkerResult {
		if call >= len(counts) {
			return WorkerResult{Success: true, Leads: []Lead{}}
		}
		return WorkerResult{Success: true, Leads: makeLeads(platform, fmt.Sprintf("%s-r%d", platform, call), counts[call], 95)}
	}
}

// blocksUntilDone never returns leads; it waits for the worker context to end.
func blocksUntilDone(ctx context.Context, _ int, _ ParameterSet) WorkerResult {
	<-ctx.Done()
	return WorkerResult{Success: false, Error: ctx.Err().Error()}
}

func failing(msg string) func(context.Context, int, ParameterSet) WorkerResult {
	return func(context.Context, int, ParameterSet) WorkerResult {
		return WorkerResult{Success: false, Error: msg}
	}
}

type stubPlanner struct {
	plan StrategyPlan
	err  error
}

func (p stubPlanner) Plan(context.Context, string, int) (StrategyPlan, error) {
	return p.plan, p.err
}

// scriptedCompensator returns responses[call] and records what it was shown.
type scriptedCompensator struct {
	mu        sync.Mutex
	responses [][]CompensationAction
	err       error
	histories [][]RoundOutcome
	contexts  []ProspectingContext
}

func (c *scriptedCompensator) Decide(_ context.Context, _, _ int, history []RoundOutcome, pctx ProspectingContext) ([]CompensationAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.histories)
	c.histories = append(c.histories, history)
	c.contexts = append(c.contexts, pctx)
	if c.err != nil {
		return nil, c.err
	}
	if call >= len(c.responses) {
		return nil, nil
	}
	return c.responses[call], nil
}

func (c *scriptedCompensator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.histories)
}

// passClassifier keeps everyone; sellerClassifier drops listed names.
type passClassifier struct{}

func (passClassifier) Classify(_ context.Context, leads []Lead) ([]Lead, int, error) {
	return leads, 0, nil
}

type sellerClassifier struct {
	sellers map[string]bool
	err     error
}

func (c sellerClassifier) Classify(_ context.Context, leads []Lead) ([]Lead, int, error) {
	if c.err != nil {
		return nil, 0, c.err
	}
	var out []Lead
	for _, l := range leads {
		if !c.sellers[l.Name] {
			out = append(out, l)
		}
	}
	return out, len(leads) - len(out), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, evt Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]RunRecord
	err  error
}

func newMemoryRuns() *memoryRuns { return &memoryRuns{runs: map[string]RunRecord{}} }

func (m *memoryRuns) SaveRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs[rec.RunID] = rec
	return nil
}

func (m *memoryRuns) GetRun(_ context.Context, id string) (RunRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return RunRecord{}, false, m.err
	}
	rec, ok := m.runs[id]
	return rec, ok, nil
}

var errBoom = errors.New("boom")
