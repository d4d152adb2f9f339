package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samz905/wrrk-pilot/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const compensationSchema = `{
  "type": "object",
  "required": ["actions"],
  "properties": {
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["target_worker", "adjusted_parameters"],
        "properties": {
          "target_worker": {"type": "string", "minLength": 1},
          "adjusted_parameters": {
            "type": "object",
            "properties": {
              "queries": {"type": "array", "items": {"type": "string"}},
              "pages": {"type": "array", "items": {"type": "integer", "minimum": 1}},
              "competitors": {"type": "array", "items": {"type": "string"}},
              "target_roles": {"type": "array", "items": {"type": "string"}},
              "max_leads": {"type": "integer", "minimum": 0}
            }
          },
          "rationale": {"type": "string"}
        }
      }
    }
  }
}`

var compensationTracer trace.Tracer = otel.Tracer("wrrk-pilot/internal/agent/compensation")

// WorkerDescriptor tells the compensation model what a worker can be asked to do.
type WorkerDescriptor struct {
	ID         string
	Parameters string
}

// CompensationAgent asks the model for follow-up worker invocations when a run is short of its target.
type CompensationAgent struct {
	config  *config.Config
	llm     StructuredCompleter
	workers []WorkerDescriptor
	logger  *zap.Logger
}

// NewCompensationAgent creates an agent that may only target the described workers.
func NewCompensationAgent(cfg *config.Config, llm StructuredCompleter, workers []WorkerDescriptor, logger *zap.Logger) *CompensationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompensationAgent{config: cfg, llm: llm, workers: workers, logger: logger.Named("compensation")}
}

type compensationResponse struct {
	Actions []CompensationAction `json:"actions"`
}

// Decide returns zero or more proposed actions. The orchestrator is responsible for
// enforcing caps and discarding repeats.
func (a *CompensationAgent) Decide(ctx context.Context, runningTotal, target int, history []RoundOutcome, pctx ProspectingContext) ([]CompensationAction, error) {
	ctx, span := compensationTracer.Start(ctx, "prospect.compensate", trace.WithAttributes(
		attribute.Int("running_total", runningTotal),
		attribute.Int("target", target),
		attribute.Int("history", len(history)),
	))
	defer span.End()

	prompt, err := a.createPrompt(runningTotal, target, history, pctx)
	if err != nil {
		return nil, err
	}
	resp, err := WithBoundedRetry(ctx, func(ctx context.Context, _ int) (compensationResponse, error) {
		var out compensationResponse
		err := a.llm.Complete(ctx, CompletionRequest{
			Component: "compensation",
			Model:     a.config.LLM.Routing.Model("compensation"),
			Prompt:    prompt,
			Schema:    compensationSchema,
			Options:   map[string]interface{}{"temperature": 0.4, "max_tokens": 1200},
		}, &out)
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i := range resp.Actions {
		resp.Actions[i].TargetWorker = strings.TrimSpace(resp.Actions[i].TargetWorker)
	}
	span.SetAttributes(attribute.Int("actions.proposed", len(resp.Actions)))
	a.logger.Info("compensation proposed", zap.Int("actions", len(resp.Actions)), zap.Int("running_total", runningTotal))
	return resp.Actions, nil
}

// workerYield sums leads per worker across history, highest first.
func workerYield(history []RoundOutcome) []string {
	totals := map[string]int{}
	for _, h := range history {
		totals[h.WorkerID] += h.LeadsFound
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if totals[ids[i]] != totals[ids[j]] {
			return totals[ids[i]] > totals[ids[j]]
		}
		return ids[i] < ids[j]
	})
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%s=%d", id, totals[id])
	}
	return out
}

func (a *CompensationAgent) createPrompt(runningTotal, target int, history []RoundOutcome, pctx ProspectingContext) (string, error) {
	historyJSON, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	ctxJSON, err := json.MarshalIndent(pctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `A lead discovery run has %d distinct leads but needs %d (short by %d).
Choose at most %d follow-up worker invocations that are most likely to close the gap.

Workers and the parameters they accept:
`, runningTotal, target, target-runningTotal, MaxActionsPerRound)
	for _, w := range a.workers {
		fmt.Fprintf(&b, "- %s: %s\n", w.ID, w.Parameters)
	}
	fmt.Fprintf(&b, `
Yield so far (leads per worker, best first): %s

Every previous invocation (round, worker, parameters, leads found, errors):
%s

Already used (do NOT repeat these queries, pages or competitors):
%s

Rules:
- prefer the highest-yield worker first
- never repeat a worker with parameters identical to a previous invocation
- do not target a worker that returned 0 leads in its last two invocations
- return an empty list when nothing promising remains

Return ONLY JSON: {"actions": [{"target_worker": "...", "adjusted_parameters": {...}, "rationale": "..."}]}
`, strings.Join(workerYield(history), ", "), historyJSON, ctxJSON)
	return b.String(), nil
}
