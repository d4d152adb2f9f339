package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samz905/wrrk-pilot/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const strategyPlanSchema = `{
  "type": "object",
  "required": ["search_terms", "competitor_names", "target_roles", "industry_focus"],
  "properties": {
    "search_terms": {"type": "array", "items": {"type": "string"}},
    "competitor_names": {"type": "array", "items": {"type": "string"}},
    "target_roles": {"type": "array", "items": {"type": "string"}},
    "industry_focus": {"type": "string"}
  }
}`

// categoryLabels are strategy buckets models like to emit instead of real search phrases.
var categoryLabels = map[string]struct{}{
	"direct": {}, "pain_based": {}, "pain-based": {}, "competitor": {}, "competitors": {},
	"industry": {}, "alternative": {}, "alternatives": {}, "problem": {}, "solution": {},
	"intent": {}, "general": {}, "comparison": {},
}

// MinSearchTerms is the floor for prospecting.min_search_terms; config may only raise it.
const MinSearchTerms = 2

var plannerTracer trace.Tracer = otel.Tracer("wrrk-pilot/internal/agent/planner")

// StrategyPlanner turns a product description into a StrategyPlan with one LLM call,
// re-asking once when the plan is structurally unusable.
type StrategyPlanner struct {
	config *config.Config
	llm    StructuredCompleter
	logger *zap.Logger
}

// NewStrategyPlanner creates a new planner instance
func NewStrategyPlanner(cfg *config.Config, llm StructuredCompleter, logger *zap.Logger) *StrategyPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrategyPlanner{config: cfg, llm: llm, logger: logger.Named("planner")}
}

type planValidationError struct {
	reason string
}

func (e *planValidationError) Error() string   { return "invalid plan: " + e.reason }
func (e *planValidationError) Retryable() bool { return true }

// Plan creates a strategy for the product. Any failure is a *StrategyPlanningError.
func (p *StrategyPlanner) Plan(ctx context.Context, productDescription string, targetLeads int) (StrategyPlan, error) {
	startTime := time.Now()
	ctx, span := plannerTracer.Start(ctx, "prospect.plan",
		trace.WithAttributes(attribute.Int("target_leads", targetLeads)))
	defer span.End()

	attempts := 0
	var lastProblem string
	plan, err := WithBoundedRetry(ctx, func(ctx context.Context, attempt int) (StrategyPlan, error) {
		attempts = attempt + 1
		var raw StrategyPlan
		req := CompletionRequest{
			Component: "planner",
			Model:     p.config.LLM.Routing.Model("planning"),
			Prompt:    p.createPlanningPrompt(productDescription, targetLeads, lastProblem),
			Schema:    strategyPlanSchema,
			Options: map[string]interface{}{
				"temperature": 0.3,
				"max_tokens":  1500,
			},
		}
		if err := p.llm.Complete(ctx, req, &raw); err != nil {
			lastProblem = err.Error()
			return StrategyPlan{}, err
		}
		plan := sanitizePlan(raw)
		plan.Product = productDescription
		if err := p.ValidatePlan(plan); err != nil {
			lastProblem = err.Error()
			p.logger.Warn("plan rejected", zap.Int("attempt", attempts), zap.Error(err))
			return StrategyPlan{}, err
		}
		return plan, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StrategyPlan{}, &StrategyPlanningError{Attempts: attempts, Reason: err.Error(), Err: err}
	}

	span.SetAttributes(
		attribute.Int("plan.search_terms", len(plan.SearchTerms)),
		attribute.Int("plan.competitors", len(plan.CompetitorNames)),
	)
	p.logger.Info("planning completed",
		zap.Duration("took", time.Since(startTime)),
		zap.Int("attempts", attempts),
		zap.Strings("search_terms", plan.SearchTerms),
		zap.Strings("competitors", plan.CompetitorNames))
	return plan, nil
}

// ValidatePlan rejects plans with too few queries or queries that are bare category labels.
func (p *StrategyPlanner) ValidatePlan(plan StrategyPlan) error {
	minTerms := p.config.Prospecting.MinSearchTerms
	if minTerms < MinSearchTerms {
		minTerms = MinSearchTerms
	}
	if len(plan.SearchTerms) < minTerms {
		return &planValidationError{reason: fmt.Sprintf("need at least %d non-empty search terms, got %d", minTerms, len(plan.SearchTerms))}
	}
	for _, term := range plan.SearchTerms {
		if isCategoryLabel(term, p.config.Prospecting.MinQueryLength) {
			return &planValidationError{reason: fmt.Sprintf("search term %q is a category label, not a search phrase", term)}
		}
	}
	return nil
}

// isCategoryLabel flags single-token terms shorter than minLen and known strategy bucket names.
func isCategoryLabel(term string, minLen int) bool {
	t := strings.ToLower(strings.TrimSpace(term))
	if _, ok := categoryLabels[t]; ok {
		return true
	}
	if strings.ContainsAny(t, " \t") {
		return false
	}
	return len(t) < minLen
}

func sanitizePlan(raw StrategyPlan) StrategyPlan {
	return StrategyPlan{
		SearchTerms:     cleanList(raw.SearchTerms, 8),
		CompetitorNames: cleanList(raw.CompetitorNames, 6),
		TargetRoles:     cleanList(raw.TargetRoles, 8),
		IndustryFocus:   strings.TrimSpace(raw.IndustryFocus),
	}
}

// cleanList trims, drops empties and case-insensitive duplicates, and caps the length.
func cleanList(in []string, limit int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || containsFold(out, s) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (p *StrategyPlanner) createPlanningPrompt(product string, target int, problem string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are planning a B2B lead discovery run.

PRODUCT:
%s

TARGET: %d qualified buyer leads.

Lead sources:
- reddit: people asking for tools, complaining about problems, or comparing alternatives
- techcrunch: recently funded companies whose decision makers may need the product
- competitor-linkedin: people engaging with competitors' LinkedIn posts

Return ONLY a JSON object:
{
  "search_terms": ["natural phrases a buyer would type, e.g. \"best tool for invoice reconciliation\""],
  "competitor_names": ["real competitor company names"],
  "target_roles": ["job titles of decision makers"],
  "industry_focus": "short description of the industry and funding stage to look for"
}

Rules:
- search_terms must be real search phrases of several words, never strategy labels like "direct" or "pain_based"
- provide 3 to 6 search_terms
- competitor_names must be actual companies, not categories
`, strings.TrimSpace(product), target)
	if problem != "" {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %s\nFix this and answer again with the JSON object only.\n", problem)
	}
	return b.String()
}
