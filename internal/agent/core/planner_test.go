package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodPlanJSON = `{
  "search_terms": ["best tool for sales call notes", "  best tool for sales call notes ", "gong too expensive for startups", ""],
  "competitor_names": ["Gong", "gong", "Chorus"],
  "target_roles": ["VP Sales"],
  "industry_focus": " B2B SaaS, Series A "
}`

func TestPlanSanitizesAndValidates(t *testing.T) {
	provider := &scriptedProvider{responses: []string{goodPlanJSON}}
	planner := NewStrategyPlanner(testConfig(), NewLLMClient(provider, nil, nil), nil)

	plan, err := planner.Plan(context.Background(), "AI call notes", 30)
	require.NoError(t, err)
	assert.Equal(t, "AI call notes", plan.Product)
	assert.Equal(t, []string{"best tool for sales call notes", "gong too expensive for startups"}, plan.SearchTerms)
	assert.Equal(t, []string{"Gong", "Chorus"}, plan.CompetitorNames)
	assert.Equal(t, "B2B SaaS, Series A", plan.IndustryFocus)
	assert.Equal(t, 1, provider.calls())
}

func TestPlanRetriesOnceWithFeedback(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"search_terms":["direct","pain_based"],"competitor_names":[],"target_roles":[],"industry_focus":""}`,
		goodPlanJSON,
	}}
	planner := NewStrategyPlanner(testConfig(), NewLLMClient(provider, nil, nil), nil)

	plan, err := planner.Plan(context.Background(), "AI call notes", 30)
	require.NoError(t, err)
	assert.Len(t, plan.SearchTerms, 2)
	require.Equal(t, 2, provider.calls())
	assert.NotContains(t, provider.prompts[0], "previous answer was rejected")
	assert.Contains(t, provider.prompts[1], "previous answer was rejected")
	assert.Contains(t, provider.prompts[1], "category label")
}

func TestPlanFailsAfterSecondBadAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"", ""}}
	planner := NewStrategyPlanner(testConfig(), NewLLMClient(provider, nil, nil), nil)

	_, err := planner.Plan(context.Background(), "AI call notes", 30)
	var planErr *StrategyPlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, 2, planErr.Attempts)
	var empty *LLMEmptyResponseError
	assert.ErrorAs(t, err, &empty)
}

func TestPlanDoesNotRetryProviderErrors(t *testing.T) {
	provider := &scriptedProvider{err: errBoom}
	planner := NewStrategyPlanner(testConfig(), NewLLMClient(provider, nil, nil), nil)

	_, err := planner.Plan(context.Background(), "AI call notes", 30)
	var planErr *StrategyPlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, 1, planErr.Attempts)
	assert.ErrorIs(t, err, errBoom)
}

func TestValidatePlan(t *testing.T) {
	planner := NewStrategyPlanner(testConfig(), nil, nil)
	cases := []struct {
		name  string
		terms []string
		ok    bool
	}{
		{"two phrases", []string{"crm for small agencies", "hubspot alternative"}, true},
		{"too few", []string{"crm for small agencies"}, false},
		{"category label", []string{"crm for small agencies", "pain_based"}, false},
		{"short single token", []string{"crm for small agencies", "crm"}, false},
		{"long single token", []string{"crm for small agencies", "salesautomation"}, true},
		{"known label with spaces", []string{"crm for small agencies", "  Direct "}, false},
	}
	for _, tc := range cases {
		err := planner.ValidatePlan(StrategyPlan{SearchTerms: tc.terms})
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestValidatePlanNeverAcceptsASingleQuery(t *testing.T) {
	cfg := testConfig()
	cfg.Prospecting.MinSearchTerms = 1
	planner := NewStrategyPlanner(cfg, nil, nil)

	err := planner.ValidatePlan(StrategyPlan{SearchTerms: []string{"crm for small agencies"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")

	cfg.Prospecting.MinSearchTerms = 3
	assert.Error(t, planner.ValidatePlan(StrategyPlan{SearchTerms: []string{"crm for small agencies", "hubspot alternative"}}))
}
