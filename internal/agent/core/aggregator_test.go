package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func leadNames(leads []Lead) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.Name
	}
	return out
}

func TestAggregateIsIdempotentOverSelfConcatenation(t *testing.T) {
	agg := NewAggregator(passClassifier{}, nil)
	pool := append(makeLeads(SourceReddit, "r", 6, 90), makeLeads(SourceTechCrunch, "t", 4, 85)...)

	once, err := agg.Aggregate(context.Background(), pool, 8)
	require.NoError(t, err)
	twice, err := agg.Aggregate(context.Background(), append(append([]Lead{}, pool...), pool...), 8)
	require.NoError(t, err)

	assert.Equal(t, leadNames(once.Leads), leadNames(twice.Leads))
	assert.Zero(t, once.DuplicatesRemoved)
	assert.Equal(t, len(pool), twice.DuplicatesRemoved)
}

func TestAggregateTargetBound(t *testing.T) {
	agg := NewAggregator(nil, nil)
	pool := makeLeads(SourceReddit, "r", 12, 99)

	res, err := agg.Aggregate(context.Background(), pool, 10)
	require.NoError(t, err)
	assert.Len(t, res.Leads, 10)

	res, err = agg.Aggregate(context.Background(), pool, 20)
	require.NoError(t, err)
	assert.Len(t, res.Leads, 12)
	assert.Equal(t, 20, res.Target)
}

func TestAggregateKeepsHigherScoredDuplicate(t *testing.T) {
	agg := NewAggregator(passClassifier{}, nil)
	pool := []Lead{
		{Name: "Jane Doe", IntentScore: 72, SourcePlatform: SourceReddit, IntentSignal: "first"},
		{Name: "Bob", IntentScore: 75, SourcePlatform: SourceReddit},
		{Name: " jane doe ", IntentScore: 81, SourcePlatform: SourceReddit, IntentSignal: "second"},
		{Name: "Jane Doe", IntentScore: 90, SourcePlatform: SourceTechCrunch},
	}

	res, err := agg.Aggregate(context.Background(), pool, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	require.Len(t, res.Leads, 3)
	assert.Equal(t, SourceTechCrunch, res.Leads[0].SourcePlatform)
	assert.Equal(t, 81, res.Leads[1].IntentScore)
	assert.Equal(t, "second", res.Leads[1].IntentSignal)
	assert.Equal(t, "Bob", res.Leads[2].Name)
	assert.Equal(t, map[SourcePlatform]int{SourceReddit: 2, SourceTechCrunch: 1}, res.PerSourceCounts)
	assert.Equal(t, 2, res.HotLeads)
	assert.Equal(t, 1, res.WarmLeads)
}

func TestAggregateSortIsStable(t *testing.T) {
	agg := NewAggregator(nil, nil)
	pool := []Lead{
		{Name: "a", IntentScore: 70, SourcePlatform: SourceReddit},
		{Name: "b", IntentScore: 80, SourcePlatform: SourceReddit},
		{Name: "c", IntentScore: 70, SourcePlatform: SourceReddit},
		{Name: "d", IntentScore: 70, SourcePlatform: SourceReddit},
	}
	res, err := agg.Aggregate(context.Background(), pool, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, leadNames(res.Leads))
}

func TestAggregateEmptyPool(t *testing.T) {
	res, err := NewAggregator(passClassifier{}, nil).Aggregate(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, res.Leads)
	assert.Empty(t, res.Leads)
	assert.NotNil(t, res.PerSourceCounts)
	assert.NotNil(t, res.Errors)
}

func TestAggregateRejectsNonPositiveTarget(t *testing.T) {
	_, err := NewAggregator(nil, nil).Aggregate(context.Background(), makeLeads(SourceReddit, "r", 1, 50), 0)
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
}

func TestAggregateRemovesSellers(t *testing.T) {
	agg := NewAggregator(sellerClassifier{sellers: map[string]bool{"r-0": true}}, nil)
	res, err := agg.Aggregate(context.Background(), makeLeads(SourceReddit, "r", 3, 90), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1", "r-2"}, leadNames(res.Leads))
	assert.Equal(t, 1, res.SellersRemoved)
}

func TestAggregateKeepsPoolWhenClassifierFails(t *testing.T) {
	agg := NewAggregator(sellerClassifier{err: errBoom}, zaptest.NewLogger(t))
	res, err := agg.Aggregate(context.Background(), makeLeads(SourceReddit, "r", 3, 90), 5)
	require.NoError(t, err)
	assert.Len(t, res.Leads, 3)
	assert.Equal(t, []string{"boom"}, res.Errors)
}

type inventingClassifier struct{}

func (inventingClassifier) Classify(_ context.Context, leads []Lead) ([]Lead, int, error) {
	return append(leads, Lead{Name: "made up", IntentScore: 99, SourcePlatform: SourceReddit}), 0, nil
}

func TestAggregateIgnoresClassifierThatInventsLeads(t *testing.T) {
	res, err := NewAggregator(inventingClassifier{}, zaptest.NewLogger(t)).Aggregate(context.Background(), makeLeads(SourceReddit, "r", 2, 90), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-0", "r-1"}, leadNames(res.Leads))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "aggregation:")
}

func TestCountDistinct(t *testing.T) {
	pool := []Lead{
		{Name: "Ann", SourcePlatform: SourceReddit},
		{Name: "ann ", SourcePlatform: SourceReddit},
		{Name: "Ann", SourcePlatform: SourceTechCrunch},
	}
	assert.Equal(t, 2, CountDistinct(pool))
}

func TestLeadPriority(t *testing.T) {
	assert.Equal(t, PriorityHot, PriorityFor(80))
	assert.Equal(t, PriorityWarm, PriorityFor(79))
	assert.Equal(t, PriorityWarm, PriorityFor(60))
	assert.Equal(t, PriorityCold, PriorityFor(59))

	b, err := Lead{Name: "x", IntentScore: 85, SourcePlatform: SourceReddit}.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"priority":"HOT"`)
	assert.Contains(t, string(b), `"source_platform":"reddit"`)
}
