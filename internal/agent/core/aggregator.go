package core

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Aggregator merges the lead pool of a run into its final ranked result.
type Aggregator struct {
	classifier IntentClassifier
	logger     *zap.Logger
}

// NewAggregator creates an aggregator. classifier may be nil to skip the final buyer check.
func NewAggregator(classifier IntentClassifier, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{classifier: classifier, logger: logger.Named("aggregator")}
}

// Aggregate classifies, deduplicates, ranks and truncates the pool. Classifier trouble is
// reported in RunResult.Errors and never drops the pool; an empty pool gives an empty result.
func (a *Aggregator) Aggregate(ctx context.Context, all []Lead, target int) (RunResult, error) {
	if target <= 0 {
		return RunResult{}, &AggregationError{Reason: "target must be positive"}
	}
	result := RunResult{
		Target:          target,
		Leads:           []Lead{},
		PerSourceCounts: map[SourcePlatform]int{},
		Errors:          []string{},
	}
	if len(all) == 0 {
		return result, nil
	}

	pool := all
	if a.classifier != nil {
		buyers, removed, err := a.classifier.Classify(ctx, all)
		switch {
		case err != nil:
			a.logger.Warn("final classification failed, keeping worker-classified leads", zap.Error(err))
			result.Errors = append(result.Errors, err.Error())
		case !isOrderedSubset(buyers, all):
			aggErr := &AggregationError{Reason: "classifier returned leads outside the input pool"}
			a.logger.Warn("final classification discarded", zap.Error(aggErr))
			result.Errors = append(result.Errors, aggErr.Error())
		default:
			pool = buyers
			result.SellersRemoved = removed
		}
	}

	deduped, dupes := DedupeLeads(pool)
	result.DuplicatesRemoved = dupes

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].IntentScore > deduped[j].IntentScore
	})
	if len(deduped) > target {
		deduped = deduped[:target]
	}
	result.Leads = deduped

	for _, l := range deduped {
		result.PerSourceCounts[l.SourcePlatform]++
		switch l.Priority() {
		case PriorityHot:
			result.HotLeads++
		case PriorityWarm:
			result.WarmLeads++
		}
	}
	return result, nil
}

// DedupeLeads collapses leads sharing a Key. The survivor keeps the first occurrence's
// position and the higher intent score; equal scores keep the earlier lead.
func DedupeLeads(leads []Lead) ([]Lead, int) {
	index := make(map[LeadKey]int, len(leads))
	out := make([]Lead, 0, len(leads))
	dupes := 0
	for _, l := range leads {
		k := l.Key()
		if pos, ok := index[k]; ok {
			dupes++
			if l.IntentScore > out[pos].IntentScore {
				out[pos] = l
			}
			continue
		}
		index[k] = len(out)
		out = append(out, l)
	}
	return out, dupes
}

// CountDistinct is the provisional running total used between rounds.
func CountDistinct(leads []Lead) int {
	seen := make(map[LeadKey]struct{}, len(leads))
	for _, l := range leads {
		seen[l.Key()] = struct{}{}
	}
	return len(seen)
}

// isOrderedSubset checks sub is drawn from super without invention or reordering.
func isOrderedSubset(sub, super []Lead) bool {
	j := 0
	for _, s := range sub {
		for j < len(super) && super[j] != s {
			j++
		}
		if j == len(super) {
			return false
		}
		j++
	}
	return true
}
