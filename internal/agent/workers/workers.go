// Package workers implements the lead sources dispatched by the orchestrator. Each worker
// runs a fixed pipeline of scraping and scoring steps and ends with buyer classification.
package workers

import (
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"go.uber.org/zap"
)

// New builds the three workers in dispatch order. The classifier is shared with the aggregator.
func New(cfg *config.Config, llm core.StructuredCompleter, classifier core.IntentClassifier, logger *zap.Logger) []core.Worker {
	apify := NewApifyClient(cfg.Workers.Apify, logger)
	return []core.Worker{
		NewRedditWorker(cfg, apify, llm, classifier, logger),
		NewTechCrunchWorker(cfg, apify, llm, classifier, logger),
		NewCompetitorWorker(cfg, apify, classifier, logger),
	}
}

// Descriptors tells the compensation agent which parameters each worker honours.
func Descriptors() []core.WorkerDescriptor {
	return []core.WorkerDescriptor{
		{ID: string(core.SourceReddit), Parameters: `queries (search phrases people would post when they need the product), max_leads`},
		{ID: string(core.SourceTechCrunch), Parameters: `pages (funding listing pages, 1-based; pages already fetched yield nothing new), queries (industry focus), target_roles, max_leads`},
		{ID: string(core.SourceCompetitorLinkedIn), Parameters: `competitors (company names or LinkedIn company URLs), max_leads`},
	}
}
