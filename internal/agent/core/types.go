package core

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	// MaxRounds bounds the supervisor loop, including the initial dispatch.
	MaxRounds = 3
	// MaxActionsPerRound caps how many compensation actions run in a single round.
	MaxActionsPerRound = 2
)

// SourcePlatform identifies where a lead was discovered.
type SourcePlatform string

const (
	SourceReddit             SourcePlatform = "reddit"
	SourceTechCrunch         SourcePlatform = "techcrunch"
	SourceCompetitorLinkedIn SourcePlatform = "competitor-linkedin"
)

// Priority is derived from a lead's intent score.
type Priority string

const (
	PriorityHot  Priority = "HOT"
	PriorityWarm Priority = "WARM"
	PriorityCold Priority = "COLD"
)

// PriorityFor maps an intent score onto HOT (>=80), WARM (60-79) or COLD (<60).
func PriorityFor(score int) Priority {
	switch {
	case score >= 80:
		return PriorityHot
	case score >= 60:
		return PriorityWarm
	default:
		return PriorityCold
	}
}

// Lead is one discovered prospect.
type Lead struct {
	Name              string         `json:"name"`
	Username          string         `json:"username,omitempty"`
	IntentScore       int            `json:"intent_score"`
	SourcePlatform    SourcePlatform `json:"source_platform"`
	SourceWorkerRound int            `json:"source_worker_round"`
	Email             string         `json:"email,omitempty"`
	LinkedInURL       string         `json:"linkedin_url,omitempty"`
	IntentSignal      string         `json:"intent_signal,omitempty"`
	Title             string         `json:"title,omitempty"`
	Company           string         `json:"company,omitempty"`
	SourceURL         string         `json:"source_url,omitempty"`
}

// Priority derives the lead's priority from its score.
func (l Lead) Priority() Priority {
	return PriorityFor(l.IntentScore)
}

// MarshalJSON adds the derived priority to the wire form.
func (l Lead) MarshalJSON() ([]byte, error) {
	type plain Lead
	return json.Marshal(struct {
		plain
		Priority Priority `json:"priority"`
	}{plain: plain(l), Priority: l.Priority()})
}

// LeadKey is the dedup identity of a lead.
type LeadKey struct {
	Name     string
	Platform SourcePlatform
}

// Key returns the case-folded, trimmed name paired with the source platform.
func (l Lead) Key() LeadKey {
	return LeadKey{Name: strings.ToLower(strings.TrimSpace(l.Name)), Platform: l.SourcePlatform}
}

// StrategyPlan parameterizes every worker's first invocation. It is never mutated.
type StrategyPlan struct {
	Product         string   `json:"product"`
	SearchTerms     []string `json:"search_terms"`
	CompetitorNames []string `json:"competitor_names"`
	TargetRoles     []string `json:"target_roles"`
	IndustryFocus   string   `json:"industry_focus"`
}

// ParameterSet is the per-invocation input a worker receives on top of the plan.
// Empty fields mean "use the plan's defaults".
type ParameterSet struct {
	Queries     []string `json:"queries,omitempty"`
	Pages       []int    `json:"pages,omitempty"`
	Competitors []string `json:"competitors,omitempty"`
	TargetRoles []string `json:"target_roles,omitempty"`
	MaxLeads    int      `json:"max_leads,omitempty"`
}

// Fingerprint is the byte-exact encoding used to detect repeated actions.
func (p ParameterSet) Fingerprint() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// HasWork reports whether the set names any query, page or competitor.
func (p ParameterSet) HasWork() bool {
	return len(p.Queries) > 0 || len(p.Pages) > 0 || len(p.Competitors) > 0
}

// StepRecord traces one step of a worker pipeline.
type StepRecord struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ItemsIn   int           `json:"items_in"`
	ItemsOut  int           `json:"items_out"`
	Error     string        `json:"error,omitempty"`
}

// WorkerResult is what a worker returns from one invocation. Leads are buyer-classified.
type WorkerResult struct {
	Success        bool         `json:"success"`
	Leads          []Lead       `json:"leads"`
	StepTrace      []StepRecord `json:"step_trace"`
	Error          string       `json:"error,omitempty"`
	SellersRemoved int          `json:"sellers_removed"`
}

// RoundOutcome is one append-only history record per (round, worker dispatch).
type RoundOutcome struct {
	WorkerID       string       `json:"worker_id"`
	RoundNumber    int          `json:"round_number"`
	LeadsFound     int          `json:"leads_found"`
	Succeeded      bool         `json:"succeeded"`
	ParametersUsed ParameterSet `json:"parameters_used"`
	Error          string       `json:"error,omitempty"`
}

// CompensationAction asks the orchestrator to invoke one worker once more.
type CompensationAction struct {
	TargetWorker       string       `json:"target_worker"`
	AdjustedParameters ParameterSet `json:"adjusted_parameters"`
	Rationale          string       `json:"rationale,omitempty"`
}

func (a CompensationAction) fingerprint() string {
	return actionFingerprint(a.TargetWorker, a.AdjustedParameters)
}

func actionFingerprint(worker string, params ParameterSet) string {
	return worker + "\x00" + params.Fingerprint()
}

// RunResult is the immutable outcome of a completed run.
type RunResult struct {
	RunID             string                 `json:"run_id"`
	Leads             []Lead                 `json:"leads"`
	PerSourceCounts   map[SourcePlatform]int `json:"per_source_counts"`
	HotLeads          int                    `json:"hot_leads"`
	WarmLeads         int                    `json:"warm_leads"`
	DuplicatesRemoved int                    `json:"duplicates_removed"`
	SellersRemoved    int                    `json:"sellers_removed"`
	Errors            []string               `json:"errors"`
	Elapsed           time.Duration          `json:"elapsed"`
	Target            int                    `json:"target"`
	Rounds            int                    `json:"rounds"`
	CostUSD           float64                `json:"cost_usd"`
	TokensUsed        int64                  `json:"tokens_used"`
	Cancelled         bool                   `json:"cancelled,omitempty"`
	BudgetExhausted   bool                   `json:"budget_exhausted,omitempty"`
}

// ProspectingContext is per-run bookkeeping of what has already been fetched. Only the
// orchestrator writes to it, and only between rounds.
type ProspectingContext struct {
	PagesFetched       map[string][]int `json:"pages_fetched_per_worker"`
	QueriesUsed        []string         `json:"queries_used"`
	CompetitorsScraped []string         `json:"competitors_scraped"`
}

// NewProspectingContext returns an empty context.
func NewProspectingContext() *ProspectingContext {
	return &ProspectingContext{PagesFetched: map[string][]int{}}
}

// Record folds the parameters a worker actually ran with into the context.
func (c *ProspectingContext) Record(workerID string, params ParameterSet) {
	for _, p := range params.Pages {
		if !containsInt(c.PagesFetched[workerID], p) {
			c.PagesFetched[workerID] = append(c.PagesFetched[workerID], p)
		}
	}
	sort.Ints(c.PagesFetched[workerID])
	for _, q := range params.Queries {
		if !containsFold(c.QueriesUsed, q) {
			c.QueriesUsed = append(c.QueriesUsed, q)
		}
	}
	for _, comp := range params.Competitors {
		if !containsFold(c.CompetitorsScraped, comp) {
			c.CompetitorsScraped = append(c.CompetitorsScraped, comp)
		}
	}
}

// Refine strips queries, pages and competitors already used. ok is false when nothing new remains.
func (c *ProspectingContext) Refine(workerID string, params ParameterSet) (refined ParameterSet, ok bool) {
	refined = ParameterSet{MaxLeads: params.MaxLeads, TargetRoles: append([]string(nil), params.TargetRoles...)}
	for _, q := range params.Queries {
		q = strings.TrimSpace(q)
		if q != "" && !containsFold(c.QueriesUsed, q) && !containsFold(refined.Queries, q) {
			refined.Queries = append(refined.Queries, q)
		}
	}
	for _, p := range params.Pages {
		if p > 0 && !containsInt(c.PagesFetched[workerID], p) && !containsInt(refined.Pages, p) {
			refined.Pages = append(refined.Pages, p)
		}
	}
	for _, comp := range params.Competitors {
		comp = strings.TrimSpace(comp)
		if comp != "" && !containsFold(c.CompetitorsScraped, comp) && !containsFold(refined.Competitors, comp) {
			refined.Competitors = append(refined.Competitors, comp)
		}
	}
	return refined, refined.HasWork()
}

// Snapshot returns a deep copy for read-only consumers.
func (c *ProspectingContext) Snapshot() ProspectingContext {
	out := ProspectingContext{
		PagesFetched:       make(map[string][]int, len(c.PagesFetched)),
		QueriesUsed:        append([]string(nil), c.QueriesUsed...),
		CompetitorsScraped: append([]string(nil), c.CompetitorsScraped...),
	}
	for k, v := range c.PagesFetched {
		out.PagesFetched[k] = append([]int(nil), v...)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

// State is a supervisor state-machine state.
type State string

const (
	StatePlanning        State = "PLANNING"
	StateDispatching     State = "DISPATCHING"
	StateAwaitingWorkers State = "AWAITING_WORKERS"
	StateEvaluating      State = "EVALUATING"
	StateCompensating    State = "COMPENSATING"
	StateAggregating     State = "AGGREGATING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// RunStatus is the observable progress of a run.
type RunStatus struct {
	RunID              string     `json:"run_id"`
	ProductDescription string     `json:"product_description"`
	TargetLeads        int        `json:"target_leads"`
	State              State      `json:"state"`
	Round              int        `json:"round"`
	RunningTotal       int        `json:"running_total"`
	CancelRequested    bool       `json:"cancel_requested"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Result             *RunResult `json:"result,omitempty"`
	Reason             string     `json:"reason,omitempty"`
}

// Worker is an external data-source collaborator. Invoke must honour ctx cancellation and
// must run intent classification as its final step.
type Worker interface {
	ID() string
	Invoke(ctx context.Context, plan StrategyPlan, params ParameterSet) WorkerResult
}

// Planner produces the run's strategy.
type Planner interface {
	Plan(ctx context.Context, productDescription string, targetLeads int) (StrategyPlan, error)
}

// IntentClassifier strips sellers from a batch of leads, preserving order.
type IntentClassifier interface {
	Classify(ctx context.Context, leads []Lead) (buyers []Lead, sellersRemoved int, err error)
}

// Compensator chooses follow-up actions when the lead target is unmet.
type Compensator interface {
	Decide(ctx context.Context, runningTotal, target int, history []RoundOutcome, pctx ProspectingContext) ([]CompensationAction, error)
}

// LLMProvider is the raw text-generation backend.
type LLMProvider interface {
	// GenerateWithTokens generates text and returns input and output token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// RunRecord is the persisted form of a run.
type RunRecord struct {
	RunID              string     `json:"run_id"`
	ProductDescription string     `json:"product_description"`
	TargetLeads        int        `json:"target_leads"`
	Status             State      `json:"status"`
	Reason             string     `json:"reason,omitempty"`
	Result             *RunResult `json:"result,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// RunRepository persists run records beyond the process-local status map.
type RunRepository interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
}
