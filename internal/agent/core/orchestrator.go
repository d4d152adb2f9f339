package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/telemetry"
	"github.com/samz905/wrrk-pilot/internal/budget"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators the orchestrator coordinates.
type Dependencies struct {
	Planner     Planner
	Classifier  IntentClassifier
	Compensator Compensator
	Workers     []Worker
	Events      EventSink
	Runs        RunRepository
}

// Orchestrator is the supervisor: it plans, fans out workers per round, compensates when
// short of target and aggregates. It also exposes job control over the runs it owns.
type Orchestrator struct {
	config    *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	planner     Planner
	compensator Compensator
	aggregator  *Aggregator
	workers     map[string]Worker
	workerOrder []string
	events      EventSink
	runs        RunRepository

	// Processing state
	processing map[string]*runHandle
	mu         sync.RWMutex
}

const (
	defaultResultRetention = time.Hour
	interruptedReason      = "run interrupted by shutdown"
)

var orchestratorTracer trace.Tracer = otel.Tracer("wrrk-pilot/internal/agent/orchestrator")

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(cfg *config.Config, logger *zap.Logger, tele *telemetry.Telemetry, deps Dependencies) (*Orchestrator, error) {
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if deps.Compensator == nil {
		return nil, fmt.Errorf("compensator is required")
	}
	if len(deps.Workers) == 0 {
		return nil, fmt.Errorf("at least one worker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make(map[string]Worker, len(deps.Workers))
	order := make([]string, 0, len(deps.Workers))
	for _, w := range deps.Workers {
		if _, dup := workers[w.ID()]; dup {
			return nil, fmt.Errorf("duplicate worker id %q", w.ID())
		}
		workers[w.ID()] = w
		order = append(order, w.ID())
	}
	events := deps.Events
	if events == nil {
		events = nopSink{}
	}
	return &Orchestrator{
		config:      cfg,
		logger:      logger.Named("orchestrator"),
		telemetry:   tele,
		planner:     deps.Planner,
		compensator: deps.Compensator,
		aggregator:  NewAggregator(deps.Classifier, logger),
		workers:     workers,
		workerOrder: order,
		events:      events,
		runs:        deps.Runs,
		processing:  make(map[string]*runHandle),
	}, nil
}

// runHandle is the process-local record of one run. The orchestrator goroutine is the
// only writer of status fields besides the cancel flag.
type runHandle struct {
	mu       sync.RWMutex
	status   RunStatus
	cancelCh chan struct{}
	once     sync.Once
	done     chan struct{}

	// aborted on shutdown; cancels in-flight worker and LLM calls
	abortCtx context.Context
	abort    context.CancelFunc
	saved    bool
}

func newRunHandle(id, product string, target int) *runHandle {
	h := &runHandle{
		status: RunStatus{
			RunID:              id,
			ProductDescription: product,
			TargetLeads:        target,
			State:              StatePlanning,
			StartedAt:          time.Now().UTC(),
		},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.abortCtx, h.abort = context.WithCancel(context.Background())
	return h
}

func (h *runHandle) id() string { return h.status.RunID }

func (h *runHandle) setState(s State, round, total int) {
	h.mu.Lock()
	h.status.State = s
	h.status.Round = round
	h.status.RunningTotal = total
	h.mu.Unlock()
}

func (h *runHandle) requestCancel() {
	h.once.Do(func() {
		h.mu.Lock()
		h.status.CancelRequested = true
		h.mu.Unlock()
		close(h.cancelCh)
	})
}

func (h *runHandle) cancelRequested() bool {
	select {
	case <-h.cancelCh:
		return true
	default:
		return false
	}
}

// interrupt cancels the run at once instead of at the next round boundary.
func (h *runHandle) interrupt() {
	h.requestCancel()
	h.abort()
}

func (h *runHandle) interrupted() bool { return h.abortCtx.Err() != nil }

func (h *runHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *runHandle) finish(state State, result *RunResult, reason string) {
	now := time.Now().UTC()
	h.mu.Lock()
	h.status.State = state
	h.status.Result = result
	h.status.Reason = reason
	h.status.FinishedAt = &now
	h.mu.Unlock()
}

// complete marks the run finished once its terminal state has been persisted and emitted.
func (h *runHandle) complete(saved bool) {
	h.mu.Lock()
	h.saved = saved
	h.mu.Unlock()
	h.abort()
	close(h.done)
}

func (h *runHandle) persisted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.saved
}

func (h *runHandle) snapshot() RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// StartRun validates the request, registers the run and executes it in the background.
// The run does not inherit ctx's cancellation; use Cancel.
func (o *Orchestrator) StartRun(ctx context.Context, productDescription string, targetLeads int) (string, error) {
	if err := o.validateRequest(productDescription, targetLeads); err != nil {
		return "", err
	}
	h := o.register(productDescription, targetLeads)
	go o.execute(context.WithoutCancel(ctx), h)
	return h.id(), nil
}

// Run executes a run synchronously and returns its result.
func (o *Orchestrator) Run(ctx context.Context, productDescription string, targetLeads int) (*RunResult, error) {
	if err := o.validateRequest(productDescription, targetLeads); err != nil {
		return nil, err
	}
	h := o.register(productDescription, targetLeads)
	o.execute(ctx, h)
	return o.GetResult(ctx, h.id())
}

func (o *Orchestrator) validateRequest(productDescription string, targetLeads int) error {
	if strings.TrimSpace(productDescription) == "" {
		return fmt.Errorf("%w: product_description is required", ErrInvalidRequest)
	}
	maxTarget := o.config.Prospecting.MaxTargetLeads
	if targetLeads < 1 {
		return fmt.Errorf("%w: target_leads must be at least 1", ErrInvalidRequest)
	}
	if maxTarget > 0 && targetLeads > maxTarget {
		return fmt.Errorf("%w: target_leads must be between 1 and %d", ErrInvalidRequest, maxTarget)
	}
	return nil
}

func (o *Orchestrator) register(productDescription string, targetLeads int) *runHandle {
	h := newRunHandle(uuid.NewString(), strings.TrimSpace(productDescription), targetLeads)
	o.mu.Lock()
	o.processing[h.id()] = h
	o.mu.Unlock()
	o.persist(h)
	return h
}

// Cancel requests cooperative cancellation; it takes effect at the next round boundary.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.RLock()
	h, ok := o.processing[runID]
	o.mu.RUnlock()
	if ok {
		h.requestCancel()
		o.logger.Info("cancel requested", zap.String("run_id", runID))
		return nil
	}
	if o.runs != nil {
		if _, found, err := o.runs.GetRun(ctx, runID); err != nil {
			return err
		} else if found {
			// already finished in another process or before a restart
			return nil
		}
	}
	return ErrRunNotFound
}

// GetResult returns the result of a finished run, (nil, nil) while it is still running,
// or a *RunFailedError for a failed run.
func (o *Orchestrator) GetResult(ctx context.Context, runID string) (*RunResult, error) {
	status, err := o.Status(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch status.State {
	case StateDone:
		return status.Result, nil
	case StateFailed:
		return nil, &RunFailedError{RunID: runID, Reason: status.Reason}
	default:
		return nil, nil
	}
}

// Status reports the live status of a run, falling back to the repository.
func (o *Orchestrator) Status(ctx context.Context, runID string) (RunStatus, error) {
	o.mu.RLock()
	h, ok := o.processing[runID]
	o.mu.RUnlock()
	if ok {
		return h.snapshot(), nil
	}
	if o.runs == nil {
		return RunStatus{}, ErrRunNotFound
	}
	rec, found, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return RunStatus{}, err
	}
	if !found {
		return RunStatus{}, ErrRunNotFound
	}
	return RunStatus{
		RunID:              rec.RunID,
		ProductDescription: rec.ProductDescription,
		TargetLeads:        rec.TargetLeads,
		State:              rec.Status,
		StartedAt:          rec.CreatedAt,
		FinishedAt:         rec.FinishedAt,
		Result:             rec.Result,
		Reason:             rec.Reason,
	}, nil
}

// Wait blocks until the run finishes or ctx is done. Runs already released to the
// repository return immediately.
func (o *Orchestrator) Wait(ctx context.Context, runID string) error {
	o.mu.RLock()
	h, ok := o.processing[runID]
	o.mu.RUnlock()
	if !ok {
		status, err := o.Status(ctx, runID)
		if err != nil {
			return err
		}
		if !status.State.Terminal() {
			return fmt.Errorf("run %s is not owned by this process", runID)
		}
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runState is the per-run mutable state of the control loop. It lives on the
// orchestrator goroutine's stack and is discarded when the run ends.
type runState struct {
	plan           StrategyPlan
	target         int
	history        []RoundOutcome
	pool           []Lead
	pctx           *ProspectingContext
	errors         []string
	sellersRemoved int
	runningTotal   int
	rounds         int
}

type dispatch struct {
	worker Worker
	params ParameterSet
}

func (o *Orchestrator) execute(parent context.Context, h *runHandle) {
	status := h.snapshot()
	started := time.Now()
	logger := o.logger.With(zap.String("run_id", status.RunID))

	defer o.release(h)

	ctx, cancel := context.WithTimeout(parent, o.config.Prospecting.RunBudget)
	defer cancel()
	stopAbort := context.AfterFunc(h.abortCtx, cancel)
	defer stopAbort()
	monitor := budget.NewMonitor(budget.ForRun(o.config.Prospecting.RunBudget, o.config.Prospecting.MaxCostUSD))
	ctx = budget.WithMonitor(ctx, monitor)

	ctx, span := orchestratorTracer.Start(ctx, "prospect.run", trace.WithAttributes(
		attribute.String("run.id", status.RunID),
		attribute.Int("run.target", status.TargetLeads),
	))
	defer span.End()

	// PLANNING
	h.setState(StatePlanning, 0, 0)
	o.emit(ctx, Event{Type: EventPlanningStarted, RunID: status.RunID})
	plan, err := o.planner.Plan(ctx, status.ProductDescription, status.TargetLeads)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		o.fail(ctx, h, started, err.Error())
		return
	}

	rs := &runState{plan: plan, target: status.TargetLeads, pctx: NewProspectingContext()}
	batch := o.initialDispatch(plan, status.TargetLeads)
	var cancelled, exhausted bool

	for round := 0; ; round++ {
		if h.cancelRequested() {
			cancelled = true
			break
		}

		// DISPATCHING + AWAITING_WORKERS
		h.setState(StateDispatching, round, rs.runningTotal)
		results := o.dispatchRound(ctx, h, plan, round, batch, rs.runningTotal)

		// EVALUATING
		h.setState(StateEvaluating, round, rs.runningTotal)
		added := o.evaluate(rs, round, batch, results)
		rs.rounds = round + 1
		h.setState(StateEvaluating, round, rs.runningTotal)
		logger.Info("round evaluated",
			zap.Int("round", round),
			zap.Int("dispatched", len(batch)),
			zap.Int("new_distinct", added),
			zap.Int("running_total", rs.runningTotal),
			zap.Int("target", rs.target))

		if round == 0 && allFailed(results) && len(rs.pool) == 0 {
			o.fail(ctx, h, started, "all workers failed in round 0: "+strings.Join(rs.errors, "; "))
			return
		}
		if h.cancelRequested() {
			cancelled = true
			break
		}
		if ctx.Err() != nil || monitor.CheckTime() != nil {
			exhausted = true
			rs.errors = append(rs.errors, "run budget exhausted after round "+fmt.Sprint(round))
			break
		}
		if err := monitor.CheckSpend(); err != nil {
			exhausted = true
			rs.errors = append(rs.errors, err.Error())
			break
		}
		if rs.runningTotal >= rs.target || rs.rounds >= MaxRounds {
			break
		}
		if o.config.Prospecting.StagnationGuard && round > 0 && added == 0 {
			logger.Info("stagnation guard stopped the loop", zap.Int("round", round))
			break
		}

		// COMPENSATING
		h.setState(StateCompensating, round, rs.runningTotal)
		next, ok := o.compensate(ctx, status.RunID, rs, round+1)
		if !ok || len(next) == 0 {
			break
		}
		batch = next
	}

	if h.interrupted() {
		rs.errors = append(rs.errors, interruptedReason)
	}

	// AGGREGATING
	h.setState(StateAggregating, rs.rounds, rs.runningTotal)
	aggCtx := ctx
	// an interrupted run aggregates with the dead context, so the final classifier pass
	// fails fast and the worker-classified pool is kept
	if ctx.Err() != nil && !h.interrupted() {
		var aggCancel context.CancelFunc
		aggCtx, aggCancel = context.WithTimeout(context.WithoutCancel(ctx), o.config.Prospecting.WorkerTimeout)
		defer aggCancel()
	}
	result, err := o.aggregator.Aggregate(aggCtx, rs.pool, rs.target)
	if err != nil {
		o.fail(ctx, h, started, err.Error())
		return
	}

	usage := monitor.Usage()
	result.RunID = status.RunID
	result.Rounds = rs.rounds
	result.Elapsed = time.Since(started)
	result.SellersRemoved += rs.sellersRemoved
	result.Errors = append(append([]string{}, rs.errors...), result.Errors...)
	result.CostUSD = usage.Cost
	result.TokensUsed = usage.Tokens
	result.Cancelled = cancelled
	result.BudgetExhausted = exhausted

	h.finish(StateDone, &result, "")
	saved := o.persist(h)
	o.emit(ctx, Event{Type: EventRunCompleted, RunID: status.RunID, Result: &result})
	h.complete(saved)
	o.telemetry.RecordRun(ctx, "done", result.Elapsed, len(result.Leads))
	span.SetAttributes(
		attribute.Int("run.rounds", result.Rounds),
		attribute.Int("run.leads", len(result.Leads)),
		attribute.Bool("run.cancelled", cancelled),
	)
	logger.Info("run completed",
		zap.Int("leads", len(result.Leads)),
		zap.Int("rounds", result.Rounds),
		zap.Int("duplicates_removed", result.DuplicatesRemoved),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Bool("cancelled", cancelled),
		zap.Duration("elapsed", result.Elapsed))
}

func (o *Orchestrator) fail(ctx context.Context, h *runHandle, started time.Time, reason string) {
	h.finish(StateFailed, nil, reason)
	saved := o.persist(h)
	o.emit(ctx, Event{Type: EventRunFailed, RunID: h.id(), Reason: reason})
	h.complete(saved)
	o.telemetry.RecordRun(ctx, "failed", time.Since(started), 0)
	o.logger.Error("run failed", zap.String("run_id", h.id()), zap.String("reason", reason))
}

// initialDispatch schedules every worker with plan-derived defaults.
func (o *Orchestrator) initialDispatch(plan StrategyPlan, target int) []dispatch {
	perWorker := target/len(o.workerOrder) + 5
	batch := make([]dispatch, 0, len(o.workerOrder))
	for _, id := range o.workerOrder {
		batch = append(batch, dispatch{worker: o.workers[id], params: DefaultParameters(SourcePlatform(id), plan, perWorker)})
	}
	return batch
}

// DefaultParameters derives a worker's round-0 parameters from the plan.
func DefaultParameters(worker SourcePlatform, plan StrategyPlan, maxLeads int) ParameterSet {
	params := ParameterSet{MaxLeads: maxLeads}
	switch worker {
	case SourceReddit:
		params.Queries = append([]string(nil), plan.SearchTerms...)
	case SourceTechCrunch:
		params.Pages = []int{1, 2}
		if plan.IndustryFocus != "" {
			params.Queries = []string{plan.IndustryFocus}
		}
		params.TargetRoles = append([]string(nil), plan.TargetRoles...)
	case SourceCompetitorLinkedIn:
		params.Competitors = append([]string(nil), plan.CompetitorNames...)
	default:
		params.Queries = append([]string(nil), plan.SearchTerms...)
	}
	return params
}

// dispatchRound launches every scheduled worker at once and joins on all of them. A
// failing worker never cancels its siblings. results[i] belongs to batch[i].
func (o *Orchestrator) dispatchRound(ctx context.Context, h *runHandle, plan StrategyPlan, round int, batch []dispatch, total int) []WorkerResult {
	results := make([]WorkerResult, len(batch))
	var g errgroup.Group
	for i, d := range batch {
		i, d := i, d
		o.emit(ctx, Event{Type: EventWorkerStarted, RunID: h.id(), WorkerID: d.worker.ID(), Round: round})
		g.Go(func() error {
			res := o.invokeWorker(ctx, h.id(), plan, round, d)
			results[i] = res
			o.emit(ctx, Event{Type: EventWorkerCompleted, RunID: h.id(), WorkerID: d.worker.ID(), Round: round, LeadCount: len(res.Leads)})
			return nil
		})
	}
	h.setState(StateAwaitingWorkers, round, total)
	_ = g.Wait()
	return results
}

// invokeWorker bounds one call by the worker timeout. On expiry the call is abandoned and
// reported as a failed result with error "timeout".
func (o *Orchestrator) invokeWorker(ctx context.Context, runID string, plan StrategyPlan, round int, d dispatch) WorkerResult {
	timeout := o.config.Prospecting.WorkerTimeout
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	wctx, span := orchestratorTracer.Start(wctx, "prospect.worker", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("worker.id", d.worker.ID()),
		attribute.Int("round", round),
	))
	defer span.End()

	start := time.Now()
	done := make(chan WorkerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- WorkerResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		done <- d.worker.Invoke(wctx, plan, d.params)
	}()

	var res WorkerResult
	select {
	case res = <-done:
		if !res.Success && errors.Is(wctx.Err(), context.DeadlineExceeded) {
			res.Error = "timeout"
		}
	case <-wctx.Done():
		res = WorkerResult{Success: false, Error: "timeout"}
	}

	outcome := "success"
	switch {
	case res.Error == "timeout":
		outcome = "timeout"
	case !res.Success:
		outcome = "error"
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(attribute.Int("leads", len(res.Leads)))
	o.telemetry.RecordWorker(ctx, d.worker.ID(), outcome, len(res.Leads), time.Since(start))
	return res
}

// evaluate folds a round's results into history, pool and context and returns how many
// new distinct leads the round contributed.
func (o *Orchestrator) evaluate(rs *runState, round int, batch []dispatch, results []WorkerResult) int {
	before := rs.runningTotal
	for i, d := range batch {
		res := results[i]
		id := d.worker.ID()
		kept := 0
		for _, l := range res.Leads {
			if strings.TrimSpace(l.Name) == "" || l.IntentScore < 0 || l.IntentScore > 100 {
				continue
			}
			if l.SourcePlatform == "" {
				l.SourcePlatform = SourcePlatform(id)
			}
			l.SourceWorkerRound = round
			rs.pool = append(rs.pool, l)
			kept++
		}
		rs.sellersRemoved += res.SellersRemoved
		rs.history = append(rs.history, RoundOutcome{
			WorkerID:       id,
			RoundNumber:    round,
			LeadsFound:     kept,
			Succeeded:      res.Success,
			ParametersUsed: d.params,
			Error:          res.Error,
		})
		rs.pctx.Record(id, d.params)

		if !res.Success {
			var werr error
			if res.Error == "timeout" {
				werr = &WorkerTimeoutError{Worker: id, Round: round, Timeout: o.config.Prospecting.WorkerTimeout}
			} else {
				werr = &WorkerExecutionError{Worker: id, Round: round, Err: errors.New(res.Error)}
			}
			rs.errors = append(rs.errors, werr.Error())
			o.logger.Warn("worker failed", zap.String("worker", id), zap.Int("round", round), zap.Error(werr))
		}
	}
	rs.runningTotal = CountDistinct(rs.pool)
	return rs.runningTotal - before
}

func allFailed(results []WorkerResult) bool {
	for _, r := range results {
		if r.Success {
			return false
		}
	}
	return true
}

// compensate asks the compensator for actions and screens them. ok is false when the
// compensator failed, which ends the loop without failing the run.
func (o *Orchestrator) compensate(ctx context.Context, runID string, rs *runState, nextRound int) ([]dispatch, bool) {
	history := append([]RoundOutcome(nil), rs.history...)
	proposed, err := o.compensator.Decide(ctx, rs.runningTotal, rs.target, history, rs.pctx.Snapshot())
	if err != nil {
		o.logger.Warn("compensation failed, ending round loop", zap.Error(err))
		rs.errors = append(rs.errors, "compensation: "+err.Error())
		return nil, false
	}

	accepted := o.screenActions(proposed, rs)
	o.telemetry.RecordCompensation(ctx, len(accepted), len(proposed)-len(accepted))
	actions := make([]CompensationAction, len(accepted))
	batch := make([]dispatch, len(accepted))
	for i, a := range accepted {
		actions[i] = a
		batch[i] = dispatch{worker: o.workers[a.TargetWorker], params: a.AdjustedParameters}
	}
	o.emit(ctx, Event{Type: EventCompensationDecided, RunID: runID, Round: nextRound, Actions: actions})
	return batch, true
}

// screenActions enforces what the model is only asked to respect: known workers, the
// dead-worker guard, no byte-identical repeats, no reuse of fetched pages/queries/
// competitors, and the per-round cap.
func (o *Orchestrator) screenActions(proposed []CompensationAction, rs *runState) []CompensationAction {
	seen := make(map[string]struct{}, len(rs.history)+len(proposed))
	for _, h := range rs.history {
		seen[actionFingerprint(h.WorkerID, h.ParametersUsed)] = struct{}{}
	}

	var accepted []CompensationAction
	for _, a := range proposed {
		logger := o.logger.With(zap.String("worker", a.TargetWorker), zap.String("rationale", a.Rationale))
		if _, ok := o.workers[a.TargetWorker]; !ok {
			logger.Info("action discarded: unknown worker")
			continue
		}
		if isDeadWorker(rs.history, a.TargetWorker) {
			logger.Info("action discarded: worker returned no leads in its last two invocations")
			continue
		}
		if _, dup := seen[a.fingerprint()]; dup {
			logger.Info("action discarded: identical to a previous invocation")
			continue
		}
		refined, ok := rs.pctx.Refine(a.TargetWorker, a.AdjustedParameters)
		if !ok {
			logger.Info("action discarded: nothing new after removing already fetched work")
			continue
		}
		if refined.MaxLeads <= 0 {
			refined.MaxLeads = rs.target - rs.runningTotal + 5
		}
		a.AdjustedParameters = refined
		fp := a.fingerprint()
		if _, dup := seen[fp]; dup {
			logger.Info("action discarded: duplicate after refinement")
			continue
		}
		seen[fp] = struct{}{}
		accepted = append(accepted, a)
		if len(accepted) == MaxActionsPerRound {
			break
		}
	}
	return accepted
}

// isDeadWorker reports whether the worker's last two outcomes both found nothing.
func isDeadWorker(history []RoundOutcome, workerID string) bool {
	zeros := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].WorkerID != workerID {
			continue
		}
		if history[i].LeadsFound != 0 {
			return false
		}
		zeros++
		if zeros == 2 {
			return true
		}
	}
	return false
}

func (o *Orchestrator) emit(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	// terminal events must still go out after the run budget expired
	o.events.Emit(context.WithoutCancel(ctx), evt)
}

func (o *Orchestrator) persist(h *runHandle) bool {
	if o.runs == nil {
		return false
	}
	return o.save(recordOf(h.snapshot()))
}

func recordOf(s RunStatus) RunRecord {
	return RunRecord{
		RunID:              s.RunID,
		ProductDescription: s.ProductDescription,
		TargetLeads:        s.TargetLeads,
		Status:             s.State,
		Reason:             s.Reason,
		Result:             s.Result,
		CreatedAt:          s.StartedAt,
		FinishedAt:         s.FinishedAt,
	}
}

func (o *Orchestrator) save(rec RunRecord) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.runs.SaveRun(ctx, rec); err != nil {
		o.logger.Warn("persist run failed", zap.String("run_id", rec.RunID), zap.Error(err))
		return false
	}
	return true
}

// release drops a finished run from the process-local registry. A run whose terminal
// state reached the repository goes at once, since Status and GetResult read it from
// there. Otherwise it stays for storage.result_ttl.
func (o *Orchestrator) release(h *runHandle) {
	if !h.finished() {
		return
	}
	id := h.id()
	if h.persisted() {
		o.forget(id)
		return
	}
	retention := o.config.Storage.ResultTTL
	if retention <= 0 {
		retention = defaultResultRetention
	}
	time.AfterFunc(retention, func() { o.forget(id) })
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.processing, id)
	o.mu.Unlock()
}

// Shutdown interrupts every live run and waits for each to record a terminal state.
// Runs still going when ctx ends are stored as failed with an interrupted reason.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	live := make([]*runHandle, 0, len(o.processing))
	for _, h := range o.processing {
		if !h.finished() {
			live = append(live, h)
		}
	}
	o.mu.RUnlock()
	if len(live) == 0 {
		return nil
	}

	o.logger.Info("interrupting runs", zap.Int("runs", len(live)))
	for _, h := range live {
		h.interrupt()
	}
	var stuck []string
	for _, h := range live {
		select {
		case <-h.done:
			continue
		case <-ctx.Done():
		}
		if h.finished() {
			continue
		}
		stuck = append(stuck, h.id())
		if o.runs != nil {
			s := h.snapshot()
			now := time.Now().UTC()
			s.State = StateFailed
			s.Reason = interruptedReason
			s.Result = nil
			s.FinishedAt = &now
			o.save(recordOf(s))
		}
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%d runs still running at shutdown (%s): %w", len(stuck), strings.Join(stuck, ", "), ctx.Err())
	}
	return nil
}
