package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weavecore/orchestrator/internal/config"
	"github.com/weavecore/orchestrator/internal/executor"
	"github.com/weavecore/orchestrator/internal/logger"
	"github.com/weavecore/orchestrator/internal/metrics"
	"github.com/weavecore/orchestrator/internal/parserclient"
	"github.com/weavecore/orchestrator/internal/plan"
	"github.com/weavecore/orchestrator/internal/registry"
	"github.com/weavecore/orchestrator/internal/review"
	"github.com/weavecore/orchestrator/internal/snapshot"
	"github.com/weavecore/orchestrator/internal/telemetry"
)

// Scheduler is the workflow engine's core: it turns a goal into a stream
// of Events by parsing, matching, executing with bounded parallelism, and
// reviewing/retrying/rolling back/escalating according to configuration.
type Scheduler struct {
	parser    *parserclient.Client
	matcher   *registry.Matcher
	executor  *executor.Facade
	reviewer  *review.Facade
	snapshots *snapshot.Manager
	tracer    *telemetry.Provider
	log       *logger.Logger
	cfg       *config.Config
	contexts  *contextCache
	metrics   *metrics.Metrics
}

// New builds a Scheduler from its collaborators. m may be nil, in which
// case metric recording is skipped.
func New(
	parser *parserclient.Client,
	matcher *registry.Matcher,
	exec *executor.Facade,
	reviewer *review.Facade,
	snapshots *snapshot.Manager,
	tracer *telemetry.Provider,
	log *logger.Logger,
	cfg *config.Config,
	m *metrics.Metrics,
) *Scheduler {
	return &Scheduler{
		parser:    parser,
		matcher:   matcher,
		executor:  exec,
		reviewer:  reviewer,
		snapshots: snapshots,
		tracer:    tracer,
		log:       log,
		cfg:       cfg,
		contexts:  newContextCache(100),
		metrics:   m,
	}
}

// Stream runs a goal to completion, emitting Events on the returned
// channel. The channel is closed once the run reaches Complete or Error.
func (s *Scheduler) Stream(ctx context.Context, goal string) <-chan Event {
	out := make(chan Event, 16)
	go s.run(ctx, goal, out)
	return out
}

func (s *Scheduler) emit(out chan<- Event, e Event) {
	e.Timestamp = time.Now()
	out <- e
}

func (s *Scheduler) run(ctx context.Context, goal string, out chan<- Event) {
	defer close(out)

	traceID := uuid.New().String()
	ctx, span := s.tracer.StartTrace(ctx, traceID, goal)
	defer span.End()

	s.emit(out, Event{Phase: PhaseStart, TraceID: traceID, Message: fmt.Sprintf("received goal %q (trace_id: %s)", goal, traceID)})

	s.emit(out, Event{Phase: PhaseParsing, TraceID: traceID, Message: "parsing goal into steps"})
	p, err := s.parser.Parse(ctx, goal, traceID)
	if err != nil {
		s.emit(out, Event{Phase: PhaseError, TraceID: traceID, Error: err.Error(), Message: "failed to parse goal"})
		return
	}

	infos := make([]StepInfo, len(p.Steps))
	for i, step := range p.Steps {
		infos[i] = StepInfo{StepID: step.StepID, Name: step.Name, Dependencies: step.Dependencies}
	}
	s.emit(out, Event{Phase: PhaseParsing, TraceID: traceID, StepCount: len(p.Steps), StepInfos: infos, Message: fmt.Sprintf("goal decomposed into %d steps", len(p.Steps))})

	s.emit(out, Event{Phase: PhaseMatching, TraceID: traceID, Message: "matching steps to workers"})
	if err := s.matcher.MatchAll(ctx, p); err != nil {
		s.emit(out, Event{Phase: PhaseError, TraceID: traceID, Error: err.Error(), Message: "failed to match workers"})
		return
	}
	assignments := make([]Assignment, len(p.Steps))
	for i, step := range p.Steps {
		name := ""
		if step.AssignedWorker != nil {
			name = step.AssignedWorker.Name
		}
		assignments[i] = Assignment{StepID: step.StepID, Worker: name}
	}
	s.emit(out, Event{Phase: PhaseMatching, TraceID: traceID, Assignments: assignments, Message: "worker matching complete"})

	ctxStore := newContextStore(goal, traceID)
	reviewerHandle, _ := s.matcher.Match(ctx, s.cfg.Review.ReviewerCapability)

	s.emit(out, Event{Phase: PhaseExecution, TraceID: traceID, Message: "starting execution"})
	s.executeDAG(ctx, traceID, p, ctxStore, reviewerHandle, out)

	if s.cfg.Review.Enabled && s.cfg.Review.ReviewFinalOnly {
		s.finalReview(ctx, traceID, p, ctxStore, reviewerHandle, out)
	}

	successCount := 0
	for _, step := range p.Steps {
		if step.Status == plan.StepSuccess {
			successCount++
		}
	}

	s.contexts.put(traceID, ctxStore.snapshot())
	s.snapshots.ClearTrace(traceID)

	s.emit(out, Event{
		Phase:           PhaseComplete,
		TraceID:         traceID,
		IsComplete:      true,
		TotalSteps:      len(p.Steps),
		SuccessfulSteps: successCount,
		Message:         "workflow complete",
	})
}

// executeDAG drains the plan wave by wave: each wave is the current set of
// ready (in-degree zero, pending) steps, chunked into sub-batches of at
// most cfg.Parallel.MaxParallel steps each, run concurrently within a
// sub-batch and sequentially across sub-batches.
func (s *Scheduler) executeDAG(ctx context.Context, traceID string, p *plan.Plan, ctxStore *contextStore, reviewerHandle *plan.WorkerHandle, out chan<- Event) {
	queue := readySteps(p)
	aborted := false

	for len(queue) > 0 && !aborted {
		batch := queue
		queue = nil

		names := make([]string, len(batch))
		ids := make([]int, len(batch))
		for i, id := range batch {
			names[i] = p.StepByID(id).Name
			ids[i] = id
		}
		s.emit(out, Event{Phase: PhaseExecution, TraceID: traceID, BatchStepIDs: ids, Message: fmt.Sprintf("executing batch: %v", names)})
		if s.metrics != nil {
			s.metrics.UpdateActiveWaveSize(traceID, float64(len(batch)))
		}

		cap := s.cfg.Parallel.MaxParallel
		if cap <= 0 {
			cap = 5
		}

		for start := 0; start < len(batch); start += cap {
			end := start + cap
			if end > len(batch) {
				end = len(batch)
			}
			sub := batch[start:end]

			// Take a read-only baseline of the whole plan before dispatching
			// this chunk's tasks: each task snapshots against baseline+its
			// own working copy instead of reading the live, concurrently
			// mutating Plan.
			baseline := cloneSteps(p.Steps)

			results := s.runSubBatch(ctx, traceID, baseline, ctxStore, reviewerHandle, sub, out)

			for _, r := range results {
				step := p.StepByID(r.stepID)
				step.Status = r.status
				step.Result = r.result
				step.HasResult = r.hasResult
				step.Error = r.errMsg
				step.StartTime = r.startTime
				step.EndTime = r.endTime

				if s.metrics != nil {
					s.metrics.RecordStepExecuted(step.Name, string(step.Status), step.EndTime.Sub(step.StartTime).Seconds())
				}

				if r.needsRollback {
					if s.metrics != nil && r.verdict != nil {
						s.metrics.RecordRollback(string(r.verdict.Action))
					}
					s.handleRollback(traceID, p, step, r.verdict, &queue, ctxStore, out)
					// Written after the restore, which rewinds the context,
					// so the re-executed steps still see the suggestions.
					if r.suggestions != "" {
						ctxStore.set("_review_suggestions", r.suggestions)
					}
					continue
				}
				if step.Status == plan.StepFailed {
					if r.suggestions != "" {
						ctxStore.set("_review_suggestions", r.suggestions)
					}
					if s.metrics != nil && r.verdict != nil && r.verdict.Action == review.ActionEscalate {
						s.metrics.RecordEscalation()
					}
					s.emit(out, Event{Phase: PhaseError, TraceID: traceID, StepID: step.StepID, StepName: step.Name, Error: step.Error, Message: fmt.Sprintf("step %d failed: %s", step.StepID, step.Error)})
					if s.cfg.Parallel.FailStrategy == "abort" {
						cascadeSkip(p, step.StepID)
						aborted = true
					}
					continue
				}

				ctxStore.set(fmt.Sprintf("step_%d_output", step.StepID), r.result)

				preview := r.result
				if len(preview) > 150 {
					preview = preview[:150] + "..."
				}
				ev := Event{
					Phase:         PhaseStepComplete,
					TraceID:       traceID,
					StepID:        step.StepID,
					StepName:      step.Name,
					ResultPreview: preview,
					Message:       fmt.Sprintf("step %d (%s) complete", step.StepID, step.Name),
				}
				if r.verdict != nil {
					score := r.verdict.Score
					passed := r.verdict.Passed
					ev.ReviewScore = &score
					ev.ReviewPassed = &passed
				}
				s.emit(out, ev)

				for _, succID := range step.Successors {
					succ := p.StepByID(succID)
					succ.InDegree--
					if succ.InDegree == 0 && succ.Status == plan.StepPending {
						queue = append(queue, succID)
					}
				}
			}
		}
	}
}

// stepResult is the mutation a task hands back to the orchestrating
// goroutine. Tasks never write plan.Step fields on the shared Plan
// directly; the caller applies these fields to the real step once the
// task returns.
type stepResult struct {
	stepID        int
	status        plan.StepStatus
	result        string
	hasResult     bool
	errMsg        string
	startTime     time.Time
	endTime       time.Time
	verdict       *review.Verdict
	needsRollback bool
	suggestions   string
}

func cloneSteps(steps []*plan.Step) []*plan.Step {
	out := make([]*plan.Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

func (s *Scheduler) runSubBatch(ctx context.Context, traceID string, baseline []*plan.Step, ctxStore *contextStore, reviewerHandle *plan.WorkerHandle, stepIDs []int, out chan<- Event) []stepResult {
	results := make([]stepResult, len(stepIDs))
	var wg sync.WaitGroup
	for i, id := range stepIDs {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			results[i] = s.executeStepWithReview(ctx, traceID, baseline, id, ctxStore, reviewerHandle)
		}(i, id)
	}
	wg.Wait()
	return results
}

// executeStepWithReview runs a single step to completion: snapshot before
// every attempt, invoke the worker, review the result if configured, and
// retry/revert/escalate per the verdict. It operates entirely on a local
// working copy cloned from baseline, never touching the live Plan shared
// with sibling tasks in the same wave.
func (s *Scheduler) executeStepWithReview(ctx context.Context, traceID string, baseline []*plan.Step, stepID int, ctxStore *contextStore, reviewerHandle *plan.WorkerHandle) stepResult {
	maxRetries := s.cfg.Review.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var working *plan.Step
	for _, bs := range baseline {
		if bs.StepID == stepID {
			working = bs.Clone()
			break
		}
	}

	var lastVerdict *review.Verdict

	for attempt := 0; attempt < maxRetries; attempt++ {
		s.snapshots.CreateFromSteps(traceID, mergeSteps(baseline, working), ctxStore.snapshot())
		if s.metrics != nil {
			s.metrics.UpdateSnapshotsHeld(traceID, float64(s.snapshots.Stats(traceID)))
			if attempt > 0 {
				s.metrics.RecordStepRetry(working.Name)
			}
		}

		stepCtx, span := s.tracer.StartStep(ctx, working.StepID, working.Name, attempt)
		working.Status = plan.StepRunning
		working.StartTime = time.Now()

		workerURL := ""
		if working.AssignedWorker != nil {
			workerURL = working.AssignedWorker.URL
		}

		filteredContext := filterContext(working.ContextKeys, ctxStore.snapshot(), s.log)
		res, err := s.executor.Invoke(stepCtx, workerURL, working.Description, filteredContext)
		span.End()
		if err != nil {
			working.Status = plan.StepPending
			continue
		}

		working.Status = plan.StepSuccess
		working.Result = res.Text
		working.HasResult = true
		working.EndTime = time.Now()

		isFinal := isFinalStep(&plan.Plan{Steps: mergeSteps(baseline, working)}, working.StepID)
		shouldReview := s.cfg.Review.Enabled && review.ShouldReview(s.cfg.Review.ReviewAllSteps, s.cfg.Review.ReviewFinalOnly, s.cfg.Review.CriticalSteps, working, isFinal)

		if shouldReview && reviewerHandle != nil {
			reviewCtx, rspan := s.tracer.StartReview(ctx, working.StepID)
			reviewStart := time.Now()
			verdict := s.reviewer.Review(reviewCtx, reviewerHandle.URL, traceID, working, working.Dependencies, ctxStore.snapshot())
			rspan.End()
			if s.metrics != nil {
				outcome := "pass"
				if !verdict.Passed {
					outcome = "fail"
				}
				s.metrics.RecordReview(outcome, time.Since(reviewStart).Seconds(), verdict.Score)
			}
			lastVerdict = &verdict

			if !verdict.Passed {
				action := verdict.Action
				if action == review.ActionRevert && !s.cfg.Review.EnableRollback {
					// enable_rollback=false degrades Revert to Retry.
					action = review.ActionRetry
				}

				switch action {
				case review.ActionRevert:
					return toStepResult(working, lastVerdict, true, verdict.Suggestions)
				case review.ActionEscalate:
					working.Status = plan.StepFailed
					working.Error = fmt.Sprintf("escalated for human intervention: %s", verdict.Suggestions)
					return toStepResult(working, lastVerdict, false, verdict.Suggestions)
				default:
					working.Status = plan.StepPending
					continue
				}
			}
		}

		return toStepResult(working, lastVerdict, false, "")
	}

	working.Status = plan.StepFailed
	working.Error = fmt.Sprintf("exceeded max retries (%d)", maxRetries)
	return toStepResult(working, lastVerdict, false, "")
}

func toStepResult(working *plan.Step, verdict *review.Verdict, needsRollback bool, suggestions string) stepResult {
	return stepResult{
		stepID:        working.StepID,
		status:        working.Status,
		result:        working.Result,
		hasResult:     working.HasResult,
		errMsg:        working.Error,
		startTime:     working.StartTime,
		endTime:       working.EndTime,
		verdict:       verdict,
		needsRollback: needsRollback,
		suggestions:   suggestions,
	}
}

// mergeSteps returns a fresh step slice with working substituted for its
// counterpart in baseline, so a snapshot or a should-review check sees
// this task's current progress alongside a consistent read-only view of
// its wave siblings, without reading the live, concurrently mutating Plan.
func mergeSteps(baseline []*plan.Step, working *plan.Step) []*plan.Step {
	merged := make([]*plan.Step, len(baseline))
	for i, s := range baseline {
		if s.StepID == working.StepID {
			merged[i] = working
		} else {
			merged[i] = s
		}
	}
	return merged
}

func (s *Scheduler) handleRollback(traceID string, p *plan.Plan, step *plan.Step, verdict *review.Verdict, queue *[]int, ctxStore *contextStore, out chan<- Event) {
	target := 0
	if verdict != nil {
		target = verdict.RevertTo
	}

	snap := s.snapshots.GetRollbackSnapshot(traceID, target)
	if snap == nil {
		s.emit(out, Event{Phase: PhaseError, TraceID: traceID, StepID: step.StepID, Message: fmt.Sprintf("no rollback snapshot available for step %d", target)})
		step.Status = plan.StepFailed
		step.Error = "rollback target has no available snapshot"
		return
	}

	snapshot.Restore(p, snap)
	if ctxStore != nil {
		ctxStore.restore(snap.Context)
	}
	// Re-seed the whole queue from the restored in-degrees, not just the
	// rollback target: restoring a snapshot resets every downstream step
	// to its state when the snapshot was taken, so any of them may now be
	// ready again.
	*queue = readySteps(p)
	s.emit(out, Event{Phase: PhaseRollback, TraceID: traceID, RollbackTarget: target, Message: fmt.Sprintf("rolled back to step %d", target)})
}

func (s *Scheduler) finalReview(ctx context.Context, traceID string, p *plan.Plan, ctxStore *contextStore, reviewerHandle *plan.WorkerHandle, out chan<- Event) {
	if reviewerHandle == nil {
		return
	}
	s.emit(out, Event{Phase: PhaseFinalReview, TraceID: traceID, Message: "running final review"})

	combined := &plan.Step{StepID: 0, Description: p.Goal}
	var allResults string
	for _, step := range p.Steps {
		if step.Status == plan.StepSuccess && step.HasResult {
			allResults += fmt.Sprintf("## Step %d: %s\n\n%s\n\n", step.StepID, step.Name, step.Result)
		}
	}
	combined.Result = allResults

	verdict := s.reviewer.Review(ctx, reviewerHandle.URL, traceID, combined, nil, ctxStore.snapshot())
	s.emit(out, Event{
		Phase:        PhaseFinalReview,
		TraceID:      traceID,
		ReviewPassed: &verdict.Passed,
		ReviewScore:  &verdict.Score,
		Suggestions:  splitSuggestions(verdict.Suggestions),
		Message:      fmt.Sprintf("final review %s (score %.2f)", passFail(verdict.Passed), verdict.Score),
	})
}

func passFail(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func splitSuggestions(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// filterContext narrows the trace's full context down to the keys a step
// declared it needs, logging (non-fatally) any key the step expects that
// isn't present yet, grounded on the original source's execute_step
// context-filtering loop.
func filterContext(contextKeys []string, full map[string]any, log *logger.Logger) map[string]any {
	filtered := make(map[string]any, len(contextKeys))
	for _, key := range contextKeys {
		if v, ok := full[key]; ok {
			filtered[key] = v
		} else if log != nil {
			log.Warnw("context key not found for step", "key", key)
		}
	}
	return filtered
}

func readySteps(p *plan.Plan) []int {
	var ready []int
	for _, step := range p.Steps {
		if step.InDegree == 0 && step.Status == plan.StepPending {
			ready = append(ready, step.StepID)
		}
	}
	return ready
}

func isFinalStep(p *plan.Plan, stepID int) bool {
	for _, s := range p.Steps {
		if s.StepID == stepID {
			continue
		}
		if s.Status != plan.StepSuccess && s.Status != plan.StepFailed {
			return false
		}
	}
	return true
}

// cascadeSkip marks every transitive successor of a failed step as
// Skipped, grounded on the 88lin-divinesense DAGScheduler's cascadeSkip
// BFS used for the "abort" fail strategy.
func cascadeSkip(p *plan.Plan, failedStepID int) {
	queue := []int{failedStepID}
	seen := map[int]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step := p.StepByID(id)
		if step == nil {
			continue
		}
		for _, succID := range step.Successors {
			if seen[succID] {
				continue
			}
			seen[succID] = true
			succ := p.StepByID(succID)
			if succ != nil && succ.Status == plan.StepPending {
				succ.Status = plan.StepSkipped
			}
			queue = append(queue, succID)
		}
	}
}
