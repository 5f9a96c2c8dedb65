package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/weavecore/orchestrator/internal/config"
	"github.com/weavecore/orchestrator/internal/executor"
	"github.com/weavecore/orchestrator/internal/logger"
	"github.com/weavecore/orchestrator/internal/plan"
	"github.com/weavecore/orchestrator/internal/review"
	"github.com/weavecore/orchestrator/internal/snapshot"
	"github.com/weavecore/orchestrator/internal/telemetry"
)

func newTestScheduler(cfg *config.Config) *Scheduler {
	tp, _ := telemetry.NewProvider(context.Background(), config.Telemetry{Enabled: false})
	return &Scheduler{
		executor:  executor.NewFacade(time.Second, 1, time.Millisecond),
		reviewer:  review.NewFacade(cfg.Review.QualityThreshold, review.NewLedger()),
		snapshots: snapshot.NewManager(cfg.Snapshot.MaxPerTrace),
		tracer:    tp,
		log:       logger.NewLogger(),
		cfg:       cfg,
		contexts:  newContextCache(10),
	}
}

func workerServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"result": map[string]any{
				"message": map[string]any{
					"parts": []map[string]any{{"text": text}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestReadySteps_OnlyZeroInDegreePending(t *testing.T) {
	p := &plan.Plan{Steps: []*plan.Step{
		{StepID: 1, InDegree: 0, Status: plan.StepPending},
		{StepID: 2, InDegree: 1, Status: plan.StepPending},
		{StepID: 3, InDegree: 0, Status: plan.StepSuccess},
	}}

	got := readySteps(p)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only step 1 ready, got %v", got)
	}
}

func TestIsFinalStep_TrueWhenAllOthersTerminal(t *testing.T) {
	p := &plan.Plan{Steps: []*plan.Step{
		{StepID: 1, Status: plan.StepSuccess},
		{StepID: 2, Status: plan.StepFailed},
		{StepID: 3, Status: plan.StepRunning},
	}}

	if !isFinalStep(p, 3) {
		t.Error("expected step 3 to be final: all others are terminal")
	}
	if isFinalStep(p, 1) {
		t.Error("expected step 1 not final: step 3 is still running")
	}
}

func TestCascadeSkip_MarksTransitiveSuccessorsOnly(t *testing.T) {
	p := &plan.Plan{StepMap: map[int]*plan.Step{}}
	s1 := &plan.Step{StepID: 1, Successors: []int{2}, Status: plan.StepFailed}
	s2 := &plan.Step{StepID: 2, Successors: []int{3}, Status: plan.StepPending}
	s3 := &plan.Step{StepID: 3, Status: plan.StepPending}
	s4 := &plan.Step{StepID: 4, Status: plan.StepPending}
	p.Steps = []*plan.Step{s1, s2, s3, s4}
	for _, s := range p.Steps {
		p.StepMap[s.StepID] = s
	}

	cascadeSkip(p, 1)

	if s2.Status != plan.StepSkipped {
		t.Errorf("expected step 2 skipped, got %s", s2.Status)
	}
	if s3.Status != plan.StepSkipped {
		t.Errorf("expected step 3 skipped, got %s", s3.Status)
	}
	if s4.Status != plan.StepPending {
		t.Errorf("expected unrelated step 4 untouched, got %s", s4.Status)
	}
}

func TestExecuteDAG_LinearChainSucceedsWithoutReview(t *testing.T) {
	srv := workerServer(t, "done")
	defer srv.Close()

	cfg := config.Default()
	cfg.Review.Enabled = false
	s := newTestScheduler(cfg)

	p := &plan.Plan{TraceID: "t1", StepMap: map[int]*plan.Step{}}
	s1 := &plan.Step{StepID: 1, Name: "a", Status: plan.StepPending, AssignedWorker: &plan.WorkerHandle{URL: srv.URL}, Successors: []int{2}}
	s2 := &plan.Step{StepID: 2, Name: "b", Status: plan.StepPending, AssignedWorker: &plan.WorkerHandle{URL: srv.URL}, Dependencies: []int{1}, InDegree: 1}
	p.Steps = []*plan.Step{s1, s2}
	p.StepMap[1] = s1
	p.StepMap[2] = s2

	out := make(chan Event, 32)
	ctxStore := newContextStore("goal", "t1")
	s.executeDAG(context.Background(), "t1", p, ctxStore, nil, out)
	close(out)

	if s1.Status != plan.StepSuccess || s2.Status != plan.StepSuccess {
		t.Fatalf("expected both steps to succeed, got %s / %s", s1.Status, s2.Status)
	}
	snap := ctxStore.snapshot()
	if snap["step_1_output"] != "done" {
		t.Errorf("expected step_1_output recorded, got %v", snap["step_1_output"])
	}
}

func TestExecuteDAG_AbortStrategyCascadeSkipsDescendants(t *testing.T) {
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	cfg := config.Default()
	cfg.Review.Enabled = false
	cfg.Review.MaxRetries = 1
	cfg.Parallel.FailStrategy = "abort"
	s := newTestScheduler(cfg)

	p := &plan.Plan{TraceID: "t2", StepMap: map[int]*plan.Step{}}
	s1 := &plan.Step{StepID: 1, Name: "a", Status: plan.StepPending, AssignedWorker: &plan.WorkerHandle{URL: failSrv.URL}, Successors: []int{2}}
	s2 := &plan.Step{StepID: 2, Name: "b", Status: plan.StepPending, Dependencies: []int{1}, InDegree: 1}
	p.Steps = []*plan.Step{s1, s2}
	p.StepMap[1] = s1
	p.StepMap[2] = s2

	out := make(chan Event, 32)
	ctxStore := newContextStore("goal", "t2")
	s.executeDAG(context.Background(), "t2", p, ctxStore, nil, out)
	close(out)

	if s1.Status != plan.StepFailed {
		t.Fatalf("expected step 1 failed, got %s", s1.Status)
	}
	if s2.Status != plan.StepSkipped {
		t.Fatalf("expected step 2 cascade-skipped, got %s", s2.Status)
	}
}

func TestExecuteStepWithReview_RetriesOnFailingReviewThenPasses(t *testing.T) {
	workerSrv := workerServer(t, "draft output")
	defer workerSrv.Close()

	calls := 0
	reviewSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		score, passed := 0.9, true
		if calls == 1 {
			score, passed = 0.6, false // first review lands in the retry band
		}
		payload := map[string]any{"passed": passed, "score": score}
		body, _ := json.Marshal(payload)
		resp := map[string]any{
			"result": map[string]any{
				"message": map[string]any{
					"parts": []map[string]any{{"text": string(body)}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer reviewSrv.Close()

	cfg := config.Default()
	cfg.Review.Enabled = true
	cfg.Review.ReviewFinalOnly = false
	cfg.Review.ReviewAllSteps = true
	cfg.Review.MaxRetries = 2
	s := newTestScheduler(cfg)

	step := &plan.Step{StepID: 1, Name: "a", Status: plan.StepPending, AssignedWorker: &plan.WorkerHandle{URL: workerSrv.URL}}
	baseline := []*plan.Step{step}

	ctxStore := newContextStore("goal", "t3")
	reviewerHandle := &plan.WorkerHandle{URL: reviewSrv.URL}

	result := s.executeStepWithReview(context.Background(), "t3", baseline, 1, ctxStore, reviewerHandle)

	if result.status != plan.StepSuccess {
		t.Fatalf("expected step to succeed after passing review, got %s", result.status)
	}
	if result.verdict == nil || !result.verdict.Passed {
		t.Fatalf("expected a passing verdict, got %+v", result.verdict)
	}
}

func TestHandleRollback_RestoresSnapshotAndRequeuesTarget(t *testing.T) {
	cfg := config.Default()
	s := newTestScheduler(cfg)

	p := &plan.Plan{TraceID: "t4", StepMap: map[int]*plan.Step{}}
	s1 := &plan.Step{StepID: 1, Name: "a", Status: plan.StepPending}
	p.Steps = []*plan.Step{s1}
	p.StepMap[1] = s1

	ctxStore := newContextStore("goal", "t4")
	s.snapshots.Create(p, ctxStore.snapshot())

	s1.Status = plan.StepSuccess
	ctxStore.set("step_1_output", "draft")
	ctxStore.set("_review_suggestions", "fix the thing")
	step := &plan.Step{StepID: 2, Name: "b"}
	verdict := &review.Verdict{Action: review.ActionRevert, RevertTo: 1}

	out := make(chan Event, 4)
	var queue []int
	s.handleRollback("t4", p, step, verdict, &queue, ctxStore, out)
	close(out)

	if _, ok := ctxStore.snapshot()["step_1_output"]; ok {
		t.Error("expected context written after the snapshot to be rolled back away")
	}
	if _, ok := ctxStore.snapshot()["_review_suggestions"]; ok {
		t.Error("expected stale review suggestions to be rolled back away")
	}

	if p.StepByID(1).Status != plan.StepPending {
		t.Fatalf("expected step 1 restored to pending, got %s", p.StepByID(1).Status)
	}
	if len(queue) != 1 || queue[0] != 1 {
		t.Fatalf("expected target step requeued, got %v", queue)
	}

	found := false
	for ev := range out {
		if ev.Phase == PhaseRollback && ev.RollbackTarget == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected a rollback event for target step 1")
	}
}
