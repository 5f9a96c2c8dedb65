package snapshot

import (
	"testing"

	"github.com/weavecore/orchestrator/internal/plan"
)

func newPlan(traceID string, statuses ...plan.StepStatus) *plan.Plan {
	steps := make([]*plan.Step, len(statuses))
	for i, st := range statuses {
		steps[i] = &plan.Step{StepID: i + 1, Name: "s", Status: st}
	}
	p := &plan.Plan{TraceID: traceID, Steps: steps}
	_ = plan.InitializeDAG(p)
	return p
}

func TestCreate_IsDeepCopy(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(50)

	snap := m.Create(p, nil)
	p.Steps[0].Status = plan.StepRunning

	if snap.Steps[0].Status != plan.StepPending {
		t.Errorf("snapshot mutated by later plan change: got %v", snap.Steps[0].Status)
	}
}

func TestRingBufferEviction(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(2)

	first := m.Create(p, nil)
	m.Create(p, nil)
	m.Create(p, nil)

	if got := m.Stats("t1"); got != 2 {
		t.Fatalf("expected 2 retained snapshots, got %d", got)
	}
	if m.GetLatest("t1").ID == first.ID {
		t.Errorf("oldest snapshot should have been evicted")
	}
}

func TestGetRollbackSnapshot_FindsLastPending(t *testing.T) {
	p := newPlan("t1", plan.StepPending, plan.StepPending)
	m := NewManager(50)

	m.Create(p, nil) // step 2 pending here

	p.Steps[1].Status = plan.StepRunning
	m.Create(p, nil) // step 2 running here

	snap := m.GetRollbackSnapshot("t1", 2)
	if snap == nil {
		t.Fatal("expected a rollback snapshot")
	}
	for _, s := range snap.Steps {
		if s.StepID == 2 && s.Status != plan.StepPending {
			t.Errorf("rollback snapshot should have step 2 pending, got %v", s.Status)
		}
	}
}

func TestRestore_ReplacesStepsAndStepMap(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(50)
	snap := m.Create(p, nil)

	p.Steps[0].Status = plan.StepFailed
	Restore(p, snap)

	if p.Steps[0].Status != plan.StepPending {
		t.Errorf("restore did not reset status: got %v", p.Steps[0].Status)
	}
	if p.StepByID(1) != p.Steps[0] {
		t.Errorf("StepMap not rebuilt to point at restored steps")
	}
}

func TestCreate_CapturesContextAsDeepCopy(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(50)

	ctx := map[string]any{"user_query": "goal"}
	snap := m.Create(p, ctx)
	ctx["user_query"] = "mutated"
	ctx["step_1_output"] = "leaked in later"

	if snap.Context["user_query"] != "goal" {
		t.Errorf("snapshot context mutated by later caller change: got %v", snap.Context["user_query"])
	}
	if _, ok := snap.Context["step_1_output"]; ok {
		t.Errorf("snapshot context should not see keys added to the caller's map after capture")
	}
}

func TestRestore_DoesNotTouchCallerContext(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(50)
	snap := m.Create(p, map[string]any{"user_query": "goal"})

	p.Steps[0].Status = plan.StepFailed
	Restore(p, snap)

	if p.Steps[0].Status != plan.StepPending {
		t.Errorf("restore did not reset status: got %v", p.Steps[0].Status)
	}
	if snap.Context["user_query"] != "goal" {
		t.Errorf("expected snapshot context to remain available for the caller to restore separately")
	}
}

func TestClearTrace(t *testing.T) {
	p := newPlan("t1", plan.StepPending)
	m := NewManager(50)
	m.Create(p, nil)
	m.ClearTrace("t1")

	if m.GetLatest("t1") != nil {
		t.Errorf("expected no snapshots after ClearTrace")
	}
}
