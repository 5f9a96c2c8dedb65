package review

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/weavecore/orchestrator/internal/plan"
)

func TestShouldReview_Modes(t *testing.T) {
	step := &plan.Step{StepID: 3}

	if !ShouldReview(true, false, nil, step, false) {
		t.Error("review_all_steps should force review")
	}
	if !ShouldReview(false, true, nil, step, true) {
		t.Error("review_final_only should review the final step")
	}
	if ShouldReview(false, true, nil, step, false) {
		t.Error("review_final_only should skip non-final steps")
	}
	if !ShouldReview(false, false, []int{3}, step, false) {
		t.Error("critical step id should force review")
	}
	if ShouldReview(false, false, []int{4}, step, false) {
		t.Error("non-critical step should not be reviewed")
	}
	if !ShouldReview(false, true, []int{3}, step, false) {
		t.Error("critical step id should force review even when review_final_only is set and the step isn't final")
	}
}

func TestActionForScore_Bands(t *testing.T) {
	if a, _ := actionForScore(0.6, []int{1}); a != ActionRetry {
		t.Errorf("0.6 should retry, got %v", a)
	}
	if a, to := actionForScore(0.4, []int{1, 2}); a != ActionRevert || to != 2 {
		t.Errorf("0.4 should revert to max dep, got %v %d", a, to)
	}
	if a, _ := actionForScore(0.4, nil); a != ActionEscalate {
		t.Errorf("0.4 with no dependencies should escalate, got %v", a)
	}
	if a, _ := actionForScore(0.1, []int{1}); a != ActionEscalate {
		t.Errorf("0.1 should escalate, got %v", a)
	}
}

func TestReview_PassingScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"message":{"role":"model","parts":[{"text":"{\"passed\":true,\"score\":0.9,\"issues\":[],\"suggestions\":[]}"}]}}}`))
	}))
	defer srv.Close()

	f := NewFacade(0.7, NewLedger())
	v := f.Review(context.Background(), srv.URL, "trace-1", &plan.Step{StepID: 1, Result: "ok"}, nil, nil)

	if !v.Passed {
		t.Errorf("expected pass, got %+v", v)
	}
	if v.Score != 0.9 {
		t.Errorf("expected score 0.9, got %f", v.Score)
	}
}

func TestReview_EscalatesAndRecordsLedger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("```json\n{\"passed\":false,\"score\":0.1,\"issues\":[\"bad\"]}\n```"))
	}))
	defer srv.Close()

	ledger := NewLedger()
	f := NewFacade(0.7, ledger)
	v := f.Review(context.Background(), srv.URL, "trace-2", &plan.Step{StepID: 5}, []int{1}, nil)

	if v.Passed || v.Action != ActionEscalate {
		t.Fatalf("expected escalation, got %+v", v)
	}
	if len(ledger.ListByTrace("trace-2")) != 1 {
		t.Errorf("expected one ledger entry")
	}
}

func TestReview_TransportFailureIsLenient(t *testing.T) {
	f := NewFacade(0.7, nil)
	v := f.Review(context.Background(), "http://127.0.0.1:0", "trace-3", &plan.Step{StepID: 1}, nil, nil)

	if !v.Passed || v.Score != 0.7 {
		t.Errorf("expected lenient fallback, got %+v", v)
	}
}
