package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weavecore/orchestrator/internal/plan"
)

// rawVerdict is the wire shape returned by a reviewer worker, grounded on
// real_ecosystem/agents/quality_reviewer.go's JSON contract.
type rawVerdict struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Rollback    *struct {
		ActionType   string `json:"action_type"`
		TargetStepID int    `json:"target_step_id"`
		Reason       string `json:"reason"`
	} `json:"rollback_recommendation"`
}

// Facade calls a reviewer worker over HTTP and turns its response into a
// Verdict, overriding the worker's own boolean with a threshold-based
// decision so a misbehaving reviewer can't rubber-stamp everything.
type Facade struct {
	httpClient *http.Client
	threshold  float64
	ledger     *Ledger
}

// NewFacade builds a review Facade. threshold is the minimum score that
// counts as a pass, regardless of what the reviewer itself reports.
func NewFacade(threshold float64, ledger *Ledger) *Facade {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Facade{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		threshold:  threshold,
		ledger:     ledger,
	}
}

// ShouldReview decides whether a step needs review given the configured
// policy: always-on review of every step, final-step-only review, or an
// explicit critical-steps allowlist.
func ShouldReview(reviewAllSteps, reviewFinalOnly bool, criticalSteps []int, step *plan.Step, isFinalStep bool) bool {
	if reviewAllSteps {
		return true
	}
	for _, id := range criticalSteps {
		if id == step.StepID {
			return true
		}
	}
	if reviewFinalOnly {
		return isFinalStep
	}
	return false
}

// Review sends the step's result to the reviewer worker and returns a
// Verdict. On any transport or decode failure it falls back to a lenient
// pass, grounded on the original source's quality_reviewer.go error path
// which returns passed=true, score=0.7 rather than blocking the run.
func (f *Facade) Review(ctx context.Context, reviewerURL string, traceID string, step *plan.Step, dependencies []int, contextSnapshot map[string]any) Verdict {
	payload := map[string]any{
		"task_description": step.Description,
		"result":           step.Result,
		"context":          contextSnapshot,
		"step_id":          step.StepID,
		"dependencies":     dependencies,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return f.lenientFallback()
	}

	envelope := map[string]any{
		"id":     uuid.New().String(),
		"method": "sendMessage",
		"params": map[string]any{
			"message": map[string]any{
				"messageId": uuid.New().String(),
				"role":      "user",
				"parts": []map[string]any{
					{"text": string(body)},
				},
			},
		},
	}
	envBody, err := json.Marshal(envelope)
	if err != nil {
		return f.lenientFallback()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reviewerURL, bytes.NewReader(envBody))
	if err != nil {
		return f.lenientFallback()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return f.lenientFallback()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.lenientFallback()
	}

	text, err := extractText(respBody)
	if err != nil {
		return f.lenientFallback()
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(stripJSONFence(text)), &raw); err != nil {
		return f.lenientFallback()
	}

	verdict := Verdict{
		Score: raw.Score,
	}
	verdict.Passed = raw.Score >= f.threshold
	if len(raw.Suggestions) > 0 {
		verdict.Suggestions = strings.Join(raw.Suggestions, "; ")
	} else if len(raw.Issues) > 0 {
		verdict.Suggestions = strings.Join(raw.Issues, "; ")
	}

	if !verdict.Passed {
		verdict.Action, verdict.RevertTo = actionForScore(raw.Score, dependencies)
		if verdict.Action == ActionEscalate && f.ledger != nil {
			f.ledger.Record(traceID, step.StepID, verdict.Suggestions, raw.Score)
		}
	}

	return verdict
}

// actionForScore maps a failing score to a RollbackAction, following the
// bands documented by the reviewer worker contract: 0.5-threshold retry,
// 0.3-0.5 revert to the highest-numbered dependency (escalate instead when
// there are no dependencies), below 0.3 escalate.
func actionForScore(score float64, dependencies []int) (RollbackAction, int) {
	switch {
	case score >= 0.5:
		return ActionRetry, 0
	case score >= 0.3 && len(dependencies) > 0:
		return ActionRevert, maxInt(dependencies)
	default:
		return ActionEscalate, 0
	}
}

func maxInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func (f *Facade) lenientFallback() Verdict {
	return Verdict{Passed: true, Score: 0.7, Suggestions: "reviewer unreachable, defaulted to pass"}
}

// extractText walks the fallback chain result.message.parts[0].text ->
// result.text -> raw body, grounded on the teacher's task/router.go
// response-unwrapping habit applied to the A2A envelope shape.
func extractText(body []byte) (string, error) {
	var env struct {
		Result struct {
			Message struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Result.Message.Parts) > 0 && env.Result.Message.Parts[0].Text != "" {
			return env.Result.Message.Parts[0].Text, nil
		}
		if env.Result.Text != "" {
			return env.Result.Text, nil
		}
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty response body")
	}
	return string(body), nil
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "```json") {
		parts := strings.SplitN(s, "```json", 2)
		if len(parts) == 2 {
			s = strings.SplitN(parts[1], "```", 2)[0]
		}
	} else if strings.Contains(s, "```") {
		parts := strings.SplitN(s, "```", 2)
		if len(parts) == 2 {
			s = strings.SplitN(parts[1], "```", 2)[0]
		}
	}
	return strings.TrimSpace(s)
}
