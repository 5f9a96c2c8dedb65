// Package review implements the Reviewer Facade: it scores a completed
// step's output, turns that score into a pass/fail verdict and, on
// failure, a RollbackAction recommending what the scheduler should do
// next. It also keeps an escalation ledger recording every step that was
// escalated for human attention, adapted from the teacher's risk-tiered
// ApprovalManager.
package review

import "time"

// RollbackAction tells the scheduler what to do after a failed review.
type RollbackAction string

const (
	// ActionRetry re-runs the same step in place.
	ActionRetry RollbackAction = "retry"
	// ActionRevert rolls the plan back to the latest snapshot in which the
	// highest-numbered dependency was still pending and re-enqueues from
	// there.
	ActionRevert RollbackAction = "revert"
	// ActionEscalate gives up on automatic recovery and records the
	// failure in the escalation ledger for a human to look at.
	ActionEscalate RollbackAction = "escalate"
)

// Verdict is the outcome of reviewing one step's output.
type Verdict struct {
	Passed      bool
	Score       float64
	Suggestions string
	Action      RollbackAction // zero value when Passed is true
	RevertTo    int            // target step id when Action == ActionRevert
}

// Escalation is a single ledger entry for a step that could not be
// automatically recovered.
type Escalation struct {
	ID        string
	TraceID   string
	StepID    int
	Reason    string
	Score     float64
	CreatedAt time.Time
}
