// Package engine implements the Scheduler: the component that takes a
// validated plan.Plan, matches its steps to workers, executes them with
// bounded parallelism honoring dependencies, reviews outputs, and
// retries/rolls back/escalates based on review verdicts. Progress is
// reported as a stream of Events, mirroring the original source's
// async-generator stream() but expressed as a Go channel.
package engine

import "time"

// Phase identifies the stage of a run an Event describes.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhaseParsing     Phase = "parsing"
	PhaseMatching    Phase = "matching"
	PhaseExecution   Phase = "execution"
	PhaseStepComplete Phase = "step_complete"
	PhaseRollback    Phase = "rollback"
	PhaseFinalReview Phase = "final_review"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
	PhaseProgress    Phase = "progress"
)

// Event is one update in a run's timeline. Fields not relevant to a given
// Phase are left at their zero value.
type Event struct {
	Phase     Phase
	TraceID   string
	Timestamp time.Time
	Message   string

	// Parsing
	StepCount int
	StepInfos []StepInfo

	// Matching
	Assignments []Assignment

	// Execution
	BatchStepIDs []int

	// StepComplete / Error
	StepID        int
	StepName      string
	ResultPreview string
	ReviewScore   *float64
	ReviewPassed  *bool
	Error         string

	// Rollback
	RollbackTarget int

	// FinalReview
	Issues      []string
	Suggestions []string

	// Complete
	IsComplete     bool
	TotalSteps     int
	SuccessfulSteps int
}

// StepInfo summarizes a step for the parsing-phase event.
type StepInfo struct {
	StepID       int
	Name         string
	Dependencies []int
}

// Assignment summarizes a worker match for the matching-phase event.
type Assignment struct {
	StepID int
	Worker string
}
