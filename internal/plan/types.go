// Package plan defines the immutable plan structure produced by the parser
// collaborator and the derived DAG state the scheduler mutates at runtime.
package plan

import "time"

// StepStatus is the runtime state of a Step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Step is a single unit of work inside a Plan.
//
// StepID, Name, Description, ContextKeys and Dependencies come from the
// parser and are never mutated after InitializeDAG. InDegree, Successors,
// AssignedWorker, Status, Result, Error, StartTime and EndTime are runtime
// fields mutated only by the scheduler.
type Step struct {
	StepID       int
	Name         string
	Description  string
	ContextKeys  []string
	Dependencies []int

	InDegree       int
	Successors     []int
	AssignedWorker *WorkerHandle
	Status         StepStatus
	Result         string
	HasResult      bool
	Error          string
	StartTime      time.Time
	EndTime        time.Time
}

// WorkerHandle is the opaque descriptor produced by the Matcher facade.
// The core only ever looks at Name and URL; Capabilities is carried
// through opaquely for collaborators that want it.
type WorkerHandle struct {
	Name         string
	URL          string
	Capabilities map[string]any
}

// Clone returns a deep copy of the step, used by the snapshot manager.
func (s *Step) Clone() *Step {
	cp := *s
	cp.ContextKeys = append([]string(nil), s.ContextKeys...)
	cp.Dependencies = append([]int(nil), s.Dependencies...)
	cp.Successors = append([]int(nil), s.Successors...)
	if s.AssignedWorker != nil {
		wh := *s.AssignedWorker
		if s.AssignedWorker.Capabilities != nil {
			wh.Capabilities = make(map[string]any, len(s.AssignedWorker.Capabilities))
			for k, v := range s.AssignedWorker.Capabilities {
				wh.Capabilities[k] = v
			}
		}
		cp.AssignedWorker = &wh
	}
	return &cp
}

// Plan is the DAG of steps produced by the parser for one run.
type Plan struct {
	Goal    string
	TraceID string
	Steps   []*Step

	// StepMap is a derived index, not a back-reference: it maps each step
	// id to that step's pointer in Steps, and no step points back to Plan.
	StepMap map[int]*Step
}

// StepByID returns the step with the given id, or nil.
func (p *Plan) StepByID(id int) *Step {
	return p.StepMap[id]
}
