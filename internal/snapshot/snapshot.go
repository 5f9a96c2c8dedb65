// Package snapshot implements the deep-copy rollback mechanism for a
// workflow run: a Snapshot is captured before every step execution
// attempt, and a failed step can be rolled back to the most recent
// snapshot where its target step was still pending.
//
// Grounded on the teacher's coordination/executor.go rollback idiom
// (rollbackPlan/rollbackStep against an in-memory execution history) and
// on the original source's workflow_enhanced._create_snapshot /
// _restore_from_snapshot, which snapshot the full plan state before each
// attempt rather than once per step.
package snapshot

import (
	"sync"

	"github.com/google/uuid"

	"github.com/weavecore/orchestrator/internal/plan"
)

// Snapshot is a deep copy of a Plan's steps and run context at a point in
// time.
type Snapshot struct {
	ID      string
	TraceID string
	Steps   []*plan.Step
	Context map[string]any
}

// Manager keeps a bounded, per-trace ring buffer of snapshots.
type Manager struct {
	mu          sync.Mutex
	maxPerTrace int
	byTrace     map[string][]*Snapshot
}

// NewManager builds a Manager that retains at most maxPerTrace snapshots
// per trace, evicting the oldest once the limit is exceeded.
func NewManager(maxPerTrace int) *Manager {
	if maxPerTrace <= 0 {
		maxPerTrace = 50
	}
	return &Manager{
		maxPerTrace: maxPerTrace,
		byTrace:     make(map[string][]*Snapshot),
	}
}

// Create deep-copies the plan's current steps and the given run context
// into a new snapshot and appends it to the trace's ring buffer, evicting
// the oldest entry if the buffer is full.
func (m *Manager) Create(p *plan.Plan, context map[string]any) *Snapshot {
	return m.CreateFromSteps(p.TraceID, p.Steps, context)
}

// CreateFromSteps is the same as Create but takes an explicit step slice
// rather than reading it off a live Plan. A concurrently-executing step
// task uses this with a slice that mixes its own working copy with a
// read-only baseline of its wave siblings, so the snapshot can be taken
// without reading another goroutine's in-flight step mutation directly —
// per the scheduler's rule that only it, never a task, touches shared
// plan state.
func (m *Manager) CreateFromSteps(traceID string, steps []*plan.Step, context map[string]any) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	cloned := make([]*plan.Step, len(steps))
	for i, s := range steps {
		cloned[i] = s.Clone()
	}

	clonedContext := make(map[string]any, len(context))
	for k, v := range context {
		clonedContext[k] = v
	}

	snap := &Snapshot{
		ID:      uuid.New().String(),
		TraceID: traceID,
		Steps:   cloned,
		Context: clonedContext,
	}

	buf := m.byTrace[traceID]
	buf = append(buf, snap)
	if len(buf) > m.maxPerTrace {
		buf = buf[len(buf)-m.maxPerTrace:]
	}
	m.byTrace[traceID] = buf

	return snap
}

// GetLatest returns the most recently created snapshot for a trace, or nil.
func (m *Manager) GetLatest(traceID string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.byTrace[traceID]
	if len(buf) == 0 {
		return nil
	}
	return buf[len(buf)-1]
}

// GetRollbackSnapshot returns the most recent snapshot, scanning from
// newest to oldest, in which targetStepID was still Pending. Snapshots are
// taken before every attempt, so for a target that was retried this is a
// snapshot from before its latest attempt, not its first.
func (m *Manager) GetRollbackSnapshot(traceID string, targetStepID int) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.byTrace[traceID]
	for i := len(buf) - 1; i >= 0; i-- {
		for _, s := range buf[i].Steps {
			if s.StepID == targetStepID && s.Status == plan.StepPending {
				return buf[i]
			}
		}
	}
	return nil
}

// Restore overwrites p's steps in place with deep copies from the
// snapshot, preserving the Plan's identity (StepMap, TraceID, Goal) while
// resetting step state to what it was when the snapshot was taken. It does
// not touch the run's context store — callers that also need the context
// rewound to the snapshot's point in time should restore snap.Context
// themselves (see engine.Scheduler.handleRollback).
func Restore(p *plan.Plan, snap *Snapshot) {
	if snap == nil {
		return
	}
	restored := make([]*plan.Step, len(snap.Steps))
	for i, s := range snap.Steps {
		restored[i] = s.Clone()
	}
	p.Steps = restored
	p.StepMap = make(map[int]*plan.Step, len(restored))
	for _, s := range restored {
		p.StepMap[s.StepID] = s
	}
}

// ClearTrace releases every snapshot held for a trace, once the run is
// complete and rollback is no longer possible.
func (m *Manager) ClearTrace(traceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTrace, traceID)
}

// Stats reports how many snapshots are currently retained for a trace.
// Supplemental introspection used by the trace-inspection API endpoint.
func (m *Manager) Stats(traceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTrace[traceID])
}
