package review

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger records every step that the Reviewer Facade escalated instead of
// retrying or reverting, so an operator can later inspect what needed
// human attention.
//
// Adapted from the teacher's coordination.ApprovalManager: that type
// tracked pending/approved/rejected states with risk-tiered expirations
// for a human-in-the-loop approval gate. There is no approval gate in
// this domain (a failed step either recovers automatically or it
// doesn't), so the state machine is dropped; what survives is the
// in-memory, mutex-guarded, per-customer-like (here: per-trace) ledger
// shape and its list/get accessors.
type Ledger struct {
	mu          sync.Mutex
	escalations map[string]*Escalation
}

// NewLedger builds an empty escalation ledger.
func NewLedger() *Ledger {
	return &Ledger{escalations: make(map[string]*Escalation)}
}

// Record appends a new escalation entry.
func (l *Ledger) Record(traceID string, stepID int, reason string, score float64) *Escalation {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Escalation{
		ID:        uuid.New().String(),
		TraceID:   traceID,
		StepID:    stepID,
		Reason:    reason,
		Score:     score,
		CreatedAt: time.Now(),
	}
	l.escalations[e.ID] = e
	return e
}

// Get returns a single escalation by id.
func (l *Ledger) Get(id string) (*Escalation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escalations[id]
	if !ok {
		return nil, fmt.Errorf("escalation not found: %s", id)
	}
	return e, nil
}

// ListByTrace returns every escalation recorded for a trace, in the order
// they occurred.
func (l *Ledger) ListByTrace(traceID string) []*Escalation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Escalation, 0)
	for _, e := range l.escalations {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	// Stable by creation time since map iteration order is random.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].CreatedAt.After(out[j].CreatedAt); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
