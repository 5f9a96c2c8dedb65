package plan

import "errors"

// ErrInvalidPlan is returned when a plan references a missing dependency or
// carries duplicate step ids that cannot be renumbered deterministically.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrCyclicPlan is returned when the dependency graph contains a cycle.
var ErrCyclicPlan = errors.New("cyclic plan")
