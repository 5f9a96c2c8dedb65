package plan

import "fmt"

// InitializeDAG builds the step map, renumbers duplicate step ids
// deterministically (1..N, preserving order), validates that every
// dependency references a real step, computes in-degrees and successors,
// and rejects cyclic graphs.
//
// Grounded on the original source's ExecutionPlan.init_dag/check_cycle and
// on the teacher's habit of validating input before doing any work
// (task.Router.validateTaskRequest).
func InitializeDAG(p *Plan) error {
	if p == nil {
		return fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}

	renumberIfDuplicate(p)

	p.StepMap = make(map[int]*Step, len(p.Steps))
	for _, s := range p.Steps {
		if s.StepID <= 0 {
			return fmt.Errorf("%w: step id %d is not positive", ErrInvalidPlan, s.StepID)
		}
		if _, exists := p.StepMap[s.StepID]; exists {
			return fmt.Errorf("%w: duplicate step id %d after renumbering", ErrInvalidPlan, s.StepID)
		}
		p.StepMap[s.StepID] = s
		s.Successors = nil
		s.InDegree = 0
	}

	for _, s := range p.Steps {
		s.InDegree = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			depStep, ok := p.StepMap[dep]
			if !ok {
				return fmt.Errorf("%w: step %d depends on unknown step %d", ErrInvalidPlan, s.StepID, dep)
			}
			depStep.Successors = append(depStep.Successors, s.StepID)
		}
	}

	if DetectCycle(p) {
		return ErrCyclicPlan
	}

	return nil
}

// renumberIfDuplicate detects duplicate step ids and, if found, renumbers
// every step 1..N preserving the original order. Dependencies are rewritten
// along the same mapping; a dependency on a duplicated id resolves to the
// first step that carried it.
func renumberIfDuplicate(p *Plan) {
	seen := make(map[int]bool, len(p.Steps))
	duplicate := false
	for _, s := range p.Steps {
		if seen[s.StepID] {
			duplicate = true
			break
		}
		seen[s.StepID] = true
	}
	if !duplicate {
		return
	}

	remap := make(map[int]int, len(p.Steps))
	for i, s := range p.Steps {
		if _, ok := remap[s.StepID]; !ok {
			remap[s.StepID] = i + 1
		}
	}
	for i, s := range p.Steps {
		s.StepID = i + 1
		newDeps := make([]int, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			if nd, ok := remap[d]; ok {
				newDeps = append(newDeps, nd)
			}
		}
		s.Dependencies = newDeps
	}
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on-stack
	black              // done
)

// DetectCycle runs a three-color DFS over the successors graph. Any back
// edge to a gray (on-stack) node is a cycle. It is guaranteed to terminate
// for all ids, not only roots, by starting a fresh DFS from every
// unvisited node.
func DetectCycle(p *Plan) bool {
	colors := make(map[int]color, len(p.StepMap))
	for id := range p.StepMap {
		colors[id] = white
	}

	var visit func(id int) bool
	visit = func(id int) bool {
		switch colors[id] {
		case gray:
			return true
		case black:
			return false
		}
		colors[id] = gray
		for _, succ := range p.StepMap[id].Successors {
			if visit(succ) {
				return true
			}
		}
		colors[id] = black
		return false
	}

	for id := range p.StepMap {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}
