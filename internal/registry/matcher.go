package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/weavecore/orchestrator/internal/plan"
)

// cacheEntry pairs a resolved WorkerHandle with its expiry, mirroring the
// original source's agent_cache: Dict[str, Tuple[AgentCard, datetime]].
type cacheEntry struct {
	handle  *plan.WorkerHandle
	expires time.Time
}

// Matcher resolves a step's description to a worker, preferring an
// Assisted lookup (fetch the full agent list, let an LLM pick the best
// name) and falling back to a Direct lookup (find_agent(description))
// when Assisted mode is unavailable or inconclusive.
//
// Grounded on original_source's CapabilityMatcherLayer: the TTL cache
// keyed by description, the LLM-assisted-first-then-direct-fallback
// order, and the resolved handle's name/capabilities shape.
type Matcher struct {
	registry *Registry
	ttl      time.Duration
	llm      LLMSelector

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// LLMSelector picks the best-fitting agent name for a step description out
// of a list of candidate summaries. Assisted mode is skipped when nil.
type LLMSelector interface {
	SelectAgent(ctx context.Context, description string, candidates []AgentSummary) (string, error)
}

// AgentSummary is the compact agent description handed to an LLMSelector,
// matching the "{name}: {description} (keywords: ...)" shape the original
// source builds for its matching prompt.
type AgentSummary struct {
	Name        string
	Description string
	Tags        []string
}

// NewMatcher builds a Matcher backed by the given registry. llm may be
// nil, in which case every resolution goes straight to Direct mode.
func NewMatcher(reg *Registry, ttl time.Duration, llm LLMSelector) *Matcher {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Matcher{
		registry: reg,
		ttl:      ttl,
		llm:      llm,
		cache:    make(map[string]cacheEntry),
	}
}

// MatchAll resolves a WorkerHandle for every step in the plan, skipping
// steps that already carry an assignment.
func (m *Matcher) MatchAll(ctx context.Context, p *plan.Plan) error {
	for _, step := range p.Steps {
		if step.AssignedWorker != nil {
			continue
		}
		handle, err := m.Match(ctx, step.Description)
		if err != nil {
			return fmt.Errorf("matcher: step %d: %w", step.StepID, err)
		}
		step.AssignedWorker = handle
	}
	return nil
}

// Match resolves a single description to a WorkerHandle, consulting the
// TTL cache first.
func (m *Matcher) Match(ctx context.Context, description string) (*plan.WorkerHandle, error) {
	if handle := m.getCached(description); handle != nil {
		return handle, nil
	}

	handle, err := m.assisted(ctx, description)
	if err != nil || handle == nil {
		handle, err = m.direct(ctx, description)
		if err != nil {
			return nil, err
		}
	}
	if handle == nil {
		return nil, fmt.Errorf("no agent found for description %q", description)
	}

	m.setCached(description, handle)
	return handle, nil
}

// assisted fetches the full agent list and asks the LLMSelector to pick
// the best name. Returns (nil, nil) when no selector is configured or the
// selection doesn't match a real agent, so callers fall through to Direct.
func (m *Matcher) assisted(ctx context.Context, description string) (*plan.WorkerHandle, error) {
	if m.llm == nil {
		return nil, nil
	}

	agents, err := m.registry.GetHealthyAgents()
	if err != nil || len(agents) == 0 {
		return nil, nil
	}

	candidates := make([]AgentSummary, len(agents))
	for i, a := range agents {
		candidates[i] = AgentSummary{Name: a.Name, Description: a.Description, Tags: a.Capabilities}
	}

	selected, err := m.llm.SelectAgent(ctx, description, candidates)
	if err != nil || selected == "" {
		return nil, nil
	}

	for _, a := range agents {
		if strings.EqualFold(a.Name, selected) {
			return agentToHandle(a), nil
		}
	}
	return nil, nil
}

// direct matches by capability keyword overlap against the description,
// the non-LLM equivalent of the original source's find_agent MCP call.
func (m *Matcher) direct(_ context.Context, description string) (*plan.WorkerHandle, error) {
	agents, err := m.registry.GetHealthyAgents()
	if err != nil {
		return nil, err
	}
	return matchDirect(agents, description), nil
}

// matchDirect is the pure capability-keyword-overlap matching rule used
// by direct mode, factored out so it can be exercised without a live
// registry backend.
func matchDirect(agents []*Agent, description string) *plan.WorkerHandle {
	lowered := strings.ToLower(description)
	for _, a := range agents {
		for _, cap := range a.Capabilities {
			if cap != "" && strings.Contains(lowered, strings.ToLower(cap)) {
				return agentToHandle(a)
			}
		}
	}
	if len(agents) > 0 {
		return agentToHandle(agents[0])
	}
	return nil
}

func agentToHandle(a *Agent) *plan.WorkerHandle {
	caps := make(map[string]any, len(a.Capabilities)+1)
	for _, c := range a.Capabilities {
		caps[c] = true
	}
	caps["agent_id"] = a.ID
	return &plan.WorkerHandle{Name: a.Name, URL: a.URL, Capabilities: caps}
}

func (m *Matcher) getCached(description string) *plan.WorkerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[description]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(m.cache, description)
		return nil
	}
	return entry.handle
}

func (m *Matcher) setCached(description string, handle *plan.WorkerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[description] = cacheEntry{handle: handle, expires: time.Now().Add(m.ttl)}
}
