package registry

import (
	"testing"
	"time"

	"github.com/weavecore/orchestrator/internal/plan"
)

func TestMatchDirect_MatchesByCapabilityKeyword(t *testing.T) {
	agents := []*Agent{
		{ID: "a1", Name: "Writer Agent", URL: "http://writer", Capabilities: []string{"writing"}, Status: AgentStatusHealthy},
		{ID: "a2", Name: "Coder Agent", URL: "http://coder", Capabilities: []string{"coding"}, Status: AgentStatusHealthy},
	}

	handle := matchDirect(agents, "please write a summary of the report")
	if handle == nil || handle.Name != "Writer Agent" {
		t.Fatalf("expected Writer Agent, got %+v", handle)
	}
}

func TestMatchDirect_FallsBackToFirstAgent(t *testing.T) {
	agents := []*Agent{
		{ID: "a1", Name: "Generalist Agent", URL: "http://g", Capabilities: []string{"other"}, Status: AgentStatusHealthy},
	}

	handle := matchDirect(agents, "do something unrelated to any capability tag")
	if handle == nil || handle.Name != "Generalist Agent" {
		t.Fatalf("expected fallback to first agent, got %+v", handle)
	}
}

func TestMatchDirect_NoAgentsReturnsNil(t *testing.T) {
	if handle := matchDirect(nil, "anything"); handle != nil {
		t.Fatalf("expected nil, got %+v", handle)
	}
}

func TestMatcherCache_SetAndGet(t *testing.T) {
	m := &Matcher{ttl: time.Minute, cache: make(map[string]cacheEntry)}
	handle := &plan.WorkerHandle{Name: "w"}

	m.setCached("do thing", handle)
	got := m.getCached("do thing")
	if got == nil || got.Name != "w" {
		t.Fatalf("expected cache hit, got %+v", got)
	}
}

func TestMatcherCache_ExpiredEntryEvicted(t *testing.T) {
	m := &Matcher{ttl: time.Minute, cache: make(map[string]cacheEntry)}
	m.cache["x"] = cacheEntry{handle: &plan.WorkerHandle{Name: "w"}, expires: time.Now().Add(-time.Second)}

	if m.getCached("x") != nil {
		t.Fatal("expected expired entry to be evicted")
	}
	if _, ok := m.cache["x"]; ok {
		t.Fatal("expected expired entry to be removed from the map")
	}
}
