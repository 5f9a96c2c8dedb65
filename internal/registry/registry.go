// Package registry maintains the directory of worker agents available to
// execute workflow steps, and implements the Matcher Facade that resolves
// a step's description to a worker.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	agentKeyPrefix     = "agent:"
	activeAgentsSetKey = "agents:active"

	agentTTL = 60 * time.Second

	healthCheckInterval = 30 * time.Second
	heartbeatTimeout    = 45 * time.Second
)

// Registry manages agent registration and discovery, backed by Redis so
// it survives orchestrator restarts independently of any single run.
type Registry struct {
	redis  *redis.Client
	ctx    context.Context
	mu     sync.RWMutex
	stopCh chan struct{}
}

// NewRegistry creates a new agent registry.
func NewRegistry(redisClient *redis.Client) *Registry {
	return &Registry{
		redis:  redisClient,
		ctx:    context.Background(),
		stopCh: make(chan struct{}),
	}
}

// Start begins the health monitoring goroutine.
func (r *Registry) Start() {
	go r.healthMonitor()
	log.Println("Agent registry started")
}

// Stop stops the health monitoring.
func (r *Registry) Stop() {
	close(r.stopCh)
	log.Println("Agent registry stopped")
}

// Register registers a new worker agent.
func (r *Registry) Register(req *RegistrationRequest) (*RegistrationResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID := uuid.New().String()

	agent := &Agent{
		ID:           agentID,
		Name:         req.Name,
		Description:  req.Description,
		URL:          req.URL,
		Capabilities: req.Capabilities,
		Status:       AgentStatusHealthy,
		Version:      req.Version,
		RegisteredAt: time.Now(),
		LastSeen:     time.Now(),
		Metadata:     req.Metadata,
	}

	if err := r.storeAgent(agent); err != nil {
		return nil, fmt.Errorf("failed to store agent: %w", err)
	}

	if err := r.redis.SAdd(r.ctx, activeAgentsSetKey, agentID).Err(); err != nil {
		return nil, fmt.Errorf("failed to add to active set: %w", err)
	}

	log.Printf("Agent registered: %s - %s", agent.Name, agent.ID)

	return &RegistrationResponse{
		AgentID:      agentID,
		RegisteredAt: agent.RegisteredAt,
		HeartbeatURL: fmt.Sprintf("/agents/%s/heartbeat", agentID),
		Interval:     30,
	}, nil
}

// Heartbeat updates an agent's last-seen time and status.
func (r *Registry) Heartbeat(agentID string, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, err := r.getAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %w", err)
	}

	agent.LastSeen = time.Now()
	agent.Status = req.Status

	if req.Metadata != nil {
		if agent.Metadata == nil {
			agent.Metadata = make(map[string]interface{})
		}
		for k, v := range req.Metadata {
			agent.Metadata[k] = v
		}
	}

	if err := r.storeAgent(agent); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}

	return &HeartbeatResponse{
		Received:     true,
		NextInterval: 30,
		Timestamp:    time.Now(),
	}, nil
}

// Unregister removes an agent from the registry.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.redis.SRem(r.ctx, activeAgentsSetKey, agentID).Err(); err != nil {
		return fmt.Errorf("failed to remove from active set: %w", err)
	}

	if err := r.redis.Del(r.ctx, agentKey(agentID)).Err(); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	log.Printf("Agent unregistered: %s", agentID)
	return nil
}

// GetAgent retrieves a specific agent by ID.
func (r *Registry) GetAgent(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.getAgent(agentID)
}

// GetAllAgents retrieves every registered agent.
func (r *Registry) GetAllAgents() ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agentIDs, err := r.redis.SMembers(r.ctx, activeAgentsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active agents: %w", err)
	}

	agents := make([]*Agent, 0, len(agentIDs))
	for _, id := range agentIDs {
		agent, err := r.getAgent(id)
		if err != nil {
			log.Printf("Warning: failed to get agent %s: %v", id, err)
			continue
		}
		agents = append(agents, agent)
	}

	return agents, nil
}

// GetAgentWithCapability finds a healthy agent advertising the given
// capability tag.
func (r *Registry) GetAgentWithCapability(capability string) (*Agent, error) {
	agents, err := r.GetHealthyAgents()
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		for _, cap := range agent.Capabilities {
			if cap == capability {
				return agent, nil
			}
		}
	}

	return nil, fmt.Errorf("no healthy agent found with capability: %s", capability)
}

// GetHealthyAgents returns only healthy agents.
func (r *Registry) GetHealthyAgents() ([]*Agent, error) {
	allAgents, err := r.GetAllAgents()
	if err != nil {
		return nil, err
	}

	healthy := make([]*Agent, 0)
	for _, agent := range allAgents {
		if agent.Status == AgentStatusHealthy {
			healthy = append(healthy, agent)
		}
	}

	return healthy, nil
}

// ===================================================================
// INTERNAL HELPERS
// ===================================================================

func (r *Registry) storeAgent(agent *Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}

	if err := r.redis.Set(r.ctx, agentKey(agent.ID), data, agentTTL).Err(); err != nil {
		return fmt.Errorf("failed to store in redis: %w", err)
	}

	return nil
}

func (r *Registry) getAgent(agentID string) (*Agent, error) {
	data, err := r.redis.Get(r.ctx, agentKey(agentID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("agent not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var agent Agent
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
	}

	return &agent, nil
}

func agentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

// ===================================================================
// HEALTH MONITORING
// ===================================================================

func (r *Registry) healthMonitor() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkAgentHealth()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) checkAgentHealth() {
	// GetAllAgents takes its own read lock, so it must be called before
	// acquiring the write lock below to avoid deadlocking on a
	// non-reentrant sync.RWMutex.
	agents, err := r.GetAllAgents()
	if err != nil {
		log.Printf("Error checking agent health: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, agent := range agents {
		timeSinceLastSeen := now.Sub(agent.LastSeen)

		if timeSinceLastSeen > heartbeatTimeout {
			if agent.Status != AgentStatusUnreachable {
				log.Printf("Agent %s (%s) is unreachable - last seen %v ago",
					agent.Name, agent.ID, timeSinceLastSeen)
				agent.Status = AgentStatusUnreachable
				if err := r.storeAgent(agent); err != nil {
					log.Printf("Failed to update agent status: %v", err)
				}
			}
		}
	}
}
