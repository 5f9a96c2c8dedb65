package registry

import "time"

// AgentStatus represents the current health of a registered worker agent.
type AgentStatus string

const (
	AgentStatusHealthy     AgentStatus = "healthy"
	AgentStatusDegraded    AgentStatus = "degraded"
	AgentStatusUnhealthy   AgentStatus = "unhealthy"
	AgentStatusUnreachable AgentStatus = "unreachable"
)

// Agent represents a worker agent capable of executing workflow steps. A
// worker is described by free-text skills rather than a fixed enum of
// domain types, since the goals this orchestrator decomposes are
// open-ended rather than limited to a handful of infra-cost categories.
type Agent struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	URL          string                 `json:"url"`
	Capabilities []string               `json:"capabilities"`
	Status       AgentStatus            `json:"status"`
	Version      string                 `json:"version"`
	RegisteredAt time.Time              `json:"registered_at"`
	LastSeen     time.Time              `json:"last_seen"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RegistrationRequest is sent by a worker agent to join the directory.
type RegistrationRequest struct {
	Name         string                 `json:"name" binding:"required"`
	Description  string                 `json:"description"`
	URL          string                 `json:"url" binding:"required"`
	Capabilities []string               `json:"capabilities"`
	Version      string                 `json:"version"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RegistrationResponse confirms registration and tells the agent where to
// send heartbeats.
type RegistrationResponse struct {
	AgentID      string    `json:"agent_id"`
	RegisteredAt time.Time `json:"registered_at"`
	HeartbeatURL string    `json:"heartbeat_url"`
	Interval     int       `json:"heartbeat_interval_seconds"`
}

// HeartbeatRequest is sent by an agent periodically to stay healthy.
type HeartbeatRequest struct {
	Status   AgentStatus            `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HeartbeatResponse confirms the heartbeat was received.
type HeartbeatResponse struct {
	Received     bool      `json:"received"`
	NextInterval int       `json:"next_interval_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// AgentListResponse returns the full agent directory.
type AgentListResponse struct {
	Agents []Agent `json:"agents"`
	Count  int     `json:"count"`
}
