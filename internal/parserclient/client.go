// Package parserclient talks to the Parser collaborator: an external
// service that turns a free-form goal string into a plan.Plan DAG. The
// orchestrator core never decomposes goals itself; it only consumes
// whatever the parser returns and validates it with plan.InitializeDAG.
//
// Grounded on the teacher's task/router.go HTTP-calling idiom (marshal,
// POST, status check, decode) applied to a single collaborator endpoint
// instead of a per-agent task envelope.
package parserclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/weavecore/orchestrator/internal/plan"
)

// wireStep is the parser's wire representation of one step.
type wireStep struct {
	StepID       int      `json:"step_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ContextKeys  []string `json:"context_keys"`
	Dependencies []int    `json:"dependencies"`
}

type wireResponse struct {
	Steps []wireStep `json:"steps"`
}

// Client requests a Plan from the parser service for a given goal.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a parser client. baseURL is the parser service's
// endpoint, e.g. "http://localhost:9000/parse".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Parse requests a decomposition of goal into a DAG of steps, validates it
// with plan.InitializeDAG, and returns the ready-to-schedule Plan.
func (c *Client) Parse(ctx context.Context, goal, traceID string) (*plan.Plan, error) {
	reqBody, err := json.Marshal(map[string]string{"goal": goal, "trace_id": traceID})
	if err != nil {
		return nil, fmt.Errorf("parserclient: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("parserclient: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parserclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parserclient: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parserclient: parser returned status %d: %s", resp.StatusCode, string(body))
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("parserclient: failed to decode response: %w", err)
	}

	steps := make([]*plan.Step, len(wire.Steps))
	for i, ws := range wire.Steps {
		steps[i] = &plan.Step{
			StepID:       ws.StepID,
			Name:         ws.Name,
			Description:  ws.Description,
			ContextKeys:  ws.ContextKeys,
			Dependencies: ws.Dependencies,
			Status:       plan.StepPending,
		}
	}

	p := &plan.Plan{Goal: goal, TraceID: traceID, Steps: steps}
	if err := plan.InitializeDAG(p); err != nil {
		return nil, fmt.Errorf("parserclient: parser returned an invalid plan: %w", err)
	}

	return p, nil
}
