// Package executor implements the Executor Facade: it invokes a matched
// worker over HTTP with a JSON-RPC-like "sendMessage" envelope, retries on
// transport failure with a fixed delay, and unwraps the worker's response
// through a fallback chain so minor response-shape drift doesn't fail a
// step outright.
//
// Grounded on the teacher's task/router.go sendTaskToAgent/executeTask
// retry loop, generalized from its bespoke TaskRequest/TaskResponse pair
// to the A2A-style envelope the original source's agents speak.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is a worker's response to a step invocation.
type Result struct {
	Text string
	Raw  string
}

// Facade sends step invocations to worker URLs and retries transport
// failures a fixed number of times with a fixed delay between attempts.
type Facade struct {
	httpClient *http.Client
	retryTimes int
	retryDelay time.Duration
}

// NewFacade builds an Executor Facade. timeout bounds a single HTTP
// attempt; retryTimes and retryDelay control the fixed-delay retry loop.
func NewFacade(timeout time.Duration, retryTimes int, retryDelay time.Duration) *Facade {
	if retryTimes <= 0 {
		retryTimes = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Facade{
		httpClient: &http.Client{Timeout: timeout},
		retryTimes: retryTimes,
		retryDelay: retryDelay,
	}
}

// Invoke sends taskDescription (with context folded in) to workerURL,
// retrying on transport failure. ctx cancellation aborts the retry loop
// immediately.
func (f *Facade) Invoke(ctx context.Context, workerURL, taskDescription string, contextPayload map[string]any) (*Result, error) {
	envelope, err := buildEnvelope(taskDescription, contextPayload)
	if err != nil {
		return nil, fmt.Errorf("executor: failed to build request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.retryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		result, err := f.attempt(ctx, workerURL, envelope)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("executor: worker %s failed after %d attempts: %w", workerURL, f.retryTimes+1, lastErr)
}

func (f *Facade) attempt(ctx context.Context, workerURL string, envelope []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(body))
	}

	text, err := extractText(body)
	if err != nil {
		return nil, err
	}

	return &Result{Text: stripJSONFence(text), Raw: string(body)}, nil
}

func buildEnvelope(taskDescription string, contextPayload map[string]any) ([]byte, error) {
	payload, err := renderTask(taskDescription, contextPayload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":     uuid.New().String(),
		"method": "sendMessage",
		"params": map[string]any{
			"message": map[string]any{
				"messageId": uuid.New().String(),
				"role":      "user",
				"parts": []map[string]any{
					{"text": payload},
				},
			},
		},
	})
}

// renderTask builds the stringified payload the worker expects: a JSON
// object carrying the task description and its filtered context, not a
// human-readable concatenation.
func renderTask(taskDescription string, contextPayload map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"task_description": taskDescription,
		"context":          contextPayload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return string(body), nil
}

// extractText walks result.message.parts[0].text -> result.text -> raw
// body, the same fallback chain the Reviewer Facade uses, since both
// speak to workers through the same envelope shape.
func extractText(body []byte) (string, error) {
	var env struct {
		Result struct {
			Message struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Result.Message.Parts) > 0 && env.Result.Message.Parts[0].Text != "" {
			return env.Result.Message.Parts[0].Text, nil
		}
		if env.Result.Text != "" {
			return env.Result.Text, nil
		}
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty worker response")
	}
	return string(body), nil
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "```json") {
		parts := strings.SplitN(s, "```json", 2)
		if len(parts) == 2 {
			s = strings.SplitN(parts[1], "```", 2)[0]
		}
	}
	return strings.TrimSpace(s)
}
