package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestInvoke_SucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"message":{"role":"model","parts":[{"text":"done"}]}}}`))
	}))
	defer srv.Close()

	f := NewFacade(time.Second, 3, time.Millisecond)
	res, err := f.Invoke(context.Background(), srv.URL, "do the thing", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "done" {
		t.Errorf("expected text %q, got %q", "done", res.Text)
	}
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"result":{"text":"ok"}}`))
	}))
	defer srv.Close()

	f := NewFacade(time.Second, 3, time.Millisecond)
	res, err := f.Invoke(context.Background(), srv.URL, "task", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("expected text %q, got %q", "ok", res.Text)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestInvoke_ExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFacade(time.Second, 2, time.Millisecond)
	_, err := f.Invoke(context.Background(), srv.URL, "task", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestInvoke_StripsJSONFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"text":"` + "```json\\n{\\\"a\\\":1}\\n```" + `"}}`))
	}))
	defer srv.Close()

	f := NewFacade(time.Second, 1, time.Millisecond)
	res, err := f.Invoke(context.Background(), srv.URL, "task", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != `{"a":1}` {
		t.Errorf("expected fence stripped, got %q", res.Text)
	}
}

func TestInvoke_EnvelopeCarriesIDAndJSONPayload(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"result":{"text":"ok"}}`))
	}))
	defer srv.Close()

	f := NewFacade(time.Second, 1, time.Millisecond)
	_, err := f.Invoke(context.Background(), srv.URL, "do the thing", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["id"] == nil || captured["id"] == "" {
		t.Fatalf("expected top-level id, got %+v", captured)
	}

	params, _ := captured["params"].(map[string]any)
	message, _ := params["message"].(map[string]any)
	if message["messageId"] == nil || message["messageId"] == "" {
		t.Fatalf("expected params.message.messageId, got %+v", message)
	}
	parts, _ := message["parts"].([]any)
	if len(parts) != 1 {
		t.Fatalf("expected one part, got %+v", parts)
	}
	part, _ := parts[0].(map[string]any)
	text, _ := part["text"].(string)

	var payload struct {
		TaskDescription string         `json:"task_description"`
		Context         map[string]any `json:"context"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("expected text part to be a JSON payload, got %q: %v", text, err)
	}
	if payload.TaskDescription != "do the thing" {
		t.Errorf("expected task_description %q, got %q", "do the thing", payload.TaskDescription)
	}
	if payload.Context["k"] != "v" {
		t.Errorf("expected context to carry k=v, got %+v", payload.Context)
	}
}

func TestInvoke_ContextCancellationAbortsRetryWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFacade(time.Second, 5, 50*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := f.Invoke(ctx, srv.URL, "task", nil)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
