package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func completionBody(content string, toolCalls []ToolCall) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": Message{Role: "assistant", Content: content, ToolCalls: toolCalls}},
		},
		"usage": Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestCompleteParsesMessageAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth header = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(completionBody("hello there", nil)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	comp, err := c.Complete(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Message.Content != "hello there" {
		t.Errorf("content = %q", comp.Message.Content)
	}
	if comp.Usage == nil || comp.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", comp.Usage)
	}
}

func TestCompleteSurfacesToolCalls(t *testing.T) {
	calls := []ToolCall{{
		ID:   "call_1",
		Type: "function",
		Function: FunctionCall{
			Name:      "search__lookup",
			Arguments: `{"query":"weather"}`,
		},
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("", calls)))
	}))
	defer srv.Close()

	comp, err := NewClient(srv.URL, "").Complete(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(comp.Message.ToolCalls))
	}
	tc := comp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "search__lookup" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("ok", nil)))
	}))
	defer srv.Close()

	comp, err := NewClient(srv.URL, "").Complete(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Message.Content != "ok" {
		t.Errorf("content = %q", comp.Message.Content)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestCompleteFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").Complete(context.Background(), ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error on 500")
	}
}
