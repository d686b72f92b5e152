package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpenAIServer(t *testing.T, h http.HandlerFunc) *OpenAIEngine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIEngine(srv.URL+"/v1", "sk-test")
}

func TestOpenAIEngine_Chat(t *testing.T) {
	var gotAuth string
	var gotFormat map[string]any
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			ResponseFormat map[string]any `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotFormat = body.ResponseFormat

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"ok":true}`}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 40, "completion_tokens": 7, "total_tokens": 47},
		})
	})

	res, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}},
		&Schema{Type: "object", Properties: map[string]*Schema{"ok": {Type: "boolean"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotFormat["type"] != "json_schema" {
		t.Errorf("response_format.type = %v, want json_schema", gotFormat["type"])
	}
	if res.Content != `{"ok":true}` {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage != (Usage{PromptTokens: 40, CompletionTokens: 7}) {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestOpenAIEngine_Embed(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.5, -0.5}}},
		})
	})

	vec, err := e.Embed(context.Background(), "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOpenAIEngine_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "upstream said no", "type": "test_error"},
			})
		})
		_, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v (err: %v)", tt.status, IsTransient(err), tt.transient, err)
		}
	}
}

func TestOpenAIEngine_PullModelUnsupported(t *testing.T) {
	e := NewOpenAIEngine("", "sk-test")
	if err := e.PullModel(context.Background(), "gpt-4o-mini", nil); !IsFatal(err) {
		t.Errorf("expected fatal error, got %v", err)
	}
}
