package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"url-analyzer/internal/llm"
)

func TestIsGPT5(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "empty", model: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := isGPT5(tt.model); got != tt.want {
				t.Fatalf("isGPT5(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Model: "gpt-4o-mini"}); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewClient(Config{APIKey: "k"}); err == nil || !strings.Contains(err.Error(), "LLM_MODEL") {
		t.Fatalf("expected missing model error, got %v", err)
	}
}

func TestAnalyzeSendsPromptAndReturnsTokens(t *testing.T) {
	var mu sync.Mutex
	var lastBody map[string]any
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		lastBody = payload
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"summary\":\"ok\"}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := client.Analyze(context.Background(), llm.AnalyzeInput{
		URL:  "https://example.com/terms",
		Text: "We may share your data.",
		Kind: "legal",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if string(out.Raw) != `{"summary":"ok"}` {
		t.Fatalf("unexpected raw %s", out.Raw)
	}
	if out.TokensUsed != 15 || out.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected output %+v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if _, ok := lastBody["temperature"]; !ok {
		t.Fatalf("expected temperature for non gpt-5 model")
	}
	messages, _ := lastBody["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	user, _ := messages[2].(map[string]any)
	if content, _ := user["content"].(string); !strings.Contains(content, "https://example.com/terms") || !strings.Contains(content, "We may share your data.") {
		t.Fatalf("user prompt missing url or text: %q", content)
	}
}

func TestAnalyzeRepairsInvalidJSONOnce(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"summary: not json"}}],"usage":{"total_tokens":7}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"summary\":\"fixed\"}"}}],"usage":{"total_tokens":3}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", Model: "gpt-5-mini", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := client.Analyze(context.Background(), llm.AnalyzeInput{URL: "https://example.com", Text: "x", Kind: "seo"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if string(out.Raw) != `{"summary":"fixed"}` || out.TokensUsed != 10 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestAnalyzeInvalidJSONAfterRepair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"still not json"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", Model: "gpt-4o", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Analyze(context.Background(), llm.AnalyzeInput{URL: "https://example.com", Text: "x", Kind: "content"})
	if !errors.Is(err, llm.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
}

func TestAnalyzeSurfacesAPIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", Model: "gpt-4o", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Analyze(context.Background(), llm.AnalyzeInput{URL: "https://example.com", Text: "x", Kind: "seo"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode() != http.StatusTooManyRequests || apiErr.Type != "rate_limit_error" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	if !isBreakerSuccess(&APIError{Status: http.StatusBadRequest}) {
		t.Fatalf("400 should not count as a breaker failure")
	}
	if isBreakerSuccess(&APIError{Status: http.StatusTooManyRequests}) {
		t.Fatalf("429 should count as a breaker failure")
	}
	if isBreakerSuccess(&APIError{Status: http.StatusBadGateway}) {
		t.Fatalf("502 should count as a breaker failure")
	}
}
