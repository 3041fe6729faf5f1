package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"musik/internal/core"
)

func sampleSeeds() []core.Track {
	current := core.Track{ID: "cur", Title: "Midnight City", Artists: []string{"M83"}, Album: "Hurry Up, We're Dreaming"}
	return []core.Track{
		current, current, current,
		{ID: "q1", Title: "Kids", Artists: []string{"MGMT"}},
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  core.LLMConfig
		enabled bool
		wantErr bool
	}{
		{"none", core.LLMConfig{Provider: ProviderNone}, false, false},
		{"empty", core.LLMConfig{}, false, false},
		{"ollama", core.LLMConfig{Provider: ProviderOllama}, true, false},
		{"openai", core.LLMConfig{Provider: ProviderOpenAI, APIKey: "sk-test"}, true, false},
		{"openai without key", core.LLMConfig{Provider: ProviderOpenAI}, false, true},
		{"anthropic without key", core.LLMConfig{Provider: ProviderAnthropic}, false, true},
		{"unknown", core.LLMConfig{Provider: "markov"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(&tt.config, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && provider.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, expected %v", provider.Enabled(), tt.enabled)
			}
		})
	}
}

func TestProvider_NotConfigured(t *testing.T) {
	provider, err := NewProvider(&core.LLMConfig{Provider: ProviderNone}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, err := provider.GenerateSearchQuery(context.Background(), sampleSeeds()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GenerateSearchQuery() error = %v, expected ErrNotConfigured", err)
	}
	if _, err := provider.GenerateSearchQuery(context.Background(), nil); err == nil {
		t.Error("GenerateSearchQuery() without seeds should fail")
	}
}

func TestBuildSearchQueryPrompt(t *testing.T) {
	prompt := buildSearchQueryPrompt(sampleSeeds())

	if strings.Count(prompt, "Midnight City") != 1 {
		t.Errorf("repeated seeds should be listed once:\n%s", prompt)
	}
	for _, want := range []string{"1. Midnight City - M83 (Hurry Up, We're Dreaming)", "2. Kids - MGMT"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain", "dreamy synthpop", "dreamy synthpop"},
		{"quoted", `"dreamy synthpop"`, "dreamy synthpop"},
		{"labelled", "Query: 80s new wave", "80s new wave"},
		{"multi line", "indie electronic\nThis fits because...", "indie electronic"},
		{"whitespace", "   \n  ", ""},
		{"long", strings.Repeat("a", 150), strings.Repeat("a", maxQueryLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanQuery(tt.raw); got != tt.expected {
				t.Errorf("cleanQuery(%q) = %q, expected %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestOllamaClient_GenerateSearchQuery(t *testing.T) {
	var received OllamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, expected /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(OllamaResponse{Response: "\"french synthpop\"\n", Done: true})
	}))
	defer server.Close()

	provider, err := NewProvider(&core.LLMConfig{Provider: ProviderOllama, BaseURL: server.URL + "/"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	query, err := provider.GenerateSearchQuery(context.Background(), sampleSeeds())
	if err != nil {
		t.Fatalf("GenerateSearchQuery() error = %v", err)
	}
	if query != "french synthpop" {
		t.Errorf("GenerateSearchQuery() = %q, expected cleaned query", query)
	}
	if received.Model != defaultOllamaModel || received.Stream || received.System != searchQuerySystemPrompt {
		t.Errorf("request = %+v", received)
	}
	if !strings.Contains(received.Prompt, "Midnight City") {
		t.Errorf("prompt does not list seeds: %q", received.Prompt)
	}
}

func TestOllamaClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewOllamaClient(&core.LLMConfig{BaseURL: server.URL}, zap.NewNop())
	if _, err := client.GenerateSearchQuery(context.Background(), sampleSeeds()); err == nil {
		t.Error("GenerateSearchQuery() should fail on HTTP 500")
	}
}

func TestOpenAIClient_GenerateSearchQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s, expected chat completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Query: dream pop"}
			}]
		}`))
	}))
	defer server.Close()

	provider, err := NewProvider(&core.LLMConfig{Provider: ProviderOpenAI, APIKey: "sk-test", BaseURL: server.URL + "/"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	query, err := provider.GenerateSearchQuery(context.Background(), sampleSeeds())
	if err != nil {
		t.Fatalf("GenerateSearchQuery() error = %v", err)
	}
	if query != "dream pop" {
		t.Errorf("GenerateSearchQuery() = %q, expected %q", query, "dream pop")
	}
}

func TestAnthropicClient_GenerateSearchQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %s, expected messages", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "sk-ant-test" {
			t.Errorf("X-Api-Key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "shoegaze revival"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer server.Close()

	provider, err := NewProvider(&core.LLMConfig{Provider: ProviderAnthropic, APIKey: "sk-ant-test", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	query, err := provider.GenerateSearchQuery(context.Background(), sampleSeeds())
	if err != nil {
		t.Fatalf("GenerateSearchQuery() error = %v", err)
	}
	if query != "shoegaze revival" {
		t.Errorf("GenerateSearchQuery() = %q, expected %q", query, "shoegaze revival")
	}
}
