package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobmail/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{LLMProvider: config.ProviderOpenAI}
	if _, err := NewFromConfig(cfg); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
	cfg.OpenAIAPIKey = "sk-test"
	c, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := c.(*OpenAIClient); !ok {
		t.Fatalf("unexpected client %T", c)
	}
	if _, err := NewFromConfig(&config.Config{LLMProvider: config.ProviderYandex}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("yandex without credentials: %v", err)
	}
	if _, err := NewFromConfig(&config.Config{LLMProvider: "other"}); err == nil {
		t.Fatalf("unknown provider accepted")
	}
}

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Messages) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"test-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"All quiet today."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", srv.URL+"/v1", "test-model")
	resp, err := c.Generate(context.Background(), []Message{
		{Role: "system", Content: "summarise"},
		{Role: "user", Content: "Rejected: 2"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "All quiet today." || resp.TotalTokens != 16 {
		t.Fatalf("resp: %+v", resp)
	}
}
