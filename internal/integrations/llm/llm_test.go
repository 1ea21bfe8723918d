package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"blockerbot/internal/config"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"<think>hmm, maybe a blocker</think>\n{\"a\":1}", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"{\"a\":1}<think>trailing", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := CleanResponse(tt.in); got != tt.want {
			t.Fatalf("CleanResponse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractBalancedJSON(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`Sure! {"isBlocker": true, "confidence": 90} hope that helps`, `{"isBlocker": true, "confidence": 90}`, true},
		{`{"reasoning": "uses } and { in text", "x": "a \"quoted\" }"}`, `{"reasoning": "uses } and { in text", "x": "a \"quoted\" }"}`, true},
		{`[1, [2, 3]] tail`, `[1, [2, 3]]`, true},
		{`{"unterminated": true`, "", false},
		{`no json here`, "", false},
		{`} stray {"ok": 1}`, `{"ok": 1}`, true},
	}
	for _, tt := range tests {
		got, ok := ExtractBalancedJSON(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ExtractBalancedJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAvailabilityCacheHonorsTTL(t *testing.T) {
	cache := NewAvailabilityCache(time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	probes := 0
	probe := func(context.Context) bool { probes++; return true }

	if !cache.Check(context.Background(), probe) || !cache.Check(context.Background(), probe) {
		t.Fatal("expected available")
	}
	if probes != 1 {
		t.Fatalf("expected one probe within TTL, got %d", probes)
	}

	cache.MarkUnavailable()
	if cache.Check(context.Background(), probe) {
		t.Fatal("expected cached unavailability after MarkUnavailable")
	}

	now = now.Add(2 * time.Minute)
	if !cache.Check(context.Background(), probe) || probes != 2 {
		t.Fatalf("expected re-probe after TTL, probes=%d", probes)
	}
}

func TestOllamaGenerate(t *testing.T) {
	var tagHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			atomic.AddInt32(&tagHits, 1)
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			var req ollamaGenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Stream || req.Model != "llama3.1" || req.Format == nil {
				t.Errorf("unexpected request: %+v", req)
			}
			if req.Options.NumPredict != 200 {
				t.Errorf("expected num_predict=200, got %d", req.Options.NumPredict)
			}
			_, _ = w.Write([]byte(`{"response":"{\"isBlocker\":true}","done":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL+"/", "llama3.1", server.Client(), time.Minute)
	if !g.Available(context.Background()) || !g.Available(context.Background()) {
		t.Fatal("expected ollama to be available")
	}
	if got := atomic.LoadInt32(&tagHits); got != 1 {
		t.Fatalf("expected a single cached probe, got %d", got)
	}

	out, err := g.Generate(context.Background(), "classify", GenerateOptions{
		MaxTokens:      200,
		ResponseSchema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if out != `{"isBlocker":true}` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestOllamaUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL, "llama3.1", server.Client(), time.Minute)
	if g.Available(context.Background()) {
		t.Fatal("expected ollama to be unavailable")
	}
	if _, err := g.Generate(context.Background(), "x", GenerateOptions{}); err == nil {
		t.Fatal("expected error for non-200 generate")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("expected json_schema response format, got %+v", req.ResponseFormat)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"isBlocker\":false}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-test", "gpt-4o-mini", server.URL, server.Client())
	out, err := g.Generate(context.Background(), "classify", GenerateOptions{ResponseSchema: map[string]any{"type": "object"}})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !strings.Contains(out, `"isBlocker":false`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-test", "gpt-4o-mini", server.URL, server.Client())
	_, err := g.Generate(context.Background(), "classify", GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestNewGeneratorSelectsProvider(t *testing.T) {
	base := config.Config{LLMModel: "m", LLMTimeoutSeconds: 5, LLMAvailabilityTTLSecs: 60}

	cfg := base
	cfg.LLMProvider = config.ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434"
	if g := NewGenerator(cfg); g == nil || g.Name() != "ollama" {
		t.Fatalf("expected ollama generator, got %v", g)
	}

	cfg = base
	cfg.LLMProvider = config.ProviderAnthropic
	cfg.AnthropicAPIKey = "key"
	g := NewGenerator(cfg)
	if g == nil || g.Name() != "anthropic" || !g.Available(context.Background()) {
		t.Fatalf("expected available anthropic generator, got %v", g)
	}

	cfg = base
	cfg.LLMProvider = config.ProviderOpenAI
	if g := NewGenerator(cfg); g == nil || g.Name() != "openai" || g.Available(context.Background()) {
		t.Fatalf("expected openai generator without key to be unavailable, got %v", g)
	}

	cfg = base
	cfg.LLMProvider = config.ProviderNone
	if g := NewGenerator(cfg); g != nil {
		t.Fatalf("expected nil generator for provider none, got %v", g)
	}
}
