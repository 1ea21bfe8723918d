// Package llm provides the text-generation transports used by the semantic
// classifier: a local Ollama server, the Anthropic Messages API and the
// OpenAI chat completions API.
package llm

import (
	"context"
	"log"
	"net/http"
	"time"

	"blockerbot/internal/config"
	"blockerbot/internal/httpx"
)

type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single call; zero leaves the client timeout in charge.
	Timeout time.Duration
	// ResponseSchema is a JSON schema the provider should constrain output to.
	ResponseSchema map[string]any
}

type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Available(ctx context.Context) bool
	Name() string
}

// NewGenerator builds the generator selected by llm_provider. It returns nil
// for provider "none".
func NewGenerator(cfg config.Config) Generator {
	ttl := time.Duration(cfg.LLMAvailabilityTTLSecs) * time.Second
	client := httpx.NewClient(cfg.LLMTimeoutSeconds)

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return NewOllamaGenerator(cfg.LLMBaseURL, cfg.LLMModel, client, ttl)
	case config.ProviderAnthropic:
		return NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMBaseURL, client)
	case config.ProviderNone:
		return nil
	}
	log.Printf("llm unknown provider=%s, semantic classification disabled", cfg.LLMProvider)
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return httpx.ExternalHTTPClient()
}
