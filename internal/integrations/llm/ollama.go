package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type OllamaGenerator struct {
	BaseURL string
	Model   string

	client       *http.Client
	availability *AvailabilityCache
}

func NewOllamaGenerator(baseURL, model string, client *http.Client, availabilityTTL time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		client:       defaultHTTPClient(client),
		availability: NewAvailabilityCache(availabilityTTL),
	}
}

func (g *OllamaGenerator) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  map[string]any `json:"format,omitempty"`
	Options ollamaOptions  `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(ollamaGenerateRequest{
		Model:   g.Model,
		Prompt:  prompt,
		Stream:  false,
		Format:  opts.ResponseSchema,
		Options: ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.availability.MarkUnavailable()
		log.Printf("llm ollama error: %v", err)
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama API status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing Ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", out.Error)
	}

	log.Printf("llm ollama response model=%s size=%d", g.Model, len(out.Response))
	return out.Response, nil
}

// Available probes GET /api/tags; the result is cached for the TTL.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	return g.availability.Check(ctx, g.probe)
}

func (g *OllamaGenerator) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		log.Printf("llm ollama unavailable url=%s: %v", g.BaseURL, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
