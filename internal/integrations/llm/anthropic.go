package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

type AnthropicGenerator struct {
	Model string

	apiKey string
	client anthropic.Client
}

func NewAnthropicGenerator(apiKey, model, baseURL string) *AnthropicGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicGenerator{
		Model:  model,
		apiKey: apiKey,
		client: anthropic.NewClient(opts...),
	}
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

// Available only checks that a key is configured; the hosted API is not
// probed.
func (g *AnthropicGenerator) Available(ctx context.Context) bool {
	return g.apiKey != ""
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	system := "You classify release-channel chat messages. Reply with JSON only."
	if opts.ResponseSchema != nil {
		schema, err := json.Marshal(opts.ResponseSchema)
		if err != nil {
			return "", fmt.Errorf("marshaling schema: %w", err)
		}
		system += " The JSON must match this schema: " + string(schema)
	}

	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
