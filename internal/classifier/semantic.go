package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"blockerbot/internal/domain"
	"blockerbot/internal/integrations/llm"
)

const (
	defaultTimeout    = 45 * time.Second
	maxThreadContext  = 20
	maxContextTextLen = 500
)

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isBlocker":  map[string]any{"type": "boolean"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		"reasoning":  map[string]any{"type": "string"},
	},
	"required": []string{"isBlocker", "confidence", "reasoning"},
}

const rubric = `Decide whether the MESSAGE describes an ACTIVE release blocker, taking the THREAD into account.

Active blocker (isBlocker=true):
- explicit "blocker", "blocking the release", "no-go"
- a commitment to patch outside the release train: "will hotfix", "needs a hotfix"
- escalation to the release gatekeepers

Not an active blocker (isBlocker=false):
- the fix already landed: "hotfix deployed", "fix is merged", "reverted"
- sign-off: "good to release", "not a blocker anymore"
- "block" used as UI vocabulary (content block, code block, block editor)

The word "hotfix" alone is ambiguous: decide from the thread whether the fix is still pending.
Later thread replies override earlier ones.

Respond with JSON only: {"isBlocker": bool, "confidence": 0-100, "reasoning": "one sentence"}.`

// SemanticClassifier asks a language model and falls back to the keyword
// classifier on any transport or parse failure.
type SemanticClassifier struct {
	gen      llm.Generator
	fallback *PatternClassifier
	timeout  time.Duration
}

func NewSemanticClassifier(gen llm.Generator, fallback *PatternClassifier, timeout time.Duration) *SemanticClassifier {
	if fallback == nil {
		fallback = NewPatternClassifier(nil)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SemanticClassifier{gen: gen, fallback: fallback, timeout: timeout}
}

func (c *SemanticClassifier) Available(ctx context.Context) bool {
	return c.gen != nil && c.gen.Available(ctx)
}

func (c *SemanticClassifier) Classify(ctx context.Context, msg domain.RawMessage, thread []domain.RawMessage) domain.ClassificationResult {
	if !c.Available(ctx) {
		return c.fallback.classifyText(msg.Text, "model unavailable")
	}

	raw, err := c.gen.Generate(ctx, BuildPrompt(msg, thread), llm.GenerateOptions{
		Temperature:    0,
		MaxTokens:      300,
		Timeout:        c.timeout,
		ResponseSchema: responseSchema,
	})
	if err != nil {
		log.Printf("classifier generate provider=%s msg=%s error (non-fatal): %v", c.gen.Name(), msg.ID, err)
		return c.fallback.classifyText(msg.Text, "model error")
	}

	result, err := ParseResult(raw)
	if err != nil {
		log.Printf("classifier parse provider=%s msg=%s error (non-fatal): %v", c.gen.Name(), msg.ID, err)
		return c.fallback.classifyText(msg.Text, "unparsable model output")
	}
	if tickets := c.fallback.lib.ExtractTickets(msg.Text); len(tickets) > 0 {
		result.TicketKey = tickets[0].Key
	}
	return result
}

// BuildPrompt embeds the rubric, the message and up to twenty thread
// messages in chronological order.
func BuildPrompt(msg domain.RawMessage, thread []domain.RawMessage) string {
	var b strings.Builder
	b.WriteString(rubric)
	b.WriteString("\n\nMESSAGE:\n")
	b.WriteString(domain.Excerpt(msg.Text, maxContextTextLen*2))
	if len(thread) > 0 {
		ordered := append([]domain.RawMessage(nil), thread...)
		domain.SortChronologically(ordered)
		if len(ordered) > maxThreadContext {
			ordered = ordered[len(ordered)-maxThreadContext:]
		}
		b.WriteString("\n\nTHREAD (oldest first):\n")
		for _, m := range ordered {
			if m.ID == msg.ID {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n", m.ID, domain.Excerpt(m.Text, maxContextTextLen))
		}
	}
	return b.String()
}

type modelResult struct {
	IsBlocker  *bool    `json:"isBlocker"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// ParseResult cleans model output and decodes the first balanced JSON object.
// Confidence in (0,1] is read as a fraction and scaled to 0..100.
func ParseResult(raw string) (domain.ClassificationResult, error) {
	cleaned := llm.CleanResponse(raw)
	obj, ok := llm.ExtractBalancedJSON(cleaned)
	if !ok {
		return domain.ClassificationResult{}, fmt.Errorf("no JSON object in response: %q", domain.Excerpt(cleaned, 120))
	}
	var out modelResult
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decoding classification: %w", err)
	}
	if out.IsBlocker == nil {
		return domain.ClassificationResult{}, fmt.Errorf("classification missing isBlocker")
	}
	confidence := 50.0
	if out.Confidence != nil {
		confidence = *out.Confidence
		if confidence > 0 && confidence <= 1 {
			confidence *= 100
		}
	}
	return domain.ClassificationResult{
		IsBlocker:  *out.IsBlocker,
		Confidence: domain.ClampConfidence(confidence),
		Reasoning:  strings.TrimSpace(out.Reasoning),
	}, nil
}
