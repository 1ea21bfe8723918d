package classifier

import (
	"context"
	"fmt"
	"strings"

	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

// PatternClassifier is the keyword fallback: a blocking keyword present and
// no negative keyword, reported at fixed low confidence.
type PatternClassifier struct {
	lib *patterns.Library
}

func NewPatternClassifier(lib *patterns.Library) *PatternClassifier {
	if lib == nil {
		lib = patterns.Default()
	}
	return &PatternClassifier{lib: lib}
}

func (c *PatternClassifier) Available(context.Context) bool { return true }

func (c *PatternClassifier) Classify(_ context.Context, msg domain.RawMessage, _ []domain.RawMessage) domain.ClassificationResult {
	return c.classifyText(msg.Text, "")
}

func (c *PatternClassifier) classifyText(text, reason string) domain.ClassificationResult {
	lower := strings.ToLower(text)
	result := domain.ClassificationResult{
		Confidence: domain.FallbackConfidence,
		Fallback:   true,
	}
	if tickets := c.lib.ExtractTickets(text); len(tickets) > 0 {
		result.TicketKey = tickets[0].Key
	}

	if neg := firstContained(lower, c.lib.NegativeKeywords()); neg != "" {
		result.Reasoning = fallbackReason(reason, fmt.Sprintf("negative keyword %q", neg))
		return result
	}
	if kw := firstContained(lower, c.lib.BlockingKeywords()); kw != "" {
		result.IsBlocker = true
		result.Reasoning = fallbackReason(reason, fmt.Sprintf("blocking keyword %q", kw))
		return result
	}
	result.Reasoning = fallbackReason(reason, "no blocking keyword")
	return result
}

func fallbackReason(cause, detail string) string {
	if cause == "" {
		return "keyword fallback: " + detail
	}
	return "keyword fallback (" + cause + "): " + detail
}

func firstContained(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}
