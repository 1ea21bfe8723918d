// Package classifier decides whether a message describes an active release
// blocker, using a language model when one is reachable and a keyword
// fallback otherwise.
package classifier

import (
	"context"

	"blockerbot/internal/domain"
)

// Classifier never returns an error: failures degrade to a fallback result.
type Classifier interface {
	Classify(ctx context.Context, msg domain.RawMessage, thread []domain.RawMessage) domain.ClassificationResult
	Available(ctx context.Context) bool
}

// Select returns primary when its capability probe passes, else fallback.
func Select(ctx context.Context, primary, fallback Classifier) Classifier {
	if primary != nil && primary.Available(ctx) {
		return primary
	}
	return fallback
}
