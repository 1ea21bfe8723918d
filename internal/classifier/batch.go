package classifier

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"blockerbot/internal/domain"
)

const DefaultConcurrency = 3

type Request struct {
	Message domain.RawMessage
	Thread  []domain.RawMessage
}

// ClassifyBatch classifies every request with at most concurrency calls in
// flight. Results are positionally aligned with reqs. Requests left unsent
// when ctx ends are answered by fallback, or by c's own fallback when nil.
func ClassifyBatch(ctx context.Context, c Classifier, fallback *PatternClassifier, reqs []Request, concurrency int) []domain.ClassificationResult {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if fallback == nil {
		fallback = fallbackFor(c)
	}
	results := make([]domain.ClassificationResult, len(reqs))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: the remaining requests get the fallback.
			for j := i; j < len(reqs); j++ {
				results[j] = fallback.classifyText(reqs[j].Message.Text, "cancelled")
			}
			break
		}
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = c.Classify(ctx, req.Message, req.Thread)
		}(i, req)
	}
	wg.Wait()
	return results
}

func fallbackFor(c Classifier) *PatternClassifier {
	switch c := c.(type) {
	case *PatternClassifier:
		return c
	case *SemanticClassifier:
		return c.fallback
	}
	return NewPatternClassifier(nil)
}
