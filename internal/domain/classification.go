package domain

const (
	MinConfidence = 0
	MaxConfidence = 100

	// FallbackConfidence is reported whenever the keyword fallback decided
	// instead of the language model.
	FallbackConfidence = 30
)

type ClassificationResult struct {
	IsBlocker  bool    `json:"isBlocker"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	TicketKey  string  `json:"ticketKey,omitempty"`
	Fallback   bool    `json:"-"`
}

func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
