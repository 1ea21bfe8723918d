// Package consensus walks a thread in time order and keeps a running verdict,
// so that later statements override earlier ones.
package consensus

import "blockerbot/internal/domain"

// Walk visits msgs in chronological order. The input slice is not modified.
func Walk(msgs []domain.RawMessage, visit func(domain.RawMessage)) {
	ordered := append([]domain.RawMessage(nil), msgs...)
	domain.SortChronologically(ordered)
	for _, m := range ordered {
		visit(m)
	}
}

// Thread returns the anchor followed by its replies, dropping any reply that
// repeats the anchor (Slack returns the parent as the first reply).
func Thread(anchor domain.RawMessage, replies []domain.RawMessage) []domain.RawMessage {
	out := make([]domain.RawMessage, 0, len(replies)+1)
	out = append(out, anchor)
	seen := map[string]bool{anchor.ID: true}
	for _, r := range replies {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
