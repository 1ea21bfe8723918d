// Package dedup collapses per-ticket issue signals from a channel scan into
// one record per ticket.
package dedup

import (
	"strings"

	"blockerbot/internal/domain"
)

type Deduplicator struct{}

func New() *Deduplicator {
	return &Deduplicator{}
}

// DeduplicateWithPriority keeps one winner per ticket key. An issue naming
// several tickets is a candidate under each of them; the output holds each
// winner once, in the order its first key was first seen.
//
// Per key: lowest severity rank, then hotfix commitments, then the first
// non-empty tier of (thread and permalink, thread, permalink, neither), then
// the newest timestamp. Remaining ties break on content so the result is a
// fixed point of itself.
func (d *Deduplicator) DeduplicateWithPriority(issues []domain.Issue) []domain.Issue {
	var order []string
	byKey := make(map[string][]int)
	for i, issue := range issues {
		if !issue.Emittable() {
			continue
		}
		for _, key := range issue.TicketKeys() {
			if _, ok := byKey[key]; !ok {
				order = append(order, key)
			}
			if !containsIndex(byKey[key], i) {
				byKey[key] = append(byKey[key], i)
			}
		}
	}

	var out []domain.Issue
	emitted := make(map[int]bool)
	for _, key := range order {
		winner := pick(issues, byKey[key])
		if emitted[winner] {
			continue
		}
		emitted[winner] = true
		out = append(out, issues[winner])
	}
	return out
}

func pick(issues []domain.Issue, candidates []int) int {
	minRank := -1
	for _, i := range candidates {
		if r := issues[i].Severity.Rank(); minRank < 0 || r < minRank {
			minRank = r
		}
	}
	ranked := filter(candidates, func(i int) bool { return issues[i].Severity.Rank() == minRank })

	if committed := filter(ranked, func(i int) bool { return issues[i].HotfixCommitment }); len(committed) > 0 {
		ranked = committed
	}

	for _, tier := range tiers {
		inTier := filter(ranked, func(i int) bool { return tier(issues[i]) })
		if len(inTier) > 0 {
			return newest(issues, inTier)
		}
	}
	return ranked[0]
}

var tiers = []func(domain.Issue) bool{
	func(i domain.Issue) bool { return i.HasThread && i.Permalink != "" },
	func(i domain.Issue) bool { return i.HasThread },
	func(i domain.Issue) bool { return i.Permalink != "" },
	func(i domain.Issue) bool { return true },
}

func newest(issues []domain.Issue, candidates []int) int {
	best := candidates[0]
	for _, i := range candidates[1:] {
		c := domain.CompareTimestamps(issues[i].Timestamp, issues[best].Timestamp)
		if c > 0 || (c == 0 && contentKey(issues[i]) > contentKey(issues[best])) {
			best = i
		}
	}
	return best
}

func contentKey(i domain.Issue) string {
	return strings.Join([]string{i.Text, i.Permalink, strings.Join(i.TicketKeys(), ",")}, "\x00")
}

func filter(idx []int, keep func(int) bool) []int {
	var out []int
	for _, i := range idx {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

func containsIndex(idx []int, want int) bool {
	for _, i := range idx {
		if i == want {
			return true
		}
	}
	return false
}
