package domain

import "strings"

type Severity string

const (
	SeverityNone             Severity = "none"
	SeverityBlocking         Severity = "blocking"
	SeverityCritical         Severity = "critical"
	SeverityBlockingResolved Severity = "blocking_resolved"
)

func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking", "blocker", "blockers":
		return SeverityBlocking, true
	case "critical":
		return SeverityCritical, true
	case "blocking_resolved", "resolved", "blocking-resolved":
		return SeverityBlockingResolved, true
	}
	return SeverityNone, false
}

// Rank orders severities for deduplication: lower wins.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocking:
		return 0
	case SeverityBlockingResolved:
		return 1
	default:
		return 2
	}
}

func (s Severity) Label() string {
	switch s {
	case SeverityBlocking:
		return "Release blocker"
	case SeverityCritical:
		return "Critical"
	case SeverityBlockingResolved:
		return "Resolved blocker"
	default:
		return "None"
	}
}

// TicketReference is an issue-tracker key such as PROJ-123. Equality is by Key.
type TicketReference struct {
	Key     string `json:"key"`
	URL     string `json:"url,omitempty"`
	Project string `json:"project"`
}

// Number returns the numeric part of the key ("123" for "PROJ-123").
func (t TicketReference) Number() string {
	if i := strings.LastIndexByte(t.Key, '-'); i >= 0 {
		return t.Key[i+1:]
	}
	return ""
}

type Issue struct {
	Severity         Severity          `json:"severity"`
	Text             string            `json:"text"`
	Tickets          []TicketReference `json:"tickets"`
	Timestamp        string            `json:"timestamp"`
	HasThread        bool              `json:"hasThread"`
	Permalink        string            `json:"permalink,omitempty"`
	ResolutionText   string            `json:"resolutionText,omitempty"`
	HotfixCommitment bool              `json:"hotfixCommitment"`
}

func (i Issue) TicketKeys() []string {
	keys := make([]string, 0, len(i.Tickets))
	for _, t := range i.Tickets {
		keys = append(keys, t.Key)
	}
	return keys
}

// Emittable reports whether the issue may be handed to callers.
func (i Issue) Emittable() bool {
	return i.Severity != SeverityNone && i.Severity != "" && len(i.Tickets) > 0
}

// DedupeTickets drops repeated keys, keeping first-seen order.
func DedupeTickets(refs []TicketReference) []TicketReference {
	seen := make(map[string]bool, len(refs))
	var out []TicketReference
	for _, r := range refs {
		if r.Key == "" || seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		out = append(out, r)
	}
	return out
}

// Excerpt trims text to max runes, appending "..." when cut.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
