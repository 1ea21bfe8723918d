package patterns

import (
	"regexp"
	"strings"

	"blockerbot/internal/domain"
)

// ExtractTickets returns the ticket references in text, deduplicated by key
// in order of first appearance.
func (l *Library) ExtractTickets(text string) []domain.TicketReference {
	var refs []domain.TicketReference
	for _, key := range ticketKeyPattern.FindAllString(text, -1) {
		refs = append(refs, l.ticketRef(key))
	}
	return domain.DedupeTickets(refs)
}

// ParseBlockerList returns every ticket enumerated under a "Blockers:"
// heading. Listed tickets are blocking without further inference.
func (l *Library) ParseBlockerList(text string) []domain.TicketReference {
	return l.parseSection(text, blockerListHeader)
}

// ParseHotfixList returns every ticket enumerated under a hotfix heading
// such as "List of hotfixes:".
func (l *Library) ParseHotfixList(text string) []domain.TicketReference {
	return l.parseSection(text, hotfixListHeader)
}

func (l *Library) parseSection(text string, header *regexp.Regexp) []domain.TicketReference {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var refs []domain.TicketReference
	inSection := false
	for _, line := range lines {
		if m := header.FindStringSubmatch(line); m != nil {
			inSection = true
			refs = append(refs, l.ExtractTickets(m[len(m)-1])...)
			continue
		}
		if !inSection {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isOtherHeader(line, header) {
			inSection = false
			continue
		}
		tickets := l.ExtractTickets(line)
		if len(tickets) == 0 && !listItemPrefix.MatchString(line) {
			inSection = false
			continue
		}
		refs = append(refs, tickets...)
	}
	return domain.DedupeTickets(refs)
}

func isOtherHeader(line string, current *regexp.Regexp) bool {
	for _, h := range []*regexp.Regexp{blockerListHeader, hotfixListHeader} {
		if h != current && h.MatchString(line) {
			return true
		}
	}
	return anyListHeader.MatchString(line)
}

// TicketsByNumber maps the numeric part of each key to its references so
// that bare numbers ("just 65023, 65025") can be attributed.
func TicketsByNumber(refs []domain.TicketReference) map[string][]domain.TicketReference {
	out := make(map[string][]domain.TicketReference)
	for _, r := range refs {
		if n := r.Number(); n != "" {
			out[n] = append(out[n], r)
		}
	}
	return out
}
