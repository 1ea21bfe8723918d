// Package analyzer turns threads into per-ticket issues. It scopes every
// consensus walk to a single ticket so that a statement about one ticket
// never leaks onto another discussed in the same thread.
package analyzer

import (
	"context"
	"log"
	"regexp"
	"strings"

	"blockerbot/internal/classifier"
	"blockerbot/internal/consensus"
	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

const (
	excerptLen                = 200
	defaultConfidenceOverride = 70
)

// PermalinkSource resolves a message permalink. Errors are not fatal.
type PermalinkSource interface {
	GetPermalink(ctx context.Context, channelID, messageID string) (string, error)
}

type Options struct {
	// Classifier, when set, is consulted for every ticket with a pattern
	// signal. A nil classifier leaves the verdict to the patterns.
	Classifier classifier.Classifier
	// ConfidenceThreshold is the minimum model confidence (0..100) needed to
	// override the pattern verdict.
	ConfidenceThreshold float64
	Concurrency         int
	Permalinks          PermalinkSource
}

type Analyzer struct {
	lib       *patterns.Library
	resolver  *consensus.Resolver
	opts      Options
	threshold float64
}

func New(lib *patterns.Library, opts Options) *Analyzer {
	if lib == nil {
		lib = patterns.Default()
	}
	threshold := opts.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultConfidenceOverride
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = classifier.DefaultConcurrency
	}
	return &Analyzer{
		lib:       lib,
		resolver:  consensus.NewResolver(lib),
		opts:      opts,
		threshold: threshold,
	}
}

type thread struct {
	rootID   string
	messages []domain.RawMessage
	tickets  []domain.TicketReference
}

type candidate struct {
	ticket   domain.TicketReference
	thread   *thread
	scoped   []domain.RawMessage
	verdict  consensus.Verdict
	firstRef domain.RawMessage
}

// AnalyzeTickets groups messages into threads and emits one issue per ticket
// found blocking, critical or resolved-after-blocking. When tickets is
// non-empty only those keys are considered.
func (a *Analyzer) AnalyzeTickets(ctx context.Context, channelID string, tickets []domain.TicketReference, messages []domain.RawMessage) []domain.Issue {
	wanted := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		wanted[t.Key] = true
	}

	var candidates []*candidate
	for _, th := range a.groupThreads(messages) {
		for _, ref := range th.tickets {
			if len(wanted) > 0 && !wanted[ref.Key] {
				continue
			}
			scoped := a.scopeToTicket(th, ref)
			if len(scoped) == 0 {
				continue
			}
			c := &candidate{
				ticket:   ref,
				thread:   th,
				scoped:   scoped,
				firstRef: firstMention(scoped, ref.Key),
				verdict:  a.resolver.ResolveFor(ref.Key, scoped),
			}
			if !c.verdict.HasSignal() {
				continue
			}
			candidates = append(candidates, c)
		}
	}

	a.applyClassifier(ctx, candidates)

	permalinks := make(map[string]string)
	var issues []domain.Issue
	for _, c := range candidates {
		issue, ok := a.toIssue(ctx, channelID, c, permalinks)
		if ok {
			issues = append(issues, issue)
		}
	}
	log.Printf("analyzer channel=%s messages=%d candidates=%d issues=%d", channelID, len(messages), len(candidates), len(issues))
	return issues
}

// groupThreads buckets messages by root id in first-seen order and sorts
// each bucket chronologically.
func (a *Analyzer) groupThreads(messages []domain.RawMessage) []*thread {
	var order []*thread
	byRoot := make(map[string]*thread)
	seen := make(map[string]bool)
	for _, m := range messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		root := m.RootID()
		th, ok := byRoot[root]
		if !ok {
			th = &thread{rootID: root}
			byRoot[root] = th
			order = append(order, th)
		}
		th.messages = append(th.messages, m)
	}
	for _, th := range order {
		domain.SortChronologically(th.messages)
		var refs []domain.TicketReference
		for _, m := range th.messages {
			refs = append(refs, a.lib.ExtractTickets(m.Text)...)
		}
		th.tickets = domain.DedupeTickets(refs)
	}
	return order
}

// scopeToTicket selects the messages that speak about ref. A message naming
// ref is kept (trimmed to the lines about ref when it names other tickets
// too); a message naming no ticket is kept when one of its bare numbers is
// ref's number, or when the thread only ever discusses ref.
func (a *Analyzer) scopeToTicket(th *thread, ref domain.TicketReference) []domain.RawMessage {
	var out []domain.RawMessage
	singleTicket := len(th.tickets) == 1
	number := ref.Number()

	for _, m := range th.messages {
		keys := a.lib.ExtractTickets(m.Text)
		switch {
		case containsKey(keys, ref.Key):
			if len(keys) > 1 {
				m.Text = a.scopeText(m.Text, ref.Key)
			}
			out = append(out, m)
		case len(keys) > 0:
			continue
		case containsString(a.lib.NumericFragments(m.Text), number):
			out = append(out, m)
		case singleTicket:
			out = append(out, m)
		}
	}
	return out
}

var clauseSplit = regexp.MustCompile(`\n|[.;!?](\s+|$)`)

// scopeText keeps the clauses that mention key. Blocker and hotfix lists are
// kept whole because list membership is decided on the full structure.
func (a *Analyzer) scopeText(text, key string) string {
	if containsKey(a.lib.ParseBlockerList(text), key) || containsKey(a.lib.ParseHotfixList(text), key) {
		return text
	}
	var kept []string
	for _, clause := range clauseSplit.Split(text, -1) {
		if strings.Contains(clause, key) {
			kept = append(kept, strings.TrimSpace(clause))
		}
	}
	if len(kept) == 0 {
		return text
	}
	return strings.Join(kept, ". ")
}

// applyClassifier lets a confident model verdict override the pattern
// blocking verdict. Hotfix pins are never overridden.
func (a *Analyzer) applyClassifier(ctx context.Context, candidates []*candidate) {
	if a.opts.Classifier == nil || len(candidates) == 0 {
		return
	}
	var reqs []classifier.Request
	var targets []*candidate
	for _, c := range candidates {
		if c.verdict.HotfixCommitment {
			continue
		}
		reqs = append(reqs, classifier.Request{Message: signalMessage(c), Thread: c.scoped})
		targets = append(targets, c)
	}
	results := classifier.ClassifyBatch(ctx, a.opts.Classifier, classifier.NewPatternClassifier(a.lib), reqs, a.opts.Concurrency)
	for i, res := range results {
		c := targets[i]
		if res.Fallback || res.Confidence < a.threshold {
			continue
		}
		if res.IsBlocker != c.verdict.Blocking {
			log.Printf("analyzer classifier override ticket=%s blocking=%v->%v confidence=%.0f reasoning=%q", c.ticket.Key, c.verdict.Blocking, res.IsBlocker, res.Confidence, res.Reasoning)
		}
		c.verdict.Blocking = res.IsBlocker
		if res.IsBlocker {
			c.verdict.WasBlocking = true
		}
		c.verdict.Resolved = c.verdict.ResolutionText != "" && !c.verdict.Blocking
	}
}

func firstMention(msgs []domain.RawMessage, key string) domain.RawMessage {
	for _, m := range msgs {
		if strings.Contains(m.Text, key) {
			return m
		}
	}
	return msgs[0]
}

func signalMessage(c *candidate) domain.RawMessage {
	for _, m := range c.scoped {
		if m.ID == c.verdict.LastSignalID {
			return m
		}
	}
	return c.scoped[len(c.scoped)-1]
}

func (a *Analyzer) toIssue(ctx context.Context, channelID string, c *candidate, permalinks map[string]string) (domain.Issue, bool) {
	v := c.verdict
	var severity domain.Severity
	switch {
	case v.Blocking:
		severity = domain.SeverityBlocking
	case v.Resolved && v.WasBlocking:
		severity = domain.SeverityBlockingResolved
	case v.Critical:
		severity = domain.SeverityCritical
	default:
		return domain.Issue{}, false
	}

	issue := domain.Issue{
		Severity:         severity,
		Text:             domain.Excerpt(c.firstRef.Text, excerptLen),
		Tickets:          []domain.TicketReference{c.ticket},
		Timestamp:        c.scoped[len(c.scoped)-1].ID,
		HasThread:        hasThread(c.thread),
		Permalink:        a.threadPermalink(ctx, channelID, c.thread, permalinks),
		HotfixCommitment: v.HotfixCommitment,
	}
	if severity == domain.SeverityBlockingResolved {
		issue.ResolutionText = v.ResolutionText
	}
	return issue, true
}

func hasThread(th *thread) bool {
	if len(th.messages) > 1 {
		return true
	}
	for _, m := range th.messages {
		if m.ReplyCountHint > 0 || m.IsReply() {
			return true
		}
	}
	return false
}

// threadPermalink prefers a permalink already carried by the root message and
// otherwise asks the permalink source once per thread.
func (a *Analyzer) threadPermalink(ctx context.Context, channelID string, th *thread, cache map[string]string) string {
	if link, ok := cache[th.rootID]; ok {
		return link
	}
	link := ""
	for _, m := range th.messages {
		if m.ID == th.rootID && m.Permalink != "" {
			link = m.Permalink
			break
		}
	}
	if link == "" && a.opts.Permalinks != nil && channelID != "" {
		var err error
		link, err = a.opts.Permalinks.GetPermalink(ctx, channelID, th.rootID)
		if err != nil {
			log.Printf("analyzer permalink channel=%s ts=%s error (non-fatal): %v", channelID, th.rootID, err)
			link = ""
		}
	}
	if link == "" {
		for _, m := range th.messages {
			if m.Permalink != "" {
				link = m.Permalink
				break
			}
		}
	}
	cache[th.rootID] = link
	return link
}

func containsKey(refs []domain.TicketReference, key string) bool {
	for _, r := range refs {
		if r.Key == key {
			return true
		}
	}
	return false
}

func containsString(vals []string, want string) bool {
	if want == "" {
		return false
	}
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}
