package patterns

import (
	"regexp"
	"strings"

	"blockerbot/internal/domain"
)

const (
	DefaultGatekeeperHandle = "@release-gatekeeper"
	negationWindow          = 4
)

type Options struct {
	// GatekeeperHandles are mention handles (or Slack user/subteam ids) of
	// the release gatekeepers; mentioning one counts as an escalation.
	GatekeeperHandles []string
	// TicketBaseURL, when set, is prefixed to ticket keys to build URLs.
	TicketBaseURL    string
	BlockingKeywords []string
	NegativeKeywords []string
}

// Library is the compiled rule set. It is immutable after New and safe for
// concurrent use.
type Library struct {
	table            Table
	gatekeeper       *regexp.Regexp
	ticketBaseURL    string
	blockingKeywords []string
	negativeKeywords []string
}

func Default() *Library {
	return New(Options{})
}

func New(opts Options) *Library {
	handles := opts.GatekeeperHandles
	if len(handles) == 0 {
		handles = []string{DefaultGatekeeperHandle}
	}
	blocking := opts.BlockingKeywords
	if len(blocking) == 0 {
		blocking = DefaultBlockingKeywords
	}
	negative := opts.NegativeKeywords
	if len(negative) == 0 {
		negative = DefaultNegativeKeywords
	}
	l := &Library{
		gatekeeper:       compileHandles(handles),
		ticketBaseURL:    strings.TrimSpace(opts.TicketBaseURL),
		blockingKeywords: lowerAll(blocking),
		negativeKeywords: lowerAll(negative),
	}
	l.table = l.buildTable()
	return l
}

func compileHandles(handles []string) *regexp.Regexp {
	var alts []string
	for _, h := range handles {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(h))
		if !strings.HasPrefix(h, "@") {
			alts = append(alts, regexp.QuoteMeta("@"+h))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(` + strings.Join(alts, "|") + `)\b`)
}

func lowerAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// buildTable assembles the single priority table. Blocking priorities run
// from the most specific ("release blocker") down to a bare "no-go".
func (l *Library) buildTable() Table {
	t := Table{
		{Name: "release blocker", Kind: KindBlocking, Priority: 60, Pattern: releaseBlockerPattern},
		{Name: "blocker", Kind: KindBlocking, Priority: 50, Pattern: explicitBlockerPhrase},
		{Name: "release-context block", Kind: KindBlocking, Priority: 40, Pattern: genericBlockPattern, Requires: releaseContextPattern},
		{Name: "hotfix", Kind: KindBlocking, Priority: 30, Pattern: hotfixPattern, Unless: hotfixQualifier},
		{Name: "no-go", Kind: KindBlocking, Priority: 10, Pattern: noGoPattern},

		{Name: "critical", Kind: KindCritical, Priority: 30, Filter: hasBareCritical},
		{Name: "high priority", Kind: KindCritical, Priority: 20, Pattern: urgentPositive},

		{Name: "critical negation phrase", Kind: KindCriticalNegation, Priority: 20, Pattern: criticalNegationPhrases},
		{Name: "critical negation window", Kind: KindCriticalNegation, Priority: 10, Filter: negatedWithinWindow},
	}
	if l.gatekeeper != nil {
		t = append(t, Rule{Name: "gatekeeper mention", Kind: KindBlocking, Priority: 20, Pattern: l.gatekeeper})
	}
	for i, p := range resolutionPatterns {
		t = append(t, Rule{Name: "resolution", Kind: KindResolution, Priority: len(resolutionPatterns) - i, Pattern: p})
	}
	return t
}

func (l *Library) Table() Table {
	return l.table
}

func (l *Library) BlockingKeywords() []string { return l.blockingKeywords }

func (l *Library) NegativeKeywords() []string { return l.negativeKeywords }

// IsUITerminology reports text that uses "block" as UI jargon.
func (l *Library) IsUITerminology(text string) bool {
	return uiTerminologyPattern.MatchString(text)
}

// HasBlockingIndicators reports whether text reads as a release blocker.
// UI terminology short-circuits to false, and explicit non-blocker phrases
// ("not a blocker", "non-blocking") are removed before matching.
func (l *Library) HasBlockingIndicators(text string) bool {
	if strings.TrimSpace(text) == "" || l.IsUITerminology(text) {
		return false
	}
	_, ok := l.MatchBlocking(stripNonBlockerPhrases(text))
	return ok
}

// MatchBlocking returns the most specific blocking rule matching text.
func (l *Library) MatchBlocking(text string) (Rule, bool) {
	if l.IsUITerminology(text) {
		return Rule{}, false
	}
	return l.table.Match(KindBlocking, text)
}

// MatchResolution returns the matched resolution phrase, ignoring negated
// forms such as "not fixed yet".
func (l *Library) MatchResolution(text string) (string, bool) {
	cleaned := negatedResolution.ReplaceAllString(text, " ")
	r, ok := l.table.Match(KindResolution, cleaned)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(r.Pattern.FindString(cleaned)), true
}

// CriticalSignal reports the positive and negated critical readings of text
// independently.
func (l *Library) CriticalSignal(text string) (positive, negated bool) {
	_, positive = l.table.Match(KindCritical, text)
	_, negated = l.table.Match(KindCriticalNegation, text)
	return positive, negated
}

// HasCriticalIndicators requires a positive critical term and no negation.
func (l *Library) HasCriticalIndicators(text string) bool {
	positive, negated := l.CriticalSignal(text)
	return positive && !negated
}

func (l *Library) IsHotfixCommitment(text string) bool {
	return hotfixCommitmentPattern.MatchString(text)
}

func (l *Library) MentionsHotfix(text string) bool {
	return hotfixPattern.MatchString(text)
}

func (l *Library) IsNoGoReaction(name string) bool {
	name = strings.Trim(strings.ToLower(strings.TrimSpace(name)), ":")
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	return noGoReactions[name]
}

// NumericFragments returns bare numbers of three or more digits that are not
// part of a ticket key.
func (l *Library) NumericFragments(text string) []string {
	stripped := ticketKeyPattern.ReplaceAllString(text, " ")
	return numericFragment.FindAllString(stripped, -1)
}

func hasBareCritical(text string) bool {
	for _, m := range criticalPositive.FindAllStringSubmatch(text, -1) {
		if m[1] == "" {
			return true
		}
	}
	return false
}

var negationTokens = map[string]bool{
	"not": true, "no": true, "non": true, "never": true, "without": true,
	"nothing": true, "neither": true, "nor": true, "hardly": true, "cannot": true,
	"isn't": true, "aren't": true, "wasn't": true, "weren't": true, "don't": true,
	"doesn't": true, "didn't": true, "won't": true, "shouldn't": true, "needn't": true,
	"isnt": true, "arent": true, "wasnt": true, "dont": true, "doesnt": true,
}

// negatedWithinWindow finds a negation token up to four tokens either side of
// a critical keyword.
func negatedWithinWindow(text string) bool {
	tokens := tokenize(text)
	for i, tok := range tokens {
		isKeyword := false
		switch tok {
		case "critical":
			isKeyword = i+1 >= len(tokens) || tokens[i+1] != "path"
		case "urgent", "urgently":
			isKeyword = true
		case "priority":
			isKeyword = i > 0 && tokens[i-1] == "high"
		}
		if !isKeyword {
			continue
		}
		first := i
		if tok == "priority" {
			first--
		}
		start := first - negationWindow
		if start < 0 {
			start = 0
		}
		end := i + negationWindow
		if end >= len(tokens) {
			end = len(tokens) - 1
		}
		for j := start; j <= end; j++ {
			if j >= first && j <= i {
				continue
			}
			if negationTokens[tokens[j]] {
				return true
			}
		}
	}
	return false
}

func tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func stripNonBlockerPhrases(text string) string {
	for _, p := range resolutionPatterns[:2] {
		text = p.ReplaceAllString(text, " ")
	}
	return text
}

func (l *Library) ticketRef(key string) domain.TicketReference {
	ref := domain.TicketReference{Key: key}
	if i := strings.LastIndexByte(key, '-'); i > 0 {
		ref.Project = key[:i]
	}
	if l.ticketBaseURL != "" {
		ref.URL = strings.TrimRight(l.ticketBaseURL, "/") + "/" + key
	}
	return ref
}
