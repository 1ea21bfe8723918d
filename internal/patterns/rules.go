// Package patterns holds the keyword and regular-expression rules used to
// read release-channel chatter, and the extractor built on them.
package patterns

import (
	"regexp"
	"sort"
)

// Kind names the signal a rule contributes to a chronological walk.
type Kind string

const (
	KindResolution       Kind = "resolution"
	KindBlocking         Kind = "blocking"
	KindCritical         Kind = "critical"
	KindCriticalNegation Kind = "critical_negation"

	KindTestPassed Kind = "test_passed"
	KindTestFailed Kind = "test_failed"
	KindTestFlaky  Kind = "test_flaky"
)

// Rule is one row of the priority table. Higher Priority is more specific.
// Requires must also match for the rule to fire; Unless must not.
type Rule struct {
	Name     string
	Kind     Kind
	Priority int
	Pattern  *regexp.Regexp
	Requires *regexp.Regexp
	Unless   *regexp.Regexp
	Filter   func(text string) bool
}

func (r Rule) matches(text string) bool {
	if r.Pattern != nil && !r.Pattern.MatchString(text) {
		return false
	}
	if r.Requires != nil && !r.Requires.MatchString(text) {
		return false
	}
	if r.Unless != nil && r.Unless.MatchString(text) {
		return false
	}
	if r.Filter != nil && !r.Filter(text) {
		return false
	}
	return true
}

// Table is an ordered priority table shared by every walk in the repo.
type Table []Rule

// Match returns the most specific rule of kind that matches text.
func (t Table) Match(kind Kind, text string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range t {
		if r.Kind != kind || !r.matches(text) {
			continue
		}
		if !found || r.Priority > best.Priority {
			best = r
			found = true
		}
	}
	return best, found
}

// Best returns the highest-priority rule of any kind that matches text.
func (t Table) Best(text string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range t {
		if !r.matches(text) {
			continue
		}
		if !found || r.Priority > best.Priority {
			best = r
			found = true
		}
	}
	return best, found
}

// Kinds returns the rule kinds present in the table in a stable order.
func (t Table) Kinds() []Kind {
	seen := make(map[Kind]bool)
	var out []Kind
	for _, r := range t {
		if !seen[r.Kind] {
			seen[r.Kind] = true
			out = append(out, r.Kind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	ticketKeyPattern = regexp.MustCompile(`\b[A-Z]+-\d+\b`)
	numericFragment  = regexp.MustCompile(`\b\d{3,}\b`)

	releaseBlockerPattern = regexp.MustCompile(`(?i)\brelease[\s-]+blockers?\b`)
	explicitBlockerPhrase = regexp.MustCompile(`(?i)\b(blockers?|blocking)\b`)
	genericBlockPattern   = regexp.MustCompile(`(?i)\bblock(s|ed|ing)?\b`)
	releaseContextPattern = regexp.MustCompile(`(?i)\b(release|releases|releasing|deploy|deploys|deploying|deployment|rollout|roll-out|prod|production|ship|shipping|go-live|rc)\b`)
	noGoPattern           = regexp.MustCompile(`(?i)\bno[\s-]?go\b`)
	hotfixPattern         = regexp.MustCompile(`(?i)\bhot[\s-]?fix(es|ed|ing)?\b`)

	// Qualifiers that turn "hotfix" into a statement about a fix rather
	// than about an open blocker.
	hotfixQualifier = regexp.MustCompile(`(?i)\b(ready|complete|completed|done|deployed|merged|released|start|started|starting)\b`)

	hotfixCommitmentPattern = regexp.MustCompile(`(?i)\b(will|going\s+to|gonna|need\s+to|needs\s+to|must|should|we'?ll|have\s+to|plan\s+to)\s+(be\s+)?hot[\s-]?fix(ed)?\b|\bhot[\s-]?fix\s+(it|this|that|candidate|required|needed)\b|\bneeds?\s+(a\s+)?hot[\s-]?fix\b`)

	uiTerminologyPattern = regexp.MustCompile(`(?i)\b(code|content|text|image|html|custom|quote|layout|page)\s+blocks?\b|\badd\s+block\s+(dialog|modal|button|menu)\b|\bblock\s+(editor|dialog|picker|element|elements|type|types|settings|toolbar|library|inserter)\b`)

	resolutionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(not|isn'?t|is\s+not|no\s+longer)\s+(a\s+)?(release\s+)?blocker\b`),
		regexp.MustCompile(`(?i)\b(non[\s-]?blocking|not\s+blocking|no\s+longer\s+blocking|not\s+block(ing)?\s+(the\s+)?release)\b`),
		regexp.MustCompile(`(?i)\b(fixed|resolved|reverted|done)\b`),
		regexp.MustCompile(`(?i)\bfix(es)?\s+(is\s+|are\s+|has\s+been\s+|was\s+)?(ready|deployed|merged|landed|released|in)\b`),
		regexp.MustCompile(`(?i)\bstart(ed|ing)?\s+hot[\s-]?fixing\b`),
		regexp.MustCompile(`(?i)\bhot[\s-]?fix\s+(is\s+|was\s+|has\s+been\s+)?(deployed|ready|done|merged|released|complete|completed|out)\b`),
		regexp.MustCompile(`(?i)\bgood\s+to\s+(go|release|ship)\b`),
	}
	negatedResolution = regexp.MustCompile(`(?i)\b(not|isn'?t|wasn'?t|never|hasn'?t\s+been|not\s+yet)\s+(yet\s+)?(been\s+)?(fixed|resolved|reverted|done)\b`)

	criticalPositive = regexp.MustCompile(`(?i)\bcritical\b(\s+path\b)?`)
	urgentPositive   = regexp.MustCompile(`(?i)\b(urgent|urgently|high[\s-]priority)\b`)

	criticalNegationPhrases = regexp.MustCompile(`(?i)\b(no\s+need\s+to\s+(tackle|fix|address|handle|look\s+at)\s+(it\s+|this\s+|that\s+)?(immediately|now|right\s+away|asap)|can\s+wait|low[\s-]priority|non[\s-]critical|not\s+(that\s+|very\s+|so\s+|really\s+)?(critical|urgent)|not\s+(a\s+)?high[\s-]priority|not\s+a\s+priority)\b`)

	blockerListHeader = regexp.MustCompile(`(?i)^\s*[*_>#\s]*(release\s+)?blockers?\s*[*_]*\s*:\s*(.*)$`)
	hotfixListHeader  = regexp.MustCompile(`(?i)^\s*[*_>#\s]*(list\s+of\s+hot[\s-]?fix(es)?|hot[\s-]?fix(es)?(\s+list)?|hot[\s-]?fix\s+candidates)\s*[*_]*\s*:\s*(.*)$`)
	listItemPrefix    = regexp.MustCompile(`^\s*([-*•]|\d+[.)])\s+`)
	anyListHeader     = regexp.MustCompile(`^\s*[*_>#\s]*[A-Za-z][A-Za-z ]{1,40}:\s*$`)

	noGoReactions = map[string]bool{
		"no_entry":       true,
		"no_entry_sign":  true,
		"octagonal_sign": true,
		"x":              true,
		"no-go":          true,
		"nogo":           true,
		"no_go":          true,
		"red_circle":     true,
	}

	testPassedPattern = regexp.MustCompile(`(?i)\b(all\s+)?(tests?|checks?|suites?|ci|pipeline|build)\s+(are\s+|is\s+)?(green|passed|passing|pass)\b|\ball\s+green\b`)
	testFailedPattern = regexp.MustCompile(`(?i)\b(tests?|checks?|suites?|ci|pipeline|build)\s+(are\s+|is\s+)?(red|failed|failing|broken)\b|\bfailures?\s+in\b`)
	testFlakyPattern  = regexp.MustCompile(`(?i)\bflak(y|iness|es)\b|\bintermittent(ly)?\s+fail`)
)

// DefaultBlockingKeywords feed the keyword fallback of the semantic classifier.
var DefaultBlockingKeywords = []string{
	"release blocker",
	"blocker",
	"blocking",
	"no-go",
	"no go",
	"will hotfix",
	"needs hotfix",
	"hotfix",
	"escalate",
}

// DefaultNegativeKeywords veto a blocking keyword match in the fallback.
var DefaultNegativeKeywords = []string{
	"not a blocker",
	"not blocking",
	"non-blocking",
	"no longer blocking",
	"hotfix deployed",
	"hotfix is deployed",
	"fix deployed",
	"fix is deployed",
	"resolved",
	"fixed",
	"good to release",
	"good to go",
}

// TestStatusTable classifies test-run chatter with the same walk the
// blocker resolver uses.
var TestStatusTable = Table{
	{Name: "test flaky", Kind: KindTestFlaky, Priority: 30, Pattern: testFlakyPattern},
	{Name: "test failed", Kind: KindTestFailed, Priority: 20, Pattern: testFailedPattern},
	{Name: "test passed", Kind: KindTestPassed, Priority: 10, Pattern: testPassedPattern},
}
