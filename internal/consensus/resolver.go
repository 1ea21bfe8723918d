package consensus

import (
	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

const resolutionExcerptLen = 200

// Verdict is the state left after walking a thread.
type Verdict struct {
	Blocking bool
	Critical bool
	Resolved bool

	// WasBlocking is set if any message in the walk was a blocking signal.
	WasBlocking      bool
	ResolutionText   string
	HotfixCommitment bool
	// BlockingRule names the rule behind the latest blocking signal.
	BlockingRule string
	// LastSignalID is the id of the latest message that moved the verdict.
	LastSignalID string
}

// HasSignal reports whether anything in the walk mattered.
func (v Verdict) HasSignal() bool {
	return v.Blocking || v.Critical || v.WasBlocking || v.HotfixCommitment
}

type Resolver struct {
	lib *patterns.Library
}

func NewResolver(lib *patterns.Library) *Resolver {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Resolver{lib: lib}
}

// Resolve walks the anchor and its replies with no ticket scoping.
func (r *Resolver) Resolve(anchor domain.RawMessage, replies []domain.RawMessage) Verdict {
	return r.ResolveFor("", Thread(anchor, replies))
}

// ResolveFor walks msgs on behalf of one ticket key. Blocker and hotfix
// lists only count when they enumerate key; an empty key ignores them.
//
// Per message: resolution clears blocking, a blocking signal sets it unless
// the same message resolved, a critical negation clears critical for the
// rest of the walk. A hotfix commitment or hotfix-list entry pins blocking.
func (r *Resolver) ResolveFor(key string, msgs []domain.RawMessage) Verdict {
	var v Verdict
	criticalLatched := false

	Walk(msgs, func(m domain.RawMessage) {
		if !r.lib.IsUITerminology(m.Text) {
			r.applyBlocking(&v, key, m)
		}

		positive, negated := r.lib.CriticalSignal(m.Text)
		switch {
		case negated:
			if v.Critical {
				v.LastSignalID = m.ID
			}
			v.Critical = false
			criticalLatched = true
		case positive && !criticalLatched:
			v.Critical = true
			v.LastSignalID = m.ID
		}
	})

	if v.HotfixCommitment {
		v.Blocking = true
		v.WasBlocking = true
	}
	v.Resolved = v.ResolutionText != "" && !v.Blocking
	return v
}

func (r *Resolver) applyBlocking(v *Verdict, key string, m domain.RawMessage) {
	if key != "" {
		hotfixes := r.lib.ParseHotfixList(m.Text)
		if containsKey(hotfixes, key) {
			v.HotfixCommitment = true
			r.markBlocking(v, m, "hotfix list")
			return
		}
		blockers := r.lib.ParseBlockerList(m.Text)
		if containsKey(blockers, key) {
			r.markBlocking(v, m, "blocker list")
			return
		}
		// A list that enumerates other tickets says nothing about key.
		if len(hotfixes) > 0 || len(blockers) > 0 {
			return
		}
	}
	if r.lib.IsHotfixCommitment(m.Text) {
		v.HotfixCommitment = true
		r.markBlocking(v, m, "hotfix commitment")
		return
	}

	if _, ok := r.lib.MatchResolution(m.Text); ok {
		v.Blocking = false
		v.ResolutionText = domain.Excerpt(m.Text, resolutionExcerptLen)
		v.LastSignalID = m.ID
		return
	}

	if rule, ok := r.lib.MatchBlocking(m.Text); ok {
		r.markBlocking(v, m, rule.Name)
		return
	}
	for _, reaction := range m.Reactions {
		if r.lib.IsNoGoReaction(reaction) {
			r.markBlocking(v, m, "no-go reaction")
			return
		}
	}
}

func (r *Resolver) markBlocking(v *Verdict, m domain.RawMessage, rule string) {
	v.Blocking = true
	v.WasBlocking = true
	v.BlockingRule = rule
	v.LastSignalID = m.ID
}

func containsKey(refs []domain.TicketReference, key string) bool {
	for _, ref := range refs {
		if ref.Key == key {
			return true
		}
	}
	return false
}
