// Package pipeline sequences fetch, extract, analyze and deduplicate for one
// channel and one day.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"blockerbot/internal/analyzer"
	"blockerbot/internal/consensus"
	"blockerbot/internal/dedup"
	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

const defaultThreadConcurrency = 5

var ErrAllSearchesFailed = errors.New("All searches failed")

// MessageService is the chat-platform surface the pipeline needs.
type MessageService interface {
	SearchMessages(ctx context.Context, query, channelID string) ([]domain.RawMessage, error)
	GetMessageDetails(ctx context.Context, channelID, messageID string) (domain.RawMessage, error)
	GetThreadReplies(ctx context.Context, channelID, rootID string) ([]domain.RawMessage, error)
	GetPermalink(ctx context.Context, channelID, messageID string) (string, error)
	ResolveConversation(ctx context.Context, nameOrID string) (string, error)
}

// SearchGroup is one seed search per severity keyword group.
type SearchGroup struct {
	Name  string
	Terms []string
}

var DefaultSearchGroups = []SearchGroup{
	{Name: "blocking", Terms: []string{"blocker", "blocking", "no-go", "hotfix"}},
	{Name: "critical", Terms: []string{"critical", "urgent", `"high priority"`}},
}

type Pipeline struct {
	Messages MessageService
	Patterns *patterns.Library
	Analyzer *analyzer.Analyzer
	Dedup    *dedup.Deduplicator

	SearchGroups      []SearchGroup
	ThreadConcurrency int
}

type Validation struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidatePipeline reports every missing collaborator by name.
func (p *Pipeline) ValidatePipeline() Validation {
	var errs []string
	if p.Messages == nil {
		errs = append(errs, "messageService is not configured")
	}
	if p.Patterns == nil {
		errs = append(errs, "patternMatcher is not configured")
	}
	if p.Analyzer == nil {
		errs = append(errs, "contextAnalyzer is not configured")
	}
	if p.Dedup == nil {
		errs = append(errs, "deduplicator is not configured")
	}
	return Validation{IsValid: len(errs) == 0, Errors: errs}
}

// DetectIssues runs the full pipeline for channel on date.
func (p *Pipeline) DetectIssues(ctx context.Context, channel string, date time.Time) ([]domain.Issue, error) {
	issues, err := p.detect(ctx, channel, date)
	if err != nil {
		return nil, fmt.Errorf("Issue detection pipeline failed: %w", err)
	}
	return issues, nil
}

// FindIssues is DetectIssues filtered to one severity.
func (p *Pipeline) FindIssues(ctx context.Context, channel string, date time.Time, severity domain.Severity) ([]domain.Issue, error) {
	issues, err := p.DetectIssues(ctx, channel, date)
	if err != nil {
		return nil, err
	}
	var out []domain.Issue
	for _, issue := range issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out, nil
}

// TestStatus classifies the test-run state discussed in one thread.
func (p *Pipeline) TestStatus(ctx context.Context, channel, threadTS string) (consensus.TestResult, error) {
	if p.Messages == nil {
		return consensus.TestResult{}, errors.New("messageService is not configured")
	}
	channelID, err := p.Messages.ResolveConversation(ctx, channel)
	if err != nil {
		return consensus.TestResult{}, fmt.Errorf("resolving channel %s: %w", channel, err)
	}
	root, err := p.Messages.GetMessageDetails(ctx, channelID, threadTS)
	if err != nil {
		return consensus.TestResult{}, fmt.Errorf("loading message %s: %w", threadTS, err)
	}
	replies, err := p.Messages.GetThreadReplies(ctx, channelID, root.RootID())
	if err != nil {
		log.Printf("pipeline test-status replies channel=%s ts=%s error (non-fatal): %v", channelID, threadTS, err)
	}
	return consensus.ResolveTestStatus(consensus.Thread(root, replies)), nil
}

func (p *Pipeline) detect(ctx context.Context, channel string, date time.Time) ([]domain.Issue, error) {
	if v := p.ValidatePipeline(); !v.IsValid {
		return nil, errors.New(strings.Join(v.Errors, "; "))
	}

	channelID, err := p.Messages.ResolveConversation(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("resolving channel %s: %w", channel, err)
	}

	// Fetch
	seeds, err := p.searchSeeds(ctx, channelID, date)
	if err != nil {
		return nil, err
	}

	// Extract: a seed matters when it names a ticket or sits in a thread
	// whose other messages might.
	var relevant []domain.RawMessage
	for _, m := range seeds {
		if !m.IsLeaf() || len(p.Patterns.ExtractTickets(m.Text)) > 0 {
			relevant = append(relevant, m)
		}
	}
	relevant = p.hydrateSeeds(ctx, channelID, relevant)
	messages := p.expandThreads(ctx, channelID, relevant)

	// Analyze
	issues := p.Analyzer.AnalyzeTickets(ctx, channelID, nil, messages)

	// Deduplicate
	out := p.Dedup.DeduplicateWithPriority(issues)
	log.Printf("pipeline detect channel=%s date=%s seeds=%d relevant=%d messages=%d issues=%d", channelID, date.Format("2006-01-02"), len(seeds), len(relevant), len(messages), len(out))
	return out, nil
}

func (p *Pipeline) searchGroups() []SearchGroup {
	if len(p.SearchGroups) > 0 {
		return p.SearchGroups
	}
	return DefaultSearchGroups
}

// searchSeeds runs every seed search concurrently. It fails only if all of
// them fail; otherwise the union of successful results is returned with
// duplicates removed.
func (p *Pipeline) searchSeeds(ctx context.Context, channelID string, date time.Time) ([]domain.RawMessage, error) {
	type searchResult struct {
		query string
		msgs  []domain.RawMessage
		err   error
	}

	var queries []string
	for _, g := range p.searchGroups() {
		for _, term := range g.Terms {
			queries = append(queries, fmt.Sprintf("%s on:%s", term, date.Format("2006-01-02")))
		}
	}

	results := make([]searchResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			msgs, err := p.Messages.SearchMessages(ctx, q, channelID)
			results[i] = searchResult{query: q, msgs: msgs, err: err}
		}(i, q)
	}
	wg.Wait()

	var seeds []domain.RawMessage
	var errs []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.err != nil {
			log.Printf("pipeline search channel=%s query=%q error (non-fatal): %v", channelID, r.query, r.err)
			errs = append(errs, fmt.Sprintf("%s: %v", r.query, r.err))
			continue
		}
		for _, m := range r.msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			seeds = append(seeds, m)
		}
	}
	if len(queries) > 0 && len(errs) == len(queries) {
		return nil, fmt.Errorf("%w: %s", ErrAllSearchesFailed, strings.Join(errs, "; "))
	}
	return seeds, nil
}

// hydrateSeeds reads thread metadata for seeds that search reported as
// standalone. Search hits carry no reply count and a root's permalink has no
// thread_ts. A failed lookup keeps the seed.
func (p *Pipeline) hydrateSeeds(ctx context.Context, channelID string, seeds []domain.RawMessage) []domain.RawMessage {
	concurrency := p.ThreadConcurrency
	if concurrency < 1 {
		concurrency = defaultThreadConcurrency
	}

	out := append([]domain.RawMessage(nil), seeds...)
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for i, m := range out {
		if !m.IsLeaf() {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Printf("pipeline message details channel=%s cancelled: %v", channelID, err)
			break
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			details, err := p.Messages.GetMessageDetails(ctx, channelID, id)
			if err != nil {
				log.Printf("pipeline message details channel=%s ts=%s error (non-fatal): %v", channelID, id, err)
				return
			}
			out[i].ThreadID = details.ThreadID
			out[i].ReplyCountHint = details.ReplyCountHint
		}(i, m.ID)
	}
	wg.Wait()
	return out
}

// expandThreads fetches the full thread of every seed that anchors or belongs
// to one. A failed fetch keeps the seed alone.
func (p *Pipeline) expandThreads(ctx context.Context, channelID string, seeds []domain.RawMessage) []domain.RawMessage {
	concurrency := p.ThreadConcurrency
	if concurrency < 1 {
		concurrency = defaultThreadConcurrency
	}

	var roots []string
	rootSeen := make(map[string]bool)
	for _, m := range seeds {
		if m.IsLeaf() || rootSeen[m.RootID()] {
			continue
		}
		rootSeen[m.RootID()] = true
		roots = append(roots, m.RootID())
	}

	replies := make([][]domain.RawMessage, len(roots))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for i, root := range roots {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Printf("pipeline thread fetch channel=%s cancelled: %v", channelID, err)
			break
		}
		wg.Add(1)
		go func(i int, root string) {
			defer wg.Done()
			defer sem.Release(1)
			msgs, err := p.Messages.GetThreadReplies(ctx, channelID, root)
			if err != nil {
				log.Printf("pipeline thread fetch channel=%s ts=%s error (non-fatal): %v", channelID, root, err)
				return
			}
			replies[i] = msgs
		}(i, root)
	}
	wg.Wait()

	out := append([]domain.RawMessage(nil), seeds...)
	seen := make(map[string]bool, len(seeds))
	for _, m := range seeds {
		seen[m.ID] = true
	}
	for _, msgs := range replies {
		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}
