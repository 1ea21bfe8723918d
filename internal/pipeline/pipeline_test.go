package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"blockerbot/internal/analyzer"
	"blockerbot/internal/consensus"
	"blockerbot/internal/dedup"
	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

type fakeMessages struct {
	mu sync.Mutex

	search      map[string][]domain.RawMessage // keyed by search term
	searchErr   map[string]error
	failAll     bool
	threads     map[string][]domain.RawMessage
	threadErr   error
	details     map[string]domain.RawMessage
	permalinks  int
	queries     []string
	resolveErr  error
	threadCalls int
}

func (f *fakeMessages) SearchMessages(ctx context.Context, query, channelID string) ([]domain.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.failAll {
		return nil, errors.New("ratelimited")
	}
	term, _, _ := strings.Cut(query, " on:")
	if err := f.searchErr[term]; err != nil {
		return nil, err
	}
	return f.search[term], nil
}

func (f *fakeMessages) GetMessageDetails(ctx context.Context, channelID, messageID string) (domain.RawMessage, error) {
	m, ok := f.details[messageID]
	if !ok {
		return domain.RawMessage{}, errors.New("message_not_found")
	}
	return m, nil
}

func (f *fakeMessages) GetThreadReplies(ctx context.Context, channelID, rootID string) ([]domain.RawMessage, error) {
	f.mu.Lock()
	f.threadCalls++
	f.mu.Unlock()
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	return f.threads[rootID], nil
}

func (f *fakeMessages) GetPermalink(ctx context.Context, channelID, messageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permalinks++
	return "https://example.slack.com/archives/" + channelID + "/p" + strings.ReplaceAll(messageID, ".", ""), nil
}

func (f *fakeMessages) ResolveConversation(ctx context.Context, nameOrID string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "C123", nil
}

func newPipeline(msgs *fakeMessages) *Pipeline {
	lib := patterns.Default()
	return &Pipeline{
		Messages: msgs,
		Patterns: lib,
		Analyzer: analyzer.New(lib, analyzer.Options{Permalinks: msgs}),
		Dedup:    dedup.New(),
	}
}

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func TestDetectIssuesSingleBlocker(t *testing.T) {
	msgs := &fakeMessages{search: map[string][]domain.RawMessage{
		"blocker": {{ID: "100.000001", Text: "PROJ-123 is a release blocker"}},
	}}
	issues, err := newPipeline(msgs).DetectIssues(context.Background(), "#release", day)
	if err != nil {
		t.Fatalf("DetectIssues returned error: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %+v", issues)
	}
	got := issues[0]
	if got.Severity != domain.SeverityBlocking || got.Tickets[0].Key != "PROJ-123" || got.HasThread {
		t.Fatalf("unexpected issue: %+v", got)
	}
	for _, q := range msgs.queries {
		if !strings.HasSuffix(q, "on:2025-03-14") {
			t.Fatalf("expected date-scoped query, got %q", q)
		}
	}
	if len(msgs.queries) != 7 {
		t.Fatalf("expected one search per keyword, got %d", len(msgs.queries))
	}
}

func TestDetectIssuesPrefersThreadWithPermalink(t *testing.T) {
	root := domain.RawMessage{ID: "200.0", Text: "PROJ-123 looks like a blocker for tonight"}
	hydrated := root
	hydrated.ThreadID, hydrated.ReplyCountHint = "200.0", 1
	msgs := &fakeMessages{
		search: map[string][]domain.RawMessage{
			"blocker":  {{ID: "300.0", Text: "Release blockers:\n- PROJ-123"}, root},
			"blocking": {root},
		},
		details: map[string]domain.RawMessage{"200.0": hydrated},
		threads: map[string][]domain.RawMessage{
			"200.0": {hydrated, {ID: "201.0", ThreadID: "200.0", Text: "yes, still blocking"}},
		},
	}
	issues, err := newPipeline(msgs).DetectIssues(context.Background(), "release", day)
	if err != nil {
		t.Fatalf("DetectIssues returned error: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected deduplicated issue, got %+v", issues)
	}
	if !issues[0].HasThread || issues[0].Permalink == "" {
		t.Fatalf("expected the threaded issue with permalink, got %+v", issues[0])
	}
	if msgs.threadCalls != 1 {
		t.Fatalf("expected one thread fetch, got %d", msgs.threadCalls)
	}
}

func TestDetectIssuesExpandsSearchHitThreadRoot(t *testing.T) {
	// Search reports the root with no reply count; only history knows it
	// anchors a thread.
	root := domain.RawMessage{ID: "100.000001", Text: "PROJ-123 is a release blocker"}
	msgs := &fakeMessages{
		search: map[string][]domain.RawMessage{"blocker": {root}},
		details: map[string]domain.RawMessage{
			"100.000001": {ID: "100.000001", ThreadID: "100.000001", ReplyCountHint: 1, Text: root.Text},
		},
		threads: map[string][]domain.RawMessage{
			"100.000001": {
				{ID: "100.000001", ThreadID: "100.000001", ReplyCountHint: 1, Text: root.Text},
				{ID: "100.000002", ThreadID: "100.000001", Text: "fixed, not blocking anymore"},
			},
		},
	}
	issues, err := newPipeline(msgs).DetectIssues(context.Background(), "C123", day)
	if err != nil {
		t.Fatalf("DetectIssues returned error: %v", err)
	}
	if msgs.threadCalls != 1 {
		t.Fatalf("expected the root's thread to be fetched once, got %d", msgs.threadCalls)
	}
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %+v", issues)
	}
	got := issues[0]
	if got.Severity != domain.SeverityBlockingResolved || !got.HasThread || got.ResolutionText == "" {
		t.Fatalf("expected resolved threaded issue, got %+v", got)
	}
}

func TestDetectIssuesToleratesPartialSearchFailure(t *testing.T) {
	msgs := &fakeMessages{
		search: map[string][]domain.RawMessage{
			"critical": {{ID: "400.0", Text: "PROJ-9 is critical for the payments flow"}},
		},
		searchErr: map[string]error{
			"blocker":  errors.New("ratelimited"),
			"blocking": errors.New("timeout"),
		},
	}
	issues, err := newPipeline(msgs).DetectIssues(context.Background(), "C123", day)
	if err != nil {
		t.Fatalf("expected partial failure to be tolerated, got %v", err)
	}
	if len(issues) != 1 || issues[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected one critical issue, got %+v", issues)
	}
}

func TestDetectIssuesAllSearchesFailed(t *testing.T) {
	_, err := newPipeline(&fakeMessages{failAll: true}).DetectIssues(context.Background(), "C123", day)
	if err == nil {
		t.Fatal("expected error when every search fails")
	}
	if !errors.Is(err, ErrAllSearchesFailed) {
		t.Fatalf("expected ErrAllSearchesFailed, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Issue detection pipeline failed:") || !strings.Contains(err.Error(), "All searches failed") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestDetectIssuesThreadFetchFailureKeepsSeed(t *testing.T) {
	root := domain.RawMessage{ID: "500.0", Text: "PROJ-77 is blocking the release"}
	msgs := &fakeMessages{
		search:    map[string][]domain.RawMessage{"blocking": {root}},
		details:   map[string]domain.RawMessage{"500.0": {ID: "500.0", ThreadID: "500.0", ReplyCountHint: 4}},
		threadErr: errors.New("thread_not_found"),
	}
	issues, err := newPipeline(msgs).DetectIssues(context.Background(), "C123", day)
	if err != nil {
		t.Fatalf("DetectIssues returned error: %v", err)
	}
	if len(issues) != 1 || issues[0].Tickets[0].Key != "PROJ-77" {
		t.Fatalf("expected seed-only issue, got %+v", issues)
	}
}

func TestDetectIssuesResolveFailure(t *testing.T) {
	msgs := &fakeMessages{resolveErr: errors.New("channel_not_found")}
	if _, err := newPipeline(msgs).DetectIssues(context.Background(), "#nope", day); err == nil {
		t.Fatal("expected channel resolution error")
	}
	if len(msgs.queries) != 0 {
		t.Fatal("expected no searches after resolution failure")
	}
}

func TestFindIssuesFiltersSeverity(t *testing.T) {
	msgs := &fakeMessages{search: map[string][]domain.RawMessage{
		"blocker":  {{ID: "600.0", Text: "PROJ-1 is a blocker"}},
		"critical": {{ID: "601.0", Text: "PROJ-2 is critical"}},
	}}
	issues, err := newPipeline(msgs).FindIssues(context.Background(), "C123", day, domain.SeverityCritical)
	if err != nil {
		t.Fatalf("FindIssues returned error: %v", err)
	}
	if len(issues) != 1 || issues[0].Tickets[0].Key != "PROJ-2" {
		t.Fatalf("expected only the critical issue, got %+v", issues)
	}
}

func TestValidatePipelineNamesMissingCollaborators(t *testing.T) {
	v := (&Pipeline{}).ValidatePipeline()
	if v.IsValid {
		t.Fatal("expected empty pipeline to be invalid")
	}
	joined := strings.Join(v.Errors, " ")
	for _, name := range []string{"messageService", "patternMatcher", "contextAnalyzer", "deduplicator"} {
		if !strings.Contains(joined, name) {
			t.Fatalf("expected %s in errors, got %v", name, v.Errors)
		}
	}

	if v := newPipeline(&fakeMessages{}).ValidatePipeline(); !v.IsValid || len(v.Errors) != 0 {
		t.Fatalf("expected complete pipeline to be valid, got %+v", v)
	}

	if _, err := (&Pipeline{}).DetectIssues(context.Background(), "C123", day); err == nil {
		t.Fatal("expected DetectIssues to refuse an invalid pipeline")
	}
}

func TestTestStatusReadsThread(t *testing.T) {
	root := domain.RawMessage{ID: "700.0", Text: "kicking off the regression run", ReplyCountHint: 2}
	msgs := &fakeMessages{
		details: map[string]domain.RawMessage{"700.0": root},
		threads: map[string][]domain.RawMessage{
			"700.0": {
				root,
				{ID: "701.0", ThreadID: "700.0", Text: "tests are failing on main"},
				{ID: "702.0", ThreadID: "700.0", Text: "all green now"},
			},
		},
	}
	got, err := newPipeline(msgs).TestStatus(context.Background(), "C123", "700.0")
	if err != nil {
		t.Fatalf("TestStatus returned error: %v", err)
	}
	if got.Status != consensus.TestStatusPassed || got.Timestamp != "702.0" {
		t.Fatalf("expected passed from the latest reply, got %+v", got)
	}
}
