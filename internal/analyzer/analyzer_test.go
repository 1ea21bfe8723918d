package analyzer

import (
	"context"
	"errors"
	"testing"

	"blockerbot/internal/domain"
	"blockerbot/internal/patterns"
)

type fakePermalinks struct {
	calls int
	link  string
	err   error
}

func (f *fakePermalinks) GetPermalink(ctx context.Context, channelID, messageID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.link + messageID, nil
}

type fakeClassifier struct {
	result domain.ClassificationResult
	calls  int
}

func (f *fakeClassifier) Available(context.Context) bool { return true }

func (f *fakeClassifier) Classify(ctx context.Context, msg domain.RawMessage, thread []domain.RawMessage) domain.ClassificationResult {
	f.calls++
	return f.result
}

func byKey(issues []domain.Issue) map[string]domain.Issue {
	out := make(map[string]domain.Issue)
	for _, i := range issues {
		for _, k := range i.TicketKeys() {
			out[k] = i
		}
	}
	return out
}

func TestSingleMessageReleaseBlocker(t *testing.T) {
	a := New(patterns.Default(), Options{})
	issues := a.AnalyzeTickets(context.Background(), "C1", nil, []domain.RawMessage{
		{ID: "100.000001", Text: "PROJ-123 is a release blocker"},
	})
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %+v", issues)
	}
	got := issues[0]
	if got.Severity != domain.SeverityBlocking || got.HasThread {
		t.Fatalf("unexpected issue: %+v", got)
	}
	if len(got.Tickets) != 1 || got.Tickets[0].Key != "PROJ-123" {
		t.Fatalf("unexpected tickets: %+v", got.Tickets)
	}
}

func TestBlockingStatementDoesNotLeakAcrossTickets(t *testing.T) {
	a := New(nil, Options{})
	msgs := []domain.RawMessage{
		{ID: "10.0", Text: "Looking at PROJ-1 and PROJ-2 for tonight", ReplyCountHint: 3},
		{ID: "11.0", ThreadID: "10.0", Text: "PROJ-1 is a blocker"},
		{ID: "12.0", ThreadID: "10.0", Text: "PROJ-2 is fine. PROJ-1 still blocking the release"},
		{ID: "13.0", ThreadID: "10.0", Text: "this one is a blocker too"},
	}
	issues := byKey(a.AnalyzeTickets(context.Background(), "C1", nil, msgs))
	if issues["PROJ-1"].Severity != domain.SeverityBlocking {
		t.Fatalf("expected PROJ-1 blocking, got %+v", issues["PROJ-1"])
	}
	if _, ok := issues["PROJ-2"]; ok {
		t.Fatalf("expected PROJ-2 to stay clear, got %+v", issues["PROJ-2"])
	}
	if !issues["PROJ-1"].HasThread {
		t.Fatal("expected PROJ-1 issue to carry hasThread")
	}
	if issues["PROJ-1"].Timestamp != "12.0" {
		t.Fatalf("expected timestamp of the latest relevant message, got %q", issues["PROJ-1"].Timestamp)
	}
}

func TestNumericFragmentsAttributeGenericStatements(t *testing.T) {
	a := New(nil, Options{})
	msgs := []domain.RawMessage{
		{ID: "20.0", Text: "Candidates: PROJ-65023, PROJ-65025, PROJ-65030"},
		{ID: "21.0", ThreadID: "20.0", Text: "blockers are just 65023, 65025"},
	}
	issues := byKey(a.AnalyzeTickets(context.Background(), "C1", nil, msgs))
	for _, key := range []string{"PROJ-65023", "PROJ-65025"} {
		if issues[key].Severity != domain.SeverityBlocking {
			t.Fatalf("expected %s blocking, got %+v", key, issues[key])
		}
	}
	if _, ok := issues["PROJ-65030"]; ok {
		t.Fatal("expected PROJ-65030 to stay clear")
	}
}

func TestHotfixListPinsAgainstLaterReady(t *testing.T) {
	a := New(nil, Options{Classifier: &fakeClassifier{result: domain.ClassificationResult{IsBlocker: false, Confidence: 99}}})
	msgs := []domain.RawMessage{
		{ID: "30.0", Text: "List of hotfixes:\n- PROJ-7\n- PROJ-8"},
		{ID: "31.0", ThreadID: "30.0", Text: "PROJ-7 ready"},
		{ID: "32.0", ThreadID: "30.0", Text: "PROJ-8 fix is merged"},
	}
	issues := byKey(a.AnalyzeTickets(context.Background(), "C1", nil, msgs))
	for _, key := range []string{"PROJ-7", "PROJ-8"} {
		got := issues[key]
		if got.Severity != domain.SeverityBlocking || !got.HotfixCommitment {
			t.Fatalf("expected %s pinned blocking with hotfix commitment, got %+v", key, got)
		}
	}
}

func TestResolvedBlockerIsReported(t *testing.T) {
	a := New(nil, Options{})
	msgs := []domain.RawMessage{
		{ID: "40.0", Text: "PROJ-9 is blocking the release"},
		{ID: "41.0", ThreadID: "40.0", Text: "fix is deployed, not blocking anymore"},
	}
	issues := a.AnalyzeTickets(context.Background(), "C1", nil, msgs)
	if len(issues) != 1 || issues[0].Severity != domain.SeverityBlockingResolved {
		t.Fatalf("expected resolved blocker, got %+v", issues)
	}
	if issues[0].ResolutionText == "" {
		t.Fatal("expected resolution text")
	}
}

func TestUITerminologyIsSkipped(t *testing.T) {
	a := New(nil, Options{})
	issues := a.AnalyzeTickets(context.Background(), "C1", nil, []domain.RawMessage{
		{ID: "50.0", Text: "PROJ-11: add block dialog is blocking the editor"},
	})
	if len(issues) != 0 {
		t.Fatalf("expected no issues for UI terminology, got %+v", issues)
	}
}

func TestCriticalAndNegatedCritical(t *testing.T) {
	a := New(nil, Options{})
	issues := byKey(a.AnalyzeTickets(context.Background(), "C1", nil, []domain.RawMessage{
		{ID: "60.0", Text: "PROJ-12 is critical for mobile"},
		{ID: "61.0", Text: "PROJ-13 is not critical"},
	}))
	if issues["PROJ-12"].Severity != domain.SeverityCritical {
		t.Fatalf("expected PROJ-12 critical, got %+v", issues["PROJ-12"])
	}
	if _, ok := issues["PROJ-13"]; ok {
		t.Fatal("expected negated critical to be dropped")
	}
}

func TestPermalinkFetchedOncePerThread(t *testing.T) {
	links := &fakePermalinks{link: "https://example.slack.com/archives/C1/p"}
	a := New(nil, Options{Permalinks: links})
	msgs := []domain.RawMessage{
		{ID: "70.0", Text: "PROJ-20 and PROJ-21 are blockers", ReplyCountHint: 1},
		{ID: "71.0", ThreadID: "70.0", Text: "ack"},
	}
	issues := a.AnalyzeTickets(context.Background(), "C1", nil, msgs)
	if len(issues) != 2 {
		t.Fatalf("expected two issues, got %+v", issues)
	}
	if links.calls != 1 {
		t.Fatalf("expected one permalink lookup, got %d", links.calls)
	}
	if issues[0].Permalink != "https://example.slack.com/archives/C1/p70.0" {
		t.Fatalf("unexpected permalink: %q", issues[0].Permalink)
	}

	failing := &fakePermalinks{err: errors.New("channel_not_found")}
	a = New(nil, Options{Permalinks: failing})
	issues = a.AnalyzeTickets(context.Background(), "C1", nil, msgs[:1])
	if len(issues) != 2 || issues[0].Permalink != "" {
		t.Fatalf("expected issues without permalink on lookup failure, got %+v", issues)
	}
}

func TestClassifierOverridesOnlyAboveThreshold(t *testing.T) {
	msgs := []domain.RawMessage{{ID: "80.0", Text: "PROJ-30 blocks the release"}}

	low := &fakeClassifier{result: domain.ClassificationResult{IsBlocker: false, Confidence: 40}}
	issues := New(nil, Options{Classifier: low}).AnalyzeTickets(context.Background(), "C1", nil, msgs)
	if len(issues) != 1 || issues[0].Severity != domain.SeverityBlocking {
		t.Fatalf("expected low-confidence verdict to be ignored, got %+v", issues)
	}

	msgs = []domain.RawMessage{{ID: "81.0", Text: "PROJ-31 blocks the release"}}
	high := &fakeClassifier{result: domain.ClassificationResult{IsBlocker: false, Confidence: 90}}
	issues = New(nil, Options{Classifier: high}).AnalyzeTickets(context.Background(), "C1", nil, msgs)
	if len(issues) != 0 {
		t.Fatalf("expected confident model verdict to clear the blocker, got %+v", issues)
	}
	if high.calls != 1 {
		t.Fatalf("expected one classifier call, got %d", high.calls)
	}
}

func TestTicketFilter(t *testing.T) {
	a := New(nil, Options{})
	msgs := []domain.RawMessage{
		{ID: "90.0", Text: "PROJ-40 is a blocker"},
		{ID: "91.0", Text: "PROJ-41 is a blocker"},
	}
	issues := a.AnalyzeTickets(context.Background(), "C1", []domain.TicketReference{{Key: "PROJ-41"}}, msgs)
	if len(issues) != 1 || issues[0].Tickets[0].Key != "PROJ-41" {
		t.Fatalf("expected only PROJ-41, got %+v", issues)
	}
}
