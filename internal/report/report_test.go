package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blockerbot/internal/domain"
)

var reportDate = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

func sampleIssues() []domain.Issue {
	return []domain.Issue{
		{
			Severity:       domain.SeverityBlockingResolved,
			Text:           "PROJ-3 was blocking",
			Tickets:        []domain.TicketReference{{Key: "PROJ-3"}},
			ResolutionText: "fix is deployed,\n not blocking anymore",
		},
		{
			Severity:  domain.SeverityCritical,
			Text:      "PROJ-2 is critical for payments",
			Tickets:   []domain.TicketReference{{Key: "PROJ-2"}},
			Permalink: "https://example.slack.com/archives/C1/p2",
		},
		{
			Severity:         domain.SeverityBlocking,
			Text:             "PROJ-1 is a release blocker",
			Tickets:          []domain.TicketReference{{Key: "PROJ-1", URL: "https://jira.example.com/browse/PROJ-1"}},
			HasThread:        true,
			HotfixCommitment: true,
		},
		{Severity: domain.SeverityNone, Text: "noise", Tickets: []domain.TicketReference{{Key: "PROJ-9"}}},
	}
}

func TestRenderMarkdownOrdersSections(t *testing.T) {
	out := RenderMarkdown("release", reportDate, sampleIssues())
	if !strings.HasPrefix(out, "# Release issues for #release on 2026-02-20") {
		t.Fatalf("unexpected title: %q", out)
	}
	blocking := strings.Index(out, "### Release blockers (1)")
	critical := strings.Index(out, "### Critical issues (1)")
	resolved := strings.Index(out, "### Resolved blockers (1)")
	if blocking < 0 || critical < 0 || resolved < 0 {
		t.Fatalf("missing sections:\n%s", out)
	}
	if !(blocking < critical && critical < resolved) {
		t.Fatalf("sections out of order:\n%s", out)
	}
	if !strings.Contains(out, "[PROJ-1](https://jira.example.com/browse/PROJ-1): PROJ-1 is a release blocker (hotfix, thread)") {
		t.Fatalf("unexpected blocker line:\n%s", out)
	}
	if !strings.Contains(out, "  > fix is deployed, not blocking anymore") {
		t.Fatalf("expected resolution quote:\n%s", out)
	}
	if strings.Contains(out, "PROJ-9") {
		t.Fatalf("expected none-severity issue to be omitted:\n%s", out)
	}
}

func TestRenderSlackUsesMrkdwn(t *testing.T) {
	out := RenderSlack("C12345678", reportDate, sampleIssues())
	if !strings.HasPrefix(out, "*Release issues for <#C12345678> on 2026-02-20*") {
		t.Fatalf("unexpected title: %q", out)
	}
	if !strings.Contains(out, "• *PROJ-2*: PROJ-2 is critical for payments <https://example.slack.com/archives/C1/p2|view>") {
		t.Fatalf("unexpected critical line:\n%s", out)
	}
}

func TestRenderEmptyReport(t *testing.T) {
	out := RenderMarkdown("#release", reportDate, nil)
	if !strings.Contains(out, emptyReport) {
		t.Fatalf("expected empty message, got %q", out)
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(sampleIssues()); got != "1 blocking, 1 critical, 1 resolved" {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestWriteReportFile(t *testing.T) {
	outDir := t.TempDir()

	reportPath, err := WriteReportFile("hello report\n", outDir, reportDate, "#release")
	if err != nil {
		t.Fatalf("WriteReportFile failed: %v", err)
	}
	if !strings.HasSuffix(reportPath, "release_20260220.md") {
		t.Fatalf("unexpected report file path: %s", reportPath)
	}
	if data, err := os.ReadFile(reportPath); err != nil || string(data) != "hello report\n" {
		t.Fatalf("unexpected report file content err=%v content=%q", err, string(data))
	}
}

func TestWriteReportFileSanitizesChannel(t *testing.T) {
	outDir := t.TempDir()

	for _, channel := range []string{"../Ops\\Team", "../../Team:Name<>|*?", ""} {
		reportPath, err := WriteReportFile("x", outDir, reportDate, channel)
		if err != nil {
			t.Fatalf("WriteReportFile(%q) failed: %v", channel, err)
		}
		base := filepath.Base(reportPath)
		if strings.ContainsAny(base, `/\:*?"<>|`) || strings.HasPrefix(base, ".") {
			t.Fatalf("unsafe report filename %q for %q", base, channel)
		}
		rel, err := filepath.Rel(filepath.Clean(outDir), filepath.Clean(reportPath))
		if err != nil || strings.HasPrefix(rel, "..") {
			t.Fatalf("report path escaped output directory: %s", reportPath)
		}
	}
}
