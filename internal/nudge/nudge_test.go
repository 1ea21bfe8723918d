package nudge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"blockerbot/internal/domain"

	"github.com/slack-go/slack"
)

type dmRecorder struct {
	mu       sync.Mutex
	opened   []string
	messages []string
}

func newMockSlackAPI(t *testing.T, rec *dmRecorder) *slack.Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		switch path {
		case "users.list":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"members": []map[string]any{
					{
						"id":        "U0RELMGR1",
						"name":      "carol",
						"real_name": "Carol Release",
						"profile": map[string]any{
							"display_name": "carol.rm",
						},
					},
				},
			})
		case "conversations.open":
			rec.mu.Lock()
			rec.opened = append(rec.opened, r.Form.Get("users"))
			rec.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":      true,
				"channel": map[string]any{"id": "D_" + r.Form.Get("users")},
			})
		case "chat.postMessage":
			rec.mu.Lock()
			rec.messages = append(rec.messages, r.Form.Get("text"))
			rec.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": r.Form.Get("channel"), "ts": "1.23"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)

	return slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/"))
}

var nudgeDate = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

func sampleIssues() []domain.Issue {
	return []domain.Issue{
		{
			Severity:         domain.SeverityBlocking,
			Tickets:          []domain.TicketReference{{Key: "PROJ-1"}},
			Permalink:        "https://example.slack.com/archives/C1/p1",
			HotfixCommitment: true,
		},
		{Severity: domain.SeverityCritical, Tickets: []domain.TicketReference{{Key: "PROJ-2"}}},
	}
}

func TestNotifyBlockersSendsOncePerBlockerSet(t *testing.T) {
	rec := &dmRecorder{}
	n := New(newMockSlackAPI(t, rec), []string{"U0RELMGR2", "Carol Release", "nobody"})

	sent, err := n.NotifyBlockers(context.Background(), "release", nudgeDate, sampleIssues())
	if err != nil {
		t.Fatalf("NotifyBlockers returned error: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected two DMs, got %d", sent)
	}
	if len(rec.messages) != 2 || !strings.Contains(rec.messages[0], "PROJ-1 (hotfix)") {
		t.Fatalf("unexpected DM text: %v", rec.messages)
	}
	if strings.Contains(rec.messages[0], "PROJ-2") {
		t.Fatalf("critical issues should not be nudged: %q", rec.messages[0])
	}

	sent, err = n.NotifyBlockers(context.Background(), "release", nudgeDate, sampleIssues())
	if err != nil || sent != 0 {
		t.Fatalf("expected repeat to be skipped, sent=%d err=%v", sent, err)
	}
}

func TestNotifyBlockersNothingToSend(t *testing.T) {
	rec := &dmRecorder{}
	api := newMockSlackAPI(t, rec)

	if sent, _ := New(api, nil).NotifyBlockers(context.Background(), "release", nudgeDate, sampleIssues()); sent != 0 {
		t.Fatalf("expected no DMs without managers, got %d", sent)
	}
	onlyCritical := sampleIssues()[1:]
	if sent, _ := New(api, []string{"U0RELMGR2"}).NotifyBlockers(context.Background(), "release", nudgeDate, onlyCritical); sent != 0 {
		t.Fatalf("expected no DMs without blockers, got %d", sent)
	}
	if len(rec.opened) != 0 {
		t.Fatalf("expected no conversations opened, got %v", rec.opened)
	}
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage("C12345678", nudgeDate, ActiveBlockers(sampleIssues()))
	if !strings.HasPrefix(msg, ":rotating_light: 1 active release blocker(s) in <#C12345678> on Feb 20:") {
		t.Fatalf("unexpected header: %q", msg)
	}
	if !strings.Contains(msg, "<https://example.slack.com/archives/C1/p1|thread>") {
		t.Fatalf("expected thread link: %q", msg)
	}
	if got := BuildMessage("#release", nudgeDate, nil); !strings.Contains(got, "#release") {
		t.Fatalf("expected channel name: %q", got)
	}
}
