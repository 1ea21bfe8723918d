// Package nudge DMs release managers when a detection run finds active
// release blockers.
package nudge

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"blockerbot/internal/domain"
	slackbot "blockerbot/internal/integrations/slack"

	"github.com/slack-go/slack"
)

type Notifier struct {
	api      *slack.Client
	users    *slackbot.UserDirectory
	managers []string

	mu   sync.Mutex
	sent map[string]bool
}

func New(api *slack.Client, managers []string) *Notifier {
	return &Notifier{
		api:      api,
		users:    slackbot.NewUserDirectory(api, 0),
		managers: managers,
		sent:     make(map[string]bool),
	}
}

// NotifyBlockers DMs every configured release manager about the active
// blockers in issues. The same blocker set for the same channel and day is
// sent only once per process. It returns the number of DMs delivered.
func (n *Notifier) NotifyBlockers(ctx context.Context, channel string, date time.Time, issues []domain.Issue) (int, error) {
	if len(n.managers) == 0 {
		return 0, nil
	}
	blockers := ActiveBlockers(issues)
	if len(blockers) == 0 {
		return 0, nil
	}

	key := fmt.Sprintf("%s|%s|%s", channel, date.Format("2006-01-02"), strings.Join(blockerKeys(blockers), ","))
	n.mu.Lock()
	if n.sent[key] {
		n.mu.Unlock()
		log.Printf("nudge skip channel=%s blockers=%d (already sent)", channel, len(blockers))
		return 0, nil
	}
	n.mu.Unlock()

	ids, unresolved, err := n.users.Resolve(ctx, n.managers)
	if err != nil {
		log.Printf("Error resolving release_managers: %v", err)
		if len(ids) == 0 {
			return 0, err
		}
	}
	if len(unresolved) > 0 {
		log.Printf("Unresolved release_managers: %s", strings.Join(unresolved, ", "))
	}

	msg := BuildMessage(channel, date, blockers)
	delivered := 0
	for _, userID := range ids {
		dm, _, _, err := n.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{userID},
		})
		if err != nil {
			log.Printf("Error opening DM with %s: %v", userID, err)
			continue
		}
		if _, _, err := n.api.PostMessageContext(ctx, dm.ID, slack.MsgOptionText(msg, false)); err != nil {
			log.Printf("Error sending blocker nudge to %s: %v", userID, err)
			continue
		}
		delivered++
		log.Printf("Sent blocker nudge to %s channel=%s blockers=%d", userID, channel, len(blockers))
	}

	if delivered > 0 {
		n.mu.Lock()
		n.sent[key] = true
		n.mu.Unlock()
	}
	return delivered, nil
}

func ActiveBlockers(issues []domain.Issue) []domain.Issue {
	var out []domain.Issue
	for _, issue := range issues {
		if issue.Emittable() && issue.Severity == domain.SeverityBlocking {
			out = append(out, issue)
		}
	}
	return out
}

func BuildMessage(channel string, date time.Time, blockers []domain.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: %d active release blocker(s) in %s on %s:", len(blockers), channelRef(channel), date.Format("Jan 2"))
	for _, issue := range blockers {
		b.WriteString("\n• ")
		b.WriteString(strings.Join(issue.TicketKeys(), ", "))
		if issue.HotfixCommitment {
			b.WriteString(" (hotfix)")
		}
		if issue.Permalink != "" {
			fmt.Fprintf(&b, " <%s|thread>", issue.Permalink)
		}
	}
	b.WriteString("\nRun `/blockers` in the channel for details.")
	return b.String()
}

func blockerKeys(blockers []domain.Issue) []string {
	var keys []string
	for _, issue := range blockers {
		keys = append(keys, issue.TicketKeys()...)
	}
	sort.Strings(keys)
	return keys
}

func channelRef(channel string) string {
	if channel == "" {
		return "the release channel"
	}
	if strings.HasPrefix(channel, "C") && !strings.ContainsAny(channel, "#- ") && strings.ToUpper(channel) == channel {
		return "<#" + channel + ">"
	}
	return "#" + strings.TrimPrefix(channel, "#")
}
