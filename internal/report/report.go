// Package report renders detected issues for people: markdown files and
// Slack mrkdwn messages.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blockerbot/internal/domain"
)

// sectionOrder is the order sections appear in every rendering.
var sectionOrder = []domain.Severity{
	domain.SeverityBlocking,
	domain.SeverityCritical,
	domain.SeverityBlockingResolved,
}

const emptyReport = "No release blockers or critical issues found."

type flavor struct {
	heading  func(string) string
	bold     func(string) string
	link     func(text, url string) string
	bullet   string
	quoteFmt string
}

var markdownFlavor = flavor{
	heading: func(s string) string { return "### " + s },
	bold:    func(s string) string { return "**" + s + "**" },
	link: func(text, url string) string {
		return fmt.Sprintf("[%s](%s)", text, url)
	},
	bullet:   "- ",
	quoteFmt: "  > %s",
}

var slackFlavor = flavor{
	heading: func(s string) string { return "*" + s + "*" },
	bold:    func(s string) string { return "*" + s + "*" },
	link: func(text, url string) string {
		return fmt.Sprintf("<%s|%s>", url, text)
	},
	bullet:   "• ",
	quoteFmt: "    _%s_",
}

// RenderMarkdown renders a report suitable for a .md file or an MCP text
// result.
func RenderMarkdown(channel string, date time.Time, issues []domain.Issue) string {
	title := fmt.Sprintf("# Release issues for %s on %s", displayChannel(channel), date.Format("2006-01-02"))
	return render(markdownFlavor, title, issues)
}

// RenderSlack renders the same report with Slack mrkdwn.
func RenderSlack(channel string, date time.Time, issues []domain.Issue) string {
	title := fmt.Sprintf("*Release issues for %s on %s*", slackChannel(channel), date.Format("2006-01-02"))
	return render(slackFlavor, title, issues)
}

func render(f flavor, title string, issues []domain.Issue) string {
	var buf strings.Builder
	buf.WriteString(title)
	buf.WriteString("\n\n")

	grouped := groupBySeverity(issues)
	if len(grouped) == 0 {
		buf.WriteString(emptyReport)
		buf.WriteString("\n")
		return buf.String()
	}

	for _, sev := range sectionOrder {
		items := grouped[sev]
		if len(items) == 0 {
			continue
		}
		buf.WriteString(f.heading(fmt.Sprintf("%s (%d)", sectionTitle(sev), len(items))))
		buf.WriteString("\n")
		for _, issue := range items {
			buf.WriteString(f.bullet)
			buf.WriteString(formatIssue(f, issue))
			buf.WriteString("\n")
			if sev == domain.SeverityBlockingResolved && issue.ResolutionText != "" {
				buf.WriteString(fmt.Sprintf(f.quoteFmt, oneLine(issue.ResolutionText)))
				buf.WriteString("\n")
			}
		}
		buf.WriteString("\n")
	}
	return strings.TrimRight(buf.String(), "\n") + "\n"
}

func formatIssue(f flavor, issue domain.Issue) string {
	var keys []string
	for _, t := range issue.Tickets {
		if t.URL != "" {
			keys = append(keys, f.link(t.Key, t.URL))
		} else {
			keys = append(keys, f.bold(t.Key))
		}
	}
	line := strings.Join(keys, ", ")
	if text := oneLine(issue.Text); text != "" {
		line += ": " + text
	}
	var tags []string
	if issue.HotfixCommitment {
		tags = append(tags, "hotfix")
	}
	if issue.HasThread {
		tags = append(tags, "thread")
	}
	if len(tags) > 0 {
		line += " (" + strings.Join(tags, ", ") + ")"
	}
	if issue.Permalink != "" {
		line += " " + f.link("view", issue.Permalink)
	}
	return line
}

func groupBySeverity(issues []domain.Issue) map[domain.Severity][]domain.Issue {
	out := make(map[domain.Severity][]domain.Issue)
	for _, issue := range issues {
		if !issue.Emittable() {
			continue
		}
		out[issue.Severity] = append(out[issue.Severity], issue)
	}
	return out
}

func sectionTitle(sev domain.Severity) string {
	switch sev {
	case domain.SeverityBlocking:
		return "Release blockers"
	case domain.SeverityCritical:
		return "Critical issues"
	case domain.SeverityBlockingResolved:
		return "Resolved blockers"
	}
	return sev.Label()
}

// Summary is a one-line count used in digests and logs.
func Summary(issues []domain.Issue) string {
	grouped := groupBySeverity(issues)
	return fmt.Sprintf("%d blocking, %d critical, %d resolved",
		len(grouped[domain.SeverityBlocking]),
		len(grouped[domain.SeverityCritical]),
		len(grouped[domain.SeverityBlockingResolved]),
	)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func displayChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return "(unknown channel)"
	}
	if strings.HasPrefix(channel, "#") || looksLikeChannelID(channel) {
		return channel
	}
	return "#" + channel
}

func slackChannel(channel string) string {
	if looksLikeChannelID(channel) {
		return "<#" + channel + ">"
	}
	return displayChannel(channel)
}

func looksLikeChannelID(s string) bool {
	if len(s) < 9 || (s[0] != 'C' && s[0] != 'G') {
		return false
	}
	for _, r := range s[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func WriteReportFile(content, outputDir string, reportDate time.Time, channel string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.md", sanitizeFilename(channel), reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", "#", "")
	s = strings.TrimSpace(replacer.Replace(s))
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "channel"
	}
	return s
}
