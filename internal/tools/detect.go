package tools

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"blockerbot/internal/domain"
	"blockerbot/internal/report"

	"github.com/mark3labs/mcp-go/mcp"
)

// DetectTool handles the detect_issues MCP tool.
type DetectTool struct {
	deps Deps
}

func NewDetectTool(deps Deps) *DetectTool {
	return &DetectTool{deps: deps}
}

func (t *DetectTool) Definition() mcp.Tool {
	return mcp.NewTool("detect_issues",
		mcp.WithDescription(
			"Scan a release channel for one day and return the release blockers, "+
				"critical issues and resolved blockers found in its messages and threads.",
		),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Channel name (#release), id (C0123ABCD) or mention."),
		),
		mcp.WithString("date",
			mcp.Description("Day to scan as YYYY-MM-DD. Defaults to today."),
		),
	)
}

func (t *DetectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := strings.TrimSpace(req.GetString("channel", ""))
	if channel == "" {
		return mcp.NewToolResultError("'channel' is required"), nil
	}
	date, err := t.deps.parseDate(req.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start := time.Now()
	issues, err := t.deps.Detector.DetectIssues(ctx, channel, date)
	t.deps.record(channel, date, issues, err, time.Since(start))
	if err != nil {
		log.Printf("mcp detect_issues channel=%s error: %v", channel, err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	log.Printf("mcp detect_issues channel=%s date=%s %s", channel, date.Format("2006-01-02"), report.Summary(issues))

	return textWithJSON(report.RenderMarkdown(channel, date, issues), map[string]any{
		"channel": channel,
		"date":    date.Format("2006-01-02"),
		"issues":  issuesOrEmpty(issues),
	})
}

// FindTool handles the find_issues MCP tool.
type FindTool struct {
	deps Deps
}

func NewFindTool(deps Deps) *FindTool {
	return &FindTool{deps: deps}
}

func (t *FindTool) Definition() mcp.Tool {
	return mcp.NewTool("find_issues",
		mcp.WithDescription("Like detect_issues, but only returns issues of one severity."),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Channel name (#release), id (C0123ABCD) or mention."),
		),
		mcp.WithString("date",
			mcp.Description("Day to scan as YYYY-MM-DD. Defaults to today."),
		),
		mcp.WithString("severity",
			mcp.Required(),
			mcp.Description("blocking, critical or blocking_resolved."),
		),
	)
}

func (t *FindTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := strings.TrimSpace(req.GetString("channel", ""))
	if channel == "" {
		return mcp.NewToolResultError("'channel' is required"), nil
	}
	rawSeverity := req.GetString("severity", "")
	severity, ok := domain.ParseSeverity(rawSeverity)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf(
			"invalid severity %q: must be one of: blocking, critical, blocking_resolved", rawSeverity,
		)), nil
	}
	date, err := t.deps.parseDate(req.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	issues, err := t.deps.Detector.FindIssues(ctx, channel, date, severity)
	if err != nil {
		log.Printf("mcp find_issues channel=%s severity=%s error: %v", channel, severity, err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	return textWithJSON(report.RenderMarkdown(channel, date, issues), map[string]any{
		"channel":  channel,
		"date":     date.Format("2006-01-02"),
		"severity": severity,
		"issues":   issuesOrEmpty(issues),
	})
}
