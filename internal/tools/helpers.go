// Package tools implements the MCP tool handlers that expose the detection
// pipeline to MCP clients.
//
// Each tool is a struct holding its dependencies with a Definition for
// registration and a Handle compatible with mcp-go's CallToolRequest
// signature.
package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"blockerbot/internal/consensus"
	"blockerbot/internal/domain"
	"blockerbot/internal/pipeline"
	"blockerbot/internal/storage/sqlite"

	"github.com/mark3labs/mcp-go/mcp"
)

// Detector is the pipeline surface the tools call.
type Detector interface {
	DetectIssues(ctx context.Context, channel string, date time.Time) ([]domain.Issue, error)
	FindIssues(ctx context.Context, channel string, date time.Time, severity domain.Severity) ([]domain.Issue, error)
	ValidatePipeline() pipeline.Validation
	TestStatus(ctx context.Context, channel, threadTS string) (consensus.TestResult, error)
}

// Deps is shared by every tool. DB is optional; when set, detection runs are
// recorded in the audit log.
type Deps struct {
	Detector Detector
	DB       *sql.DB
	Location *time.Location
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// parseDate reads a YYYY-MM-DD date in the configured timezone. Empty means
// today.
func (d Deps) parseDate(raw string) (time.Time, error) {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "today") {
		n := d.now().In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc), nil
	}
	date, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", raw)
	}
	return date, nil
}

func (d Deps) record(channel string, date time.Time, issues []domain.Issue, err error, took time.Duration) {
	if d.DB == nil {
		return
	}
	run := domain.NewDetectionRun(channel, "", date, domain.SourceMCP, "", issues, err, took)
	if _, err := sqlite.InsertDetectionRun(d.DB, run, issues); err != nil {
		log.Printf("mcp record run channel=%s error (non-fatal): %v", channel, err)
	}
}

// textWithJSON appends v as a fenced JSON block after the markdown body.
func textWithJSON(markdown string, v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(markdown + "\n\n```json\n" + string(data) + "\n```\n"), nil
}

func issuesOrEmpty(issues []domain.Issue) []domain.Issue {
	if issues == nil {
		return []domain.Issue{}
	}
	return issues
}
