package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run sources recorded in the audit log.
const (
	SourceSlash  = "slash"
	SourceDigest = "digest"
	SourceCLI    = "cli"
	SourceMCP    = "mcp"
)

// DetectionRun is one audit-log row. The log is write-only for detection:
// verdicts are always rebuilt from the channel, never read back.
type DetectionRun struct {
	ID            int64
	RunUUID       string // correlates log lines with the stored row
	Channel       string
	ChannelID     string
	RunDate       string // YYYY-MM-DD in the configured timezone
	Source        string
	RequestedBy   string
	IssueCount    int
	BlockingCount int
	CriticalCount int
	ResolvedCount int
	Error         string
	DurationMS    int64
	CreatedAt     time.Time
}

// CountSeverities fills the per-severity counters from issues.
func (r *DetectionRun) CountSeverities(issues []Issue) {
	r.IssueCount, r.BlockingCount, r.CriticalCount, r.ResolvedCount = 0, 0, 0, 0
	for _, issue := range issues {
		if !issue.Emittable() {
			continue
		}
		r.IssueCount++
		switch issue.Severity {
		case SeverityBlocking:
			r.BlockingCount++
		case SeverityCritical:
			r.CriticalCount++
		case SeverityBlockingResolved:
			r.ResolvedCount++
		}
	}
}

// NewDetectionRun builds the audit row for one pipeline invocation.
func NewDetectionRun(channel, channelID string, date time.Time, source, requestedBy string, issues []Issue, err error, took time.Duration) DetectionRun {
	run := DetectionRun{
		RunUUID:     uuid.NewString(),
		Channel:     channel,
		ChannelID:   channelID,
		RunDate:     date.Format("2006-01-02"),
		Source:      source,
		RequestedBy: requestedBy,
		DurationMS:  took.Milliseconds(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	run.CountSeverities(issues)
	return run
}
