// Package digest runs the detection pipeline for every watched channel on a
// cron schedule and posts the result.
package digest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"blockerbot/internal/config"
	"blockerbot/internal/domain"
	"blockerbot/internal/report"
	"blockerbot/internal/storage/sqlite"

	"github.com/slack-go/slack"
)

const runTimeout = 5 * time.Minute

type Detector interface {
	DetectIssues(ctx context.Context, channel string, date time.Time) ([]domain.Issue, error)
}

type Notifier interface {
	NotifyBlockers(ctx context.Context, channel string, date time.Time, issues []domain.Issue) (int, error)
}

type Digest struct {
	cfg      config.Config
	detector Detector
	api      *slack.Client
	db       *sql.DB
	notifier Notifier
}

// New builds a digest runner. api, db and notifier are optional; a nil value
// skips posting, recording or nudging respectively.
func New(cfg config.Config, detector Detector, api *slack.Client, db *sql.DB, notifier Notifier) *Digest {
	return &Digest{cfg: cfg, detector: detector, api: api, db: db, notifier: notifier}
}

// ChannelResult is the outcome for one watched channel.
type ChannelResult struct {
	Channel string
	Issues  []domain.Issue
	Err     error
	Nudged  int
}

// RunOnce scans every watched channel for the day containing now.
func (d *Digest) RunOnce(ctx context.Context, now time.Time) []ChannelResult {
	loc := d.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var results []ChannelResult
	for _, channel := range d.cfg.WatchChannels {
		res := d.runChannel(ctx, channel, date)
		results = append(results, res)
	}
	return results
}

func (d *Digest) runChannel(ctx context.Context, channel string, date time.Time) ChannelResult {
	res := ChannelResult{Channel: channel}
	start := time.Now()
	res.Issues, res.Err = d.detector.DetectIssues(ctx, channel, date)
	took := time.Since(start)

	if d.db != nil {
		run := domain.NewDetectionRun(channel, channel, date, domain.SourceDigest, "", res.Issues, res.Err, took)
		if id, err := sqlite.InsertDetectionRun(d.db, run, res.Issues); err != nil {
			log.Printf("digest record channel=%s error (non-fatal): %v", channel, err)
		} else {
			log.Printf("digest record id=%d uuid=%s channel=%s", id, run.RunUUID, channel)
		}
	}

	if res.Err != nil {
		log.Printf("digest channel=%s error: %v", channel, res.Err)
		d.post(ctx, channel, fmt.Sprintf("Blocker digest for %s failed: %v", channel, res.Err))
		return res
	}
	log.Printf("digest channel=%s %s took=%s", channel, report.Summary(res.Issues), took.Round(time.Millisecond))

	if d.cfg.ReportOutputDir != "" {
		content := report.RenderMarkdown(channel, date, res.Issues)
		if _, err := report.WriteReportFile(content, d.cfg.ReportOutputDir, date, "blockers_"+strings.TrimPrefix(channel, "#")); err != nil {
			log.Printf("digest report write channel=%s error (non-fatal): %v", channel, err)
		}
	}
	d.post(ctx, channel, report.RenderSlack(channel, date, res.Issues))

	if d.notifier != nil {
		n, err := d.notifier.NotifyBlockers(ctx, channel, date, res.Issues)
		if err != nil {
			log.Printf("digest nudge channel=%s error (non-fatal): %v", channel, err)
		}
		res.Nudged = n
	}
	return res
}

// post sends text to the report channel, or to the watched channel itself
// when no report channel is configured.
func (d *Digest) post(ctx context.Context, channel, text string) {
	if d.api == nil {
		return
	}
	target := d.cfg.ReportChannelID
	if target == "" {
		target = channel
	}
	if _, _, err := d.api.PostMessageContext(ctx, target, slack.MsgOptionText(text, false)); err != nil {
		log.Printf("digest post channel=%s error: %v", target, err)
	}
}

// Start runs the digest on cfg.DigestSchedule (a standard 5-field cron
// expression, e.g. "0 9 * * 1-5" for weekdays at 9am) until the process
// exits. An empty schedule or no watched channels disables it.
func (d *Digest) Start() {
	schedule := strings.TrimSpace(d.cfg.DigestSchedule)
	if schedule == "" {
		log.Println("Digest disabled (digest_schedule not set)")
		return
	}
	if len(d.cfg.WatchChannels) == 0 {
		log.Println("Digest disabled: no watch_channels configured")
		return
	}

	sched, err := config.ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid digest_schedule '%s': %v (digest disabled)", schedule, err)
		return
	}
	loc := d.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Digest scheduled (cron: %s) for %d channel(s)", schedule, len(d.cfg.WatchChannels))

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next digest at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			results := d.RunOnce(ctx, time.Now())
			cancel()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			log.Printf("Digest complete: channels=%d failed=%d", len(results), failed)
		}
	}()
}
