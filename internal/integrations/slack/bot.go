package slackbot

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
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	historyLimit   = 10
	commandTimeout = 3 * time.Minute
)

// Detector is the part of the pipeline the bot drives.
type Detector interface {
	DetectIssues(ctx context.Context, channel string, date time.Time) ([]domain.Issue, error)
}

type Bot struct {
	cfg      config.Config
	api      *slack.Client
	client   *Client
	detector Detector
	db       *sql.DB
	now      func() time.Time
}

func NewBot(cfg config.Config, client *Client, detector Detector, db *sql.DB) *Bot {
	return &Bot{
		cfg:      cfg,
		api:      client.API(),
		client:   client,
		detector: detector,
		db:       db,
		now:      time.Now,
	}
}

// Start connects over Socket Mode and serves slash commands until the
// connection ends.
func (b *Bot) Start() error {
	client := socketmode.New(b.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go b.handleSlashCommand(cmd)
			case socketmode.EventTypeEventsAPI:
				client.Ack(*evt.Request)
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				go b.handleEventsAPI(eventsAPIEvent)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.Run()
}

func (b *Bot) handleSlashCommand(cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/blockers":
		b.handleDetect(cmd, domain.SeverityBlocking, domain.SeverityBlockingResolved)
	case "/critical":
		b.handleDetect(cmd, domain.SeverityCritical)
	case "/release-status":
		b.handleDetect(cmd)
	case "/blocker-history":
		b.handleHistory(cmd)
	case "/blockerbot-help":
		b.handleHelp(cmd)
	}
}

func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MemberJoinedChannelEvent:
		b.handleMemberJoined(ev)
	}
}

func (b *Bot) handleMemberJoined(ev *slackevents.MemberJoinedChannelEvent) {
	if !b.isWatched(ev.Channel) {
		return
	}
	log.Printf("member-joined user=%s channel=%s", ev.User, ev.Channel)

	intro := "Welcome! I'm BlockerBot. I read this channel's release chatter and tell you which tickets are blocking the release.\n\n" +
		"• `/blockers` for today's release blockers\n" +
		"• `/release-status 2026-01-31` for everything found on a given day\n" +
		"• `/blockerbot-help` for all commands"

	_, _, err := b.api.PostMessage(ev.Channel,
		slack.MsgOptionText(intro, false),
		slack.MsgOptionPostEphemeral(ev.User),
	)
	if err != nil {
		log.Printf("member-joined intro error user=%s channel=%s: %v", ev.User, ev.Channel, err)
	}
}

// handleDetect runs the pipeline and replies with the issues of the given
// severities, or all of them when none are given.
func (b *Bot) handleDetect(cmd slack.SlashCommand, severities ...domain.Severity) {
	channel, date, err := parseCommandArgs(cmd.Text, cmd.ChannelID, b.cfg.Location, b.now())
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("%v\nUsage: %s [#channel] [YYYY-MM-DD]", err, cmd.Command))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	start := time.Now()
	issues, detectErr := b.detector.DetectIssues(ctx, channel, date)
	b.recordRun(ctx, channel, date, cmd.UserID, issues, detectErr, time.Since(start))
	if detectErr != nil {
		log.Printf("%s error user=%s channel=%s: %v", cmd.Command, cmd.UserID, channel, detectErr)
		b.postEphemeral(cmd, detectErr.Error())
		return
	}

	shown := filterSeverities(issues, severities)
	msg := report.RenderSlack(channel, date, shown)
	if len(severities) == 0 {
		content := report.RenderMarkdown(channel, date, issues)
		if path, err := report.WriteReportFile(content, b.cfg.ReportOutputDir, date, channelFileName(channel)); err != nil {
			log.Printf("release-status report write error channel=%s: %v", channel, err)
		} else {
			log.Printf("release-status report written path=%s", path)
		}
	}
	b.postEphemeral(cmd, msg)
	log.Printf("%s done user=%s channel=%s issues=%d shown=%d", cmd.Command, cmd.UserID, channel, len(issues), len(shown))
}

func (b *Bot) handleHistory(cmd slack.SlashCommand) {
	if b.db == nil {
		b.postEphemeral(cmd, "Run history is not available.")
		return
	}
	channel := strings.TrimSpace(cmd.Text)
	if channel == "" {
		channel = cmd.ChannelID
	}
	channelID := channel
	if b.client != nil {
		if id, err := b.client.ResolveConversation(context.Background(), channel); err == nil {
			channelID = id
		} else {
			log.Printf("blocker-history resolve channel=%s error (non-fatal): %v", channel, err)
		}
	}

	runs, err := sqlite.GetRecentRuns(b.db, channelID, historyLimit)
	if err != nil {
		log.Printf("blocker-history query error channel=%s: %v", channelID, err)
		b.postEphemeral(cmd, fmt.Sprintf("Error loading history: %v", err))
		return
	}
	b.postEphemeral(cmd, formatHistory(channel, runs))
}

func (b *Bot) handleHelp(cmd slack.SlashCommand) {
	help := "*BlockerBot commands*\n" +
		"• `/blockers [#channel] [YYYY-MM-DD]` active and resolved release blockers (defaults: this channel, today)\n" +
		"• `/critical [#channel] [YYYY-MM-DD]` critical but non-blocking issues\n" +
		"• `/release-status [#channel] [YYYY-MM-DD]` everything found, also saved as a markdown report\n" +
		"• `/blocker-history [#channel]` the last detection runs\n" +
		"• `/blockerbot-help` this message"
	b.postEphemeral(cmd, help)
}

func (b *Bot) recordRun(ctx context.Context, channel string, date time.Time, userID string, issues []domain.Issue, err error, took time.Duration) {
	if b.db == nil {
		return
	}
	channelID := ""
	if b.client != nil {
		if id, rerr := b.client.ResolveConversation(ctx, channel); rerr == nil {
			channelID = id
		}
	}
	run := domain.NewDetectionRun(channel, channelID, date, domain.SourceSlash, userID, issues, err, took)
	id, err := sqlite.InsertDetectionRun(b.db, run, issues)
	if err != nil {
		log.Printf("record run channel=%s error (non-fatal): %v", channel, err)
		return
	}
	log.Printf("record run id=%d uuid=%s channel=%s source=%s", id, run.RunUUID, channel, run.Source)
}

func (b *Bot) isWatched(channelID string) bool {
	if len(b.cfg.WatchChannels) == 0 {
		return true
	}
	for _, ch := range b.cfg.WatchChannels {
		if ch == channelID {
			return true
		}
	}
	return false
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	postEphemeralTo(b.api, cmd.ChannelID, cmd.UserID, text)
}

func postEphemeralTo(api *slack.Client, channelID, userID, text string) {
	_, err := api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}

// parseCommandArgs reads an optional channel and an optional date in either
// order. Missing values default to the invoking channel and today.
func parseCommandArgs(text, defaultChannel string, loc *time.Location, now time.Time) (string, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	channel := defaultChannel
	date := now.In(loc)
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	for _, field := range strings.Fields(text) {
		if d, err := time.ParseInLocation("2006-01-02", field, loc); err == nil {
			date = d
			continue
		}
		switch strings.ToLower(field) {
		case "today":
			continue
		case "yesterday":
			date = date.AddDate(0, 0, -1)
			continue
		}
		if strings.HasPrefix(field, "#") || strings.HasPrefix(field, "<#") || isLikelyChannelID(field) {
			channel = normalizeChannelRef(field)
			continue
		}
		return "", time.Time{}, fmt.Errorf("unrecognized argument %q", field)
	}
	if channel == "" {
		return "", time.Time{}, fmt.Errorf("no channel given")
	}
	return channel, date, nil
}

func filterSeverities(issues []domain.Issue, severities []domain.Severity) []domain.Issue {
	if len(severities) == 0 {
		return issues
	}
	want := make(map[domain.Severity]bool, len(severities))
	for _, s := range severities {
		want[s] = true
	}
	var out []domain.Issue
	for _, issue := range issues {
		if want[issue.Severity] {
			out = append(out, issue)
		}
	}
	return out
}

func formatHistory(channel string, runs []domain.DetectionRun) string {
	if len(runs) == 0 {
		return fmt.Sprintf("No detection runs recorded for %s yet.", channel)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Last %d detection run(s) for %s*", len(runs), channel)
	for _, r := range runs {
		fmt.Fprintf(&b, "\n• %s (%s, %s): %d blocking, %d critical, %d resolved",
			r.RunDate, r.Source, r.CreatedAt.Format("Jan 2 15:04"),
			r.BlockingCount, r.CriticalCount, r.ResolvedCount)
		if r.Error != "" {
			fmt.Fprintf(&b, " _failed: %s_", r.Error)
		}
	}
	return b.String()
}

func channelFileName(channel string) string {
	return "blockers_" + strings.TrimPrefix(channel, "#")
}
