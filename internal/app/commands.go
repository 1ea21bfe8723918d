package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"blockerbot/internal/digest"
	"blockerbot/internal/domain"
	slackbot "blockerbot/internal/integrations/slack"
	"blockerbot/internal/nudge"
	"blockerbot/internal/report"
	"blockerbot/internal/storage/sqlite"
	"blockerbot/internal/tools"

	"github.com/fatih/color"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const serverInstructions = `BlockerBot reads a release channel and reports which tickets block the release.
Use detect_issues for a full day's report, find_issues to narrow to one severity,
thread_test_status to read the test-run outcome of one thread, and validate_pipeline
to check the server configuration. Dates are YYYY-MM-DD and default to today.`

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "blockerbot",
		Short: "BlockerBot - release blocker detection for Slack release channels",
		Long: `BlockerBot reads a release channel's messages and threads and reports which
tickets block the release, which are critical, and which blockers were resolved.

Without a subcommand it runs the Slack bot.

Example:
  blockerbot detect #release 2026-02-20`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				os.Setenv("CONFIG_PATH", cfgFile)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			runBot()
		},
	}
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yaml or $CONFIG_PATH)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "bot",
			Short: "Run the Slack bot (Socket Mode) and the digest scheduler",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				runBot()
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the detection tools over MCP stdio",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe()
			},
		},
		&cobra.Command{
			Use:   "detect <channel> [YYYY-MM-DD]",
			Short: "Print the markdown report for a channel and day",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDetect(cmd.OutOrStdout(), args)
			},
		},
		newHistoryCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "blockerbot %s\n", Version)
			},
		},
	)
	return rootCmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [channel]",
		Short: "List recent detection runs from the audit log",
		Long: `List recent detection runs, newest first.

Examples:
  blockerbot history              # last 10 runs across all channels
  blockerbot history #release -n 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			channel := ""
			if len(args) == 1 {
				channel = args[0]
			}

			cfg := loadConfig()
			db := openDB(cfg)
			defer db.Close()

			runs, err := sqlite.GetRecentRuns(db, channel, limit)
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
	return cmd
}

func printHistory(w io.Writer, runs []domain.DetectionRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No detection runs recorded yet.")
		return
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, r := range runs {
		status := green("clear")
		switch {
		case r.Error != "":
			status = yellow("failed")
		case r.BlockingCount > 0:
			status = red("blocked")
		}
		short := r.RunUUID
		if len(short) > 8 {
			short = short[:8]
		}
		fmt.Fprintf(w, "%s  %-20s %-7s %s  %d blocking, %d critical, %d resolved  %s\n",
			r.RunDate, r.Channel, r.Source, status,
			r.BlockingCount, r.CriticalCount, r.ResolvedCount,
			gray(fmt.Sprintf("%s %dms", short, r.DurationMS)))
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", r.Error)
		}
	}
}

func runBot() {
	svc := setup(true)
	defer svc.db.Close()

	if v := svc.pipeline.ValidatePipeline(); !v.IsValid {
		log.Fatalf("Pipeline invalid: %s", strings.Join(v.Errors, "; "))
	}

	notifier := nudge.New(svc.api, svc.cfg.ReleaseManagers)
	digest.New(svc.cfg, svc.pipeline, svc.api, svc.db, notifier).Start()

	log.Println("Starting BlockerBot...")
	if err := slackbot.NewBot(svc.cfg, svc.client, svc.pipeline, svc.db).Start(); err != nil {
		log.Fatalf("Slack bot error: %v", err)
	}
}

func runServe() error {
	svc := setup(true)
	defer svc.db.Close()

	s := server.NewMCPServer(
		"blockerbot",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	tools.Register(s, tools.Deps{
		Detector: svc.pipeline,
		DB:       svc.db,
		Location: svc.cfg.Location,
	})

	log.Println("Serving BlockerBot tools over MCP stdio")
	return server.ServeStdio(s)
}

func runDetect(out io.Writer, args []string) error {
	svc := setup(false)
	defer svc.db.Close()

	loc := svc.cfg.Location
	channel := args[0]
	now := time.Now().In(loc)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if len(args) == 2 {
		d, err := time.ParseInLocation("2006-01-02", args[1], loc)
		if err != nil {
			return fmt.Errorf("invalid date %q: use YYYY-MM-DD", args[1])
		}
		date = d
	}

	start := time.Now()
	issues, err := svc.pipeline.DetectIssues(context.Background(), channel, date)
	run := domain.NewDetectionRun(channel, "", date, domain.SourceCLI, os.Getenv("USER"), issues, err, time.Since(start))
	if _, rerr := sqlite.InsertDetectionRun(svc.db, run, issues); rerr != nil {
		log.Printf("record run channel=%s error (non-fatal): %v", channel, rerr)
	}
	if err != nil {
		return err
	}

	content := report.RenderMarkdown(channel, date, issues)
	fmt.Fprint(out, content)
	if path, err := report.WriteReportFile(content, svc.cfg.ReportOutputDir, date, "blockers_"+strings.TrimPrefix(channel, "#")); err != nil {
		log.Printf("report write error (non-fatal): %v", err)
	} else {
		log.Printf("Report written to %s run=%s", path, run.RunUUID)
	}
	return nil
}
