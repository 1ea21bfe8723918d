package app

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"blockerbot/internal/analyzer"
	"blockerbot/internal/classifier"
	"blockerbot/internal/config"
	"blockerbot/internal/dedup"
	"blockerbot/internal/httpx"
	"blockerbot/internal/integrations/llm"
	slackbot "blockerbot/internal/integrations/slack"
	"blockerbot/internal/patterns"
	"blockerbot/internal/pipeline"
	"blockerbot/internal/storage/sqlite"

	"github.com/slack-go/slack"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func Main() {
	// stdout belongs to the MCP transport and the detect report.
	log.SetOutput(os.Stderr)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type services struct {
	cfg      config.Config
	db       *sql.DB
	api      *slack.Client
	client   *slackbot.Client
	pipeline *pipeline.Pipeline
}

func loadConfig() config.Config {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. LLMProvider=%s LLMModel=%s LLMConfidenceThreshold=%.2f WatchChannels=%d ReleaseManagers=%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.LLMConfidence,
		len(cfg.WatchChannels),
		len(cfg.ReleaseManagers),
		cfg.Timezone,
		appliedHTTPTimeout,
	)
	return cfg
}

func openDB(cfg config.Config) *sql.DB {
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	return db
}

func setup(longRunning bool) *services {
	cfg := loadConfig()
	db := openDB(cfg)

	if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
		log.Printf("Report output dir %s error (non-fatal): %v", cfg.ReportOutputDir, err)
	}
	log.Printf("Report output dir: %s", cfg.ReportOutputDir)

	botToken := cfg.SlackBotToken
	if botToken == "" {
		botToken = cfg.SlackUserToken
	}
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)
	var search *slack.Client
	if cfg.SlackUserToken != "" {
		search = slack.New(cfg.SlackUserToken)
	}
	client := slackbot.NewClient(api, search, slackbot.ClientOptions{
		Timeout: time.Duration(cfg.SlackTimeoutSeconds) * time.Second,
	})

	return &services{
		cfg:      cfg,
		db:       db,
		api:      api,
		client:   client,
		pipeline: buildPipeline(cfg, client, longRunning),
	}
}

// buildPipeline wires the detection pipeline. Long-running processes keep the
// semantic classifier, which re-probes the model on its own; one-shot runs
// pick a classifier once.
func buildPipeline(cfg config.Config, client *slackbot.Client, longRunning bool) *pipeline.Pipeline {
	opts := patterns.Options{
		GatekeeperHandles: cfg.GatekeeperHandles,
		TicketBaseURL:     cfg.TicketBaseURL,
	}
	if cfg.KeywordsPath != "" {
		g, err := patterns.LoadGlossary(cfg.KeywordsPath)
		if err != nil {
			log.Printf("keywords glossary path=%s error (non-fatal): %v", cfg.KeywordsPath, err)
		} else {
			opts = g.Apply(opts)
			log.Printf("keywords glossary loaded path=%s blocking=%d negative=%d", cfg.KeywordsPath, len(g.Blocking), len(g.Negative))
		}
	}
	lib := patterns.New(opts)

	fallback := classifier.NewPatternClassifier(lib)
	var clf classifier.Classifier = fallback
	if gen := llm.NewGenerator(cfg); gen != nil {
		semantic := classifier.NewSemanticClassifier(gen, fallback, time.Duration(cfg.LLMTimeoutSeconds)*time.Second)
		if longRunning {
			clf = semantic
		} else {
			clf = classifier.Select(context.Background(), semantic, fallback)
		}
		log.Printf("llm provider=%s model=%s", gen.Name(), cfg.LLMModel)
	} else {
		log.Println("llm disabled, using pattern classification only")
	}

	return &pipeline.Pipeline{
		Messages: client,
		Patterns: lib,
		Analyzer: analyzer.New(lib, analyzer.Options{
			Classifier:          clf,
			ConfidenceThreshold: cfg.LLMConfidence,
			Concurrency:         cfg.LLMConcurrency,
			Permalinks:          client,
		}),
		Dedup:             dedup.New(),
		ThreadConcurrency: cfg.ThreadFetchConcurrency,
	}
}

