package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

const (
	defaultOllamaBaseURL    = "http://localhost:11434"
	defaultOllamaModel      = "llama3.1"
	defaultAnthropicModel   = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultGatekeeperHandle = "@release-gatekeeper"
)

type Config struct {
	SlackBotToken       string `yaml:"slack_bot_token"`
	SlackAppToken       string `yaml:"slack_app_token"`
	SlackUserToken      string `yaml:"slack_user_token"`
	SlackTimeoutSeconds int    `yaml:"slack_timeout_seconds"`

	LLMProvider            string  `yaml:"llm_provider"`
	LLMModel               string  `yaml:"llm_model"`
	LLMBaseURL             string  `yaml:"llm_base_url"`
	LLMTimeoutSeconds      int     `yaml:"llm_timeout_seconds"`
	LLMConcurrency         int     `yaml:"llm_concurrency"`
	LLMConfidence          float64 `yaml:"llm_confidence_threshold"`
	LLMAvailabilityTTLSecs int     `yaml:"llm_availability_ttl_seconds"`
	AnthropicAPIKey        string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string  `yaml:"openai_api_key"`

	DBPath                     string `yaml:"db_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	ReportChannelID            string `yaml:"report_channel_id"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	WatchChannels          []string `yaml:"watch_channels"`
	DigestSchedule         string   `yaml:"digest_schedule"`
	ReleaseManagers        []string `yaml:"release_managers"`
	GatekeeperHandles      []string `yaml:"gatekeeper_handles"`
	TicketBaseURL          string   `yaml:"ticket_base_url"`
	KeywordsPath           string   `yaml:"keywords_path"`
	ThreadFetchConcurrency int      `yaml:"thread_fetch_concurrency"`
	Timezone               string   `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.SlackUserToken, "SLACK_USER_TOKEN")
	envOverrideInt(&cfg.SlackTimeoutSeconds, "SLACK_TIMEOUT_SECONDS")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMConcurrency, "LLM_CONCURRENCY")
	envOverrideFloat(&cfg.LLMConfidence, "LLM_CONFIDENCE_THRESHOLD")
	envOverrideInt(&cfg.LLMAvailabilityTTLSecs, "LLM_AVAILABILITY_TTL_SECONDS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverrideAllowEmpty(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.TicketBaseURL, "TICKET_BASE_URL")
	envOverride(&cfg.KeywordsPath, "KEYWORDS_PATH")
	envOverrideInt(&cfg.ThreadFetchConcurrency, "THREAD_FETCH_CONCURRENCY")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverrideList(&cfg.WatchChannels, "WATCH_CHANNELS")
	envOverrideList(&cfg.ReleaseManagers, "RELEASE_MANAGERS")
	envOverrideList(&cfg.GatekeeperHandles, "GATEKEEPER_HANDLES")

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderOllama
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}
	if cfg.LLMBaseURL == "" && cfg.LLMProvider == ProviderOllama {
		cfg.LLMBaseURL = defaultOllamaBaseURL
	}
	if cfg.SlackTimeoutSeconds == 0 {
		cfg.SlackTimeoutSeconds = 15
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 45
	}
	if cfg.LLMConcurrency == 0 {
		cfg.LLMConcurrency = 3
	}
	if cfg.LLMConfidence == 0 {
		cfg.LLMConfidence = 70
	}
	if cfg.LLMAvailabilityTTLSecs == 0 {
		cfg.LLMAvailabilityTTLSecs = 60
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./blockerbot.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if len(cfg.GatekeeperHandles) == 0 {
		cfg.GatekeeperHandles = []string{defaultGatekeeperHandle}
	}
	if cfg.ThreadFetchConcurrency == 0 {
		cfg.ThreadFetchConcurrency = 5
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if cfg.SlackBotToken == "" && cfg.SlackUserToken == "" {
		log.Fatalf("Required config 'slack_bot_token' or 'slack_user_token' is not set (via config.yaml or env var)")
	}

	switch cfg.LLMProvider {
	case ProviderOllama, ProviderNone:
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'ollama', 'anthropic', 'openai' or 'none', got '%s'", cfg.LLMProvider)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.DigestSchedule != "" {
		if _, err := ParseSchedule(cfg.DigestSchedule); err != nil {
			log.Fatalf("invalid digest_schedule '%s': %v", cfg.DigestSchedule, err)
		}
	}
	if cfg.LLMConfidence < 0 || cfg.LLMConfidence > 100 {
		log.Fatalf("invalid llm_confidence_threshold '%f': must be between 0 and 100", cfg.LLMConfidence)
	}
	if cfg.LLMConcurrency < 1 {
		log.Fatalf("invalid llm_concurrency '%d': must be >= 1", cfg.LLMConcurrency)
	}
	if cfg.ThreadFetchConcurrency < 1 {
		log.Fatalf("invalid thread_fetch_concurrency '%d': must be >= 1", cfg.ThreadFetchConcurrency)
	}
	if cfg.LLMTimeoutSeconds < 1 {
		log.Fatalf("invalid llm_timeout_seconds '%d': must be >= 1", cfg.LLMTimeoutSeconds)
	}
	if cfg.SlackTimeoutSeconds < 1 {
		log.Fatalf("invalid slack_timeout_seconds '%d': must be >= 1", cfg.SlackTimeoutSeconds)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}

	return cfg
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return defaultAnthropicModel
	case ProviderOpenAI:
		return defaultOpenAIModel
	case ProviderOllama:
		return defaultOllamaModel
	}
	return ""
}

// ParseSchedule parses a standard five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	*field = nil
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			*field = append(*field, item)
		}
	}
}

// SearchToken is the token used for search.messages, which Slack only
// allows with a user token.
func (c Config) SearchToken() string {
	if c.SlackUserToken != "" {
		return c.SlackUserToken
	}
	return c.SlackBotToken
}

func (c Config) BotToken() string {
	if c.SlackBotToken != "" {
		return c.SlackBotToken
	}
	return c.SlackUserToken
}

func (c Config) IsReleaseManager(userID string) bool {
	for _, id := range c.ReleaseManagers {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

func (c Config) LLMEnabled() bool {
	return c.LLMProvider != ProviderNone
}
