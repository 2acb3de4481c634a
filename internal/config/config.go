package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/retry"
)

const (
	configPathEnv     = "RSSBOUNCER_CONFIG"
	logLevelEnv       = "LOG_LEVEL"
	openAIModelEnv    = "OPENAI_MODEL"
	stateDriverEnv    = "STATE_DRIVER"
	stateDSNEnv       = "STATE_DSN"
	pushgatewayEnv    = "PUSHGATEWAY_URL"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"

	daysPerYear = 365
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Feeds         []string           `yaml:"feeds"`
	LLMOnlyFeeds  []string           `yaml:"llm_only_feeds"`
	Filters       FiltersConfig      `yaml:"filters"`
	Processing    ProcessingConfig   `yaml:"processing"`
	OpenAI        OpenAIConfig       `yaml:"openai"`
	Raindrop      RaindropConfig     `yaml:"raindrop"`
	State         StateConfig        `yaml:"state"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	HTTP          HTTPConfig         `yaml:"http"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects the console level and an optional JSON log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// FiltersConfig carries every classification input.
type FiltersConfig struct {
	MaxArticleAgeYears float64           `yaml:"max_article_age_years"`
	Personas           []PersonaConfig   `yaml:"personas"`
	SkipCriteria       []string          `yaml:"skip_criteria"`
	CollectionRules    map[string]string `yaml:"collection_rules"`
	PriorityTopics     []string          `yaml:"priority_topics"`
}

// PersonaConfig describes one reader persona.
type PersonaConfig struct {
	Name      string   `yaml:"name"`
	Interests []string `yaml:"interests"`
}

// ProcessingConfig tunes batching, parallelism and the run deadline.
type ProcessingConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	MaxSummaryChars int           `yaml:"max_summary_chars"`
	FeedWorkers     int           `yaml:"feed_workers"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig is the bounded backoff applied to model and bookmark calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// OpenAIConfig defines how to contact the chat completions API.
type OpenAIConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RaindropConfig configures the bookmarking service.
type RaindropConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Token       string            `yaml:"token"`
	Collections CollectionsConfig `yaml:"collections"`
	SaveSkipped bool              `yaml:"save_skipped"`
	Timeout     time.Duration     `yaml:"timeout"`
}

// CollectionsConfig maps each verdict to a Raindrop collection id.
type CollectionsConfig struct {
	Read  int64 `yaml:"read"`
	Maybe int64 `yaml:"maybe"`
	Skip  int64 `yaml:"skip"`
}

// StateConfig selects the processed-marker backend.
type StateConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines how often serve mode runs the pipeline.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig configures the trigger API in serve mode.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig configures where one-shot runs push their metrics.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Load reads YAML configuration over the defaults and applies environment
// overrides. An empty path falls back to $RSSBOUNCER_CONFIG.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(openAIModelEnv); v != "" {
		c.OpenAI.Model = v
	}

	if v := os.Getenv(stateDriverEnv); v != "" {
		c.State.Driver = v
	}
	if v := os.Getenv(stateDSNEnv); v != "" {
		c.State.DSN = v
	}

	if v := os.Getenv(pushgatewayEnv); v != "" {
		c.Metrics.PushgatewayURL = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

// Validate checks the settings a run cannot start without. Credentials must
// already be resolved.
func (c Config) Validate() error {
	var errs []error

	if len(c.Feeds)+len(c.LLMOnlyFeeds) == 0 {
		errs = append(errs, errors.New("at least one feed URL must be configured"))
	}
	for _, source := range c.FeedSources() {
		if err := source.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Raindrop.Token == "" {
		errs = append(errs, errors.New("raindrop token is required"))
	}
	if c.Raindrop.Collections.Read == 0 {
		errs = append(errs, errors.New("raindrop read collection id is required"))
	}
	if c.Raindrop.Collections.Maybe == 0 {
		errs = append(errs, errors.New("raindrop maybe collection id is required"))
	}
	if c.Raindrop.SaveSkipped && c.Raindrop.Collections.Skip == 0 {
		errs = append(errs, errors.New("raindrop skip collection id is required when save_skipped is true"))
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai api key is required"))
	}
	if c.Processing.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("processing.batch_size must be positive, got %d", c.Processing.BatchSize))
	}
	if retryCfg := c.Processing.Retry; retryCfg.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("processing.retry.max_attempts must be at least 1, got %d", retryCfg.MaxAttempts))
	}
	if retryCfg := c.Processing.Retry; retryCfg.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("processing.retry.multiplier must be at least 1, got %v", retryCfg.Multiplier))
	}
	if c.Filters.MaxArticleAgeYears <= 0 {
		errs = append(errs, fmt.Errorf("filters.max_article_age_years must be positive, got %v", c.Filters.MaxArticleAgeYears))
	}

	switch c.State.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("state.driver must be sqlite or postgres, got %q", c.State.Driver))
	}

	return errors.Join(errs...)
}

// FeedSources lists configured feeds with their mode. A URL present in both
// lists is treated as llm-only.
func (c Config) FeedSources() []domain.FeedSource {
	llmOnly := make(map[string]struct{}, len(c.LLMOnlyFeeds))
	for _, raw := range c.LLMOnlyFeeds {
		llmOnly[strings.TrimSpace(raw)] = struct{}{}
	}

	seen := map[string]struct{}{}
	sources := make([]domain.FeedSource, 0, len(c.Feeds)+len(c.LLMOnlyFeeds))
	add := func(raw string, mode domain.FeedMode) {
		u := strings.TrimSpace(raw)
		if _, ok := seen[u]; ok || u == "" {
			return
		}
		seen[u] = struct{}{}
		sources = append(sources, domain.FeedSource{URL: u, Mode: mode})
	}

	for _, raw := range c.Feeds {
		if _, ok := llmOnly[strings.TrimSpace(raw)]; ok {
			add(raw, domain.FeedModeLLMOnly)
			continue
		}
		add(raw, domain.FeedModeNormal)
	}
	for _, raw := range c.LLMOnlyFeeds {
		add(raw, domain.FeedModeLLMOnly)
	}

	return sources
}

// PersonaList converts persona settings into domain values.
func (c FiltersConfig) PersonaList() []domain.Persona {
	personas := make([]domain.Persona, 0, len(c.Personas))
	for _, p := range c.Personas {
		personas = append(personas, domain.Persona{
			Name:      p.Name,
			Interests: append([]string(nil), p.Interests...),
		})
	}
	return personas
}

// MaxAge converts the fractional year setting into a duration of 365-day years.
func (c FiltersConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxArticleAgeYears * daysPerYear * float64(24*time.Hour))
}

// Policy converts retry settings into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

func defaultConfig() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Filters: FiltersConfig{
			MaxArticleAgeYears: 5,
			CollectionRules: map[string]string{
				string(domain.CollectionRead):  "Articles that clearly match at least one persona's interests and bring something new.",
				string(domain.CollectionMaybe): "Articles that are partially relevant or whose value is uncertain.",
				string(domain.CollectionSkip):  "Articles matching a skip criterion or unrelated to every persona.",
			},
		},
		Processing: ProcessingConfig{
			BatchSize:       5,
			MaxSummaryChars: 1000,
			FeedWorkers:     1,
			RunTimeout:      10 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts: policy.MaxAttempts,
				BaseDelay:   policy.BaseDelay,
				Multiplier:  policy.Multiplier,
				MaxDelay:    policy.MaxDelay,
				Jitter:      policy.Jitter,
			},
		},
		OpenAI: OpenAIConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a content analyst helping filter articles for specific readers.",
			Temperature:  0.2,
			Timeout:      60 * time.Second,
		},
		Raindrop: RaindropConfig{
			Endpoint:    "https://api.raindrop.io/rest/v1",
			SaveSkipped: true,
			Timeout:     15 * time.Second,
		},
		State:     StateConfig{Driver: "sqlite", DSN: "rssbouncer.db"},
		Scheduler: SchedulerConfig{Interval: time.Hour},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Metrics:   MetricsConfig{Job: "rssbouncer"},
	}
}
