package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level talktome configuration.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Slack     SlackConfig     `yaml:"slack"`
	Helpdesk  HelpdeskConfig  `yaml:"helpdesk"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	API       APIConfig       `yaml:"api"`
	Redis     RedisConfig     `yaml:"redis"`
}

// BotConfig holds settings for the bot's chat identity.
type BotConfig struct {
	Name          string        `yaml:"name"`           // display name the bot posts under
	Domain        string        `yaml:"domain"`         // users are looked up as username@domain
	HistoryWindow time.Duration `yaml:"history_window"` // how far back to look for our last message
	Concurrency   int           `yaml:"concurrency"`    // tickets engaged in parallel per sweep
}

// SlackConfig holds Slack app credentials.
type SlackConfig struct {
	BotToken          string `yaml:"bot_token"`
	AppToken          string `yaml:"app_token,omitempty"` // enables Socket Mode
	SigningSecret     string `yaml:"signing_secret,omitempty"`
	VerificationToken string `yaml:"verification_token,omitempty"`
	APIURL            string `yaml:"api_url,omitempty"`
}

// Helpdesk backends.
const (
	BackendZendesk = "zendesk"
	BackendSQLite  = "sqlite"
)

// HelpdeskConfig selects and configures the ticket backend.
type HelpdeskConfig struct {
	Backend      string   `yaml:"backend"`
	URL          string   `yaml:"url,omitempty"`
	Email        string   `yaml:"email,omitempty"`
	APIToken     string   `yaml:"api_token,omitempty"`
	BotAuthor    string   `yaml:"bot_author"`
	OpenStatuses []string `yaml:"open_statuses,omitempty"`
	DBPath       string   `yaml:"db_path,omitempty"`
	Search       string   `yaml:"search,omitempty"` // used by workflows that don't set their own
}

// WorkflowsConfig locates the workflow files.
type WorkflowsConfig struct {
	Glob     string `yaml:"glob"`
	Schedule string `yaml:"schedule"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Key  string `yaml:"api_key"`
}

// RedisConfig enables action deduplication when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// Defaults.
const (
	DefaultBotName       = "Talktome"
	DefaultBotAuthor     = "talktome"
	DefaultHistoryWindow = 30 * 24 * time.Hour
	DefaultSchedule      = "@every 1m"
	DefaultGlob          = "configs/*.yaml"
	DefaultDedupTTL      = 24 * time.Hour
)

// Load reads configuration from a YAML (or JSON) file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with TALKTOME_ prefix.
// The result is not validated so callers can report problems alongside
// their own flags.
func LoadFromEnv() (*Config, error) {
	window, err := getenvDuration("TALKTOME_HISTORY_WINDOW", 0)
	if err != nil {
		return nil, err
	}
	ttl, err := getenvDuration("TALKTOME_REDIS_TTL", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Bot: BotConfig{
			Name:          os.Getenv("TALKTOME_BOT_NAME"),
			Domain:        os.Getenv("TALKTOME_DOMAIN"),
			HistoryWindow: window,
			Concurrency:   getenvInt("TALKTOME_CONCURRENCY", 0),
		},
		Slack: SlackConfig{
			BotToken:          os.Getenv("TALKTOME_SLACK_BOT_TOKEN"),
			AppToken:          os.Getenv("TALKTOME_SLACK_APP_TOKEN"),
			SigningSecret:     os.Getenv("TALKTOME_SLACK_SIGNING_SECRET"),
			VerificationToken: os.Getenv("TALKTOME_SLACK_VERIFICATION_TOKEN"),
			APIURL:            os.Getenv("TALKTOME_SLACK_API_URL"),
		},
		Helpdesk: HelpdeskConfig{
			Backend:      os.Getenv("TALKTOME_HELPDESK_BACKEND"),
			URL:          os.Getenv("TALKTOME_ZENDESK_URL"),
			Email:        os.Getenv("TALKTOME_ZENDESK_EMAIL"),
			APIToken:     os.Getenv("TALKTOME_ZENDESK_API_TOKEN"),
			BotAuthor:    os.Getenv("TALKTOME_BOT_AUTHOR"),
			OpenStatuses: splitList(os.Getenv("TALKTOME_OPEN_STATUSES")),
			DBPath:       os.Getenv("TALKTOME_DB_PATH"),
			Search:       os.Getenv("TALKTOME_SEARCH"),
		},
		Workflows: WorkflowsConfig{
			Glob:     os.Getenv("TALKTOME_WORKFLOWS"),
			Schedule: os.Getenv("TALKTOME_SCHEDULE"),
		},
		API: APIConfig{
			Host: getenv("TALKTOME_API_HOST", "0.0.0.0"),
			Port: getenvInt("TALKTOME_API_PORT", 8080),
			Key:  os.Getenv("TALKTOME_API_KEY"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("TALKTOME_REDIS_ADDR"),
			Password: os.Getenv("TALKTOME_REDIS_PASSWORD"),
			DB:       getenvInt("TALKTOME_REDIS_DB", 0),
			TTL:      ttl,
		},
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.Name == "" {
		c.Bot.Name = DefaultBotName
	}
	if c.Bot.HistoryWindow == 0 {
		c.Bot.HistoryWindow = DefaultHistoryWindow
	}
	if c.Helpdesk.Backend == "" {
		c.Helpdesk.Backend = BackendZendesk
	}
	if c.Helpdesk.BotAuthor == "" {
		c.Helpdesk.BotAuthor = DefaultBotAuthor
	}
	if c.Workflows.Glob == "" {
		c.Workflows.Glob = DefaultGlob
	}
	if c.Workflows.Schedule == "" {
		c.Workflows.Schedule = DefaultSchedule
	}
	if c.Redis.Addr != "" && c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultDedupTTL
	}
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.Domain == "" {
		errs = append(errs, "bot.domain is required")
	}
	if c.Bot.HistoryWindow < 0 {
		errs = append(errs, "bot.history_window must not be negative")
	}
	if c.Bot.Concurrency < 0 {
		errs = append(errs, "bot.concurrency must not be negative")
	}

	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required")
	}
	if c.Slack.AppToken == "" && c.Slack.SigningSecret == "" && c.Slack.VerificationToken == "" {
		errs = append(errs, "one of slack.app_token, slack.signing_secret or slack.verification_token is required")
	}

	switch c.Helpdesk.Backend {
	case BackendZendesk:
		if c.Helpdesk.URL == "" {
			errs = append(errs, "helpdesk.url is required for zendesk")
		}
		if c.Helpdesk.Email == "" {
			errs = append(errs, "helpdesk.email is required for zendesk")
		}
		if c.Helpdesk.APIToken == "" {
			errs = append(errs, "helpdesk.api_token is required for zendesk")
		}
	case BackendSQLite:
		if c.Helpdesk.DBPath == "" {
			errs = append(errs, "helpdesk.db_path is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("helpdesk.backend %q is not one of zendesk, sqlite", c.Helpdesk.Backend))
	}

	if c.Workflows.Glob == "" {
		errs = append(errs, "workflows.glob is required")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
