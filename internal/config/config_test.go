package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
bot:
  name: Helper
  domain: example.com
  history_window: 48h
  concurrency: 8
slack:
  bot_token: xoxb-test
  signing_secret: shh
helpdesk:
  backend: zendesk
  url: https://acme.zendesk.com
  email: bot@example.com
  api_token: zd-token
  open_statuses: [new, open, pending]
workflows:
  glob: /etc/talktome/*.yaml
api:
  host: 127.0.0.1
  port: 9090
  api_key: dashboard-key
redis:
  addr: localhost:6379
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validConfig() *Config {
	cfg := &Config{
		Bot:      BotConfig{Domain: "example.com"},
		Slack:    SlackConfig{BotToken: "xoxb", SigningSecret: "s"},
		Helpdesk: HelpdeskConfig{Backend: BackendSQLite, DBPath: "/tmp/t.db"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bot.Name != "Helper" {
		t.Errorf("bot.name = %q", cfg.Bot.Name)
	}
	if cfg.Bot.HistoryWindow != 48*time.Hour {
		t.Errorf("history_window = %v", cfg.Bot.HistoryWindow)
	}
	if cfg.Bot.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Bot.Concurrency)
	}
	if cfg.Helpdesk.BotAuthor != DefaultBotAuthor {
		t.Errorf("bot_author = %q, want default", cfg.Helpdesk.BotAuthor)
	}
	if len(cfg.Helpdesk.OpenStatuses) != 3 {
		t.Errorf("open_statuses = %v", cfg.Helpdesk.OpenStatuses)
	}
	if cfg.Workflows.Schedule != DefaultSchedule {
		t.Errorf("schedule = %q", cfg.Workflows.Schedule)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if cfg.Redis.TTL != DefaultDedupTTL {
		t.Errorf("redis.ttl = %v", cfg.Redis.TTL)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"bot": {"domain": "example.com"},
		"slack": {"bot_token": "xoxb", "app_token": "xapp"},
		"helpdesk": {"backend": "sqlite", "db_path": "/tmp/t.db"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Name != DefaultBotName {
		t.Errorf("bot.name = %q", cfg.Bot.Name)
	}
	if cfg.Bot.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("history_window = %v", cfg.Bot.HistoryWindow)
	}
	if cfg.Redis.TTL != 0 {
		t.Errorf("redis.ttl = %v, want 0 without addr", cfg.Redis.TTL)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.yaml", "bot: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "bot:\n  history_window: soon\n"))
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"domain", func(c *Config) { c.Bot.Domain = "" }, "bot.domain"},
		{"bot token", func(c *Config) { c.Slack.BotToken = "" }, "slack.bot_token"},
		{"ingress", func(c *Config) { c.Slack.SigningSecret = "" }, "slack.app_token"},
		{"backend", func(c *Config) { c.Helpdesk.Backend = "jira" }, `"jira"`},
		{"db path", func(c *Config) { c.Helpdesk.DBPath = "" }, "helpdesk.db_path"},
		{"zendesk url", func(c *Config) { c.Helpdesk.Backend = BackendZendesk }, "helpdesk.url"},
		{"window", func(c *Config) { c.Bot.HistoryWindow = -time.Hour }, "history_window"},
		{"concurrency", func(c *Config) { c.Bot.Concurrency = -1 }, "concurrency"},
		{"port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	err := (&Config{Helpdesk: HelpdeskConfig{Backend: BackendSQLite}}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"bot.domain", "slack.bot_token", "helpdesk.db_path", "workflows.glob"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %s: %v", want, err)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TALKTOME_DOMAIN", "corp.example")
	t.Setenv("TALKTOME_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("TALKTOME_SLACK_APP_TOKEN", "xapp-env")
	t.Setenv("TALKTOME_HELPDESK_BACKEND", "sqlite")
	t.Setenv("TALKTOME_DB_PATH", "/var/lib/talktome.db")
	t.Setenv("TALKTOME_OPEN_STATUSES", "new, open ,")
	t.Setenv("TALKTOME_HISTORY_WINDOW", "12h")
	t.Setenv("TALKTOME_API_PORT", "9191")
	t.Setenv("TALKTOME_REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Bot.Domain != "corp.example" {
		t.Errorf("domain = %q", cfg.Bot.Domain)
	}
	if cfg.Bot.HistoryWindow != 12*time.Hour {
		t.Errorf("history_window = %v", cfg.Bot.HistoryWindow)
	}
	if got := cfg.Helpdesk.OpenStatuses; len(got) != 2 || got[1] != "open" {
		t.Errorf("open_statuses = %v", got)
	}
	if cfg.API.Port != 9191 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if cfg.Redis.TTL != DefaultDedupTTL {
		t.Errorf("redis.ttl = %v", cfg.Redis.TTL)
	}
	if cfg.Workflows.Glob != DefaultGlob {
		t.Errorf("glob = %q", cfg.Workflows.Glob)
	}
}

func TestLoadFromEnv_BadDuration(t *testing.T) {
	t.Setenv("TALKTOME_HISTORY_WINDOW", "a while")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
