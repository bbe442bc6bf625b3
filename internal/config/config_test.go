package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: sb
  password: secret
  name: assistant

scheduler:
  timezone: Europe/London
  run_timeout: 5m
  agents:
    briefing:
      schedule: "30 6 * * 1-5"
    anomaly:
      enabled: false

reasoning:
  api_key: key-123
  model: gemini-2.5-pro

vector:
  enabled: true
  url: http://localhost:6333

integrations:
  microsoft:
    client_id: cid
    client_secret: csecret
    refresh_token: rt
  harvest:
    account_id: "42"
    token: htok

notify:
  min_priority: urgent
  slack:
    bot_token: xoxb-1
    channel_id: C01

api:
  port: 9090

log:
  level: debug
  format: console
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Scheduler.RunTimeout != 5*time.Minute {
		t.Errorf("RunTimeout = %v, want 5m", cfg.Scheduler.RunTimeout)
	}
	if cfg.Reasoning.Provider != "genai" {
		t.Errorf("Reasoning.Provider = %q, want genai (inferred from api_key)", cfg.Reasoning.Provider)
	}
	if cfg.Reasoning.Model != "gemini-2.5-pro" {
		t.Errorf("Reasoning.Model = %q, want %q", cfg.Reasoning.Model, "gemini-2.5-pro")
	}
	if !cfg.Integrations.Microsoft.Configured() {
		t.Error("Microsoft should be configured")
	}
	if !cfg.Integrations.Harvest.Configured() {
		t.Error("Harvest should be configured")
	}
	if cfg.Notify.Slack.ChannelID != "C01" {
		t.Errorf("Notify.Slack.ChannelID = %q, want C01", cfg.Notify.Slack.ChannelID)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Vector.KnowledgeCollection != "fixed_knowledge" {
		t.Errorf("KnowledgeCollection = %q, want fixed_knowledge", cfg.Vector.KnowledgeCollection)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "switchboard.db" {
		t.Errorf("Database = %+v, want sqlite switchboard.db", cfg.Database)
	}
	if !cfg.SchedulerEnabled() {
		t.Error("scheduler should be enabled by default")
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.RunTimeout != 10*time.Minute {
		t.Errorf("RunTimeout = %v, want 10m", cfg.Scheduler.RunTimeout)
	}
	if cfg.Reasoning.Provider != "none" {
		t.Errorf("Provider = %q, want none", cfg.Reasoning.Provider)
	}
	if cfg.Notify.MinPriority != "high" {
		t.Errorf("MinPriority = %q, want high", cfg.Notify.MinPriority)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestSchedule_OverridesAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Schedule("briefing"); got != "30 6 * * 1-5" {
		t.Errorf("Schedule(briefing) = %q, want override", got)
	}
	if got := cfg.Schedule("anomaly"); got != "" {
		t.Errorf("Schedule(anomaly) = %q, want empty for disabled agent", got)
	}
	if got := cfg.Schedule("memory"); got != "0 * * * *" {
		t.Errorf("Schedule(memory) = %q, want default", got)
	}
	if got := cfg.Schedule("chat"); got != "" {
		t.Errorf("Schedule(chat) = %q, want empty", got)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	yamlData := `
database:
  driver: postgres
scheduler:
  timezone: Mars/Olympus
  agents:
    briefing:
      schedule: "not a cron"
reasoning:
  provider: genai
vector:
  enabled: true
log:
  format: xml
`
	_, err := Parse([]byte(yamlData))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"database.driver",
		"scheduler.timezone",
		"scheduler.agents.briefing.schedule",
		"reasoning.api_key is required",
		"vector.url is required",
		"log.format",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err.Error(), want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("database: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ExpandsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SB_TEST_HARVEST_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "switchboard.yaml")
	data := "integrations:\n  harvest:\n    account_id: \"1\"\n    token: ${SB_TEST_HARVEST_TOKEN}\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SB_TEST_HARVEST_TOKEN") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Integrations.Harvest.Token != "from-dotenv" {
		t.Errorf("Harvest.Token = %q, want %q", cfg.Integrations.Harvest.Token, "from-dotenv")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want config: read prefix", err.Error())
	}
}
