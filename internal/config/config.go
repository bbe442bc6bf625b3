// Package config provides YAML-based configuration loading for switchboard.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Default agent schedules, in 5-field cron syntax.
var DefaultSchedules = map[string]string{
	"briefing":    "0 7 * * *",
	"action_item": "0 */2 * * *",
	"memory":      "0 * * * *",
	"anomaly":     "0 */4 * * *",
}

// Config is the top-level switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Reasoning    ReasoningConfig    `yaml:"reasoning"`
	Vector       VectorConfig       `yaml:"vector"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Notify       NotifyConfig       `yaml:"notify"`
	API          APIConfig          `yaml:"api"`
	Log          LogConfig          `yaml:"log"`
}

// DatabaseConfig selects and addresses the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// SchedulerConfig controls the agent scheduler.
type SchedulerConfig struct {
	Enabled    *bool                  `yaml:"enabled"`
	Timezone   string                 `yaml:"timezone"`
	RunTimeout time.Duration          `yaml:"run_timeout"`
	Agents     map[string]AgentConfig `yaml:"agents"`
}

// AgentConfig overrides the schedule of a single agent.
type AgentConfig struct {
	Schedule string `yaml:"schedule"`
	Enabled  *bool  `yaml:"enabled"`
}

// ReasoningConfig configures the completion and embedding provider.
type ReasoningConfig struct {
	Provider       string `yaml:"provider"` // genai or none
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// VectorConfig configures the optional Qdrant index.
type VectorConfig struct {
	Enabled             bool   `yaml:"enabled"`
	URL                 string `yaml:"url"`
	APIKey              string `yaml:"api_key"`
	KnowledgeCollection string `yaml:"knowledge_collection"`
	MemoryCollection    string `yaml:"memory_collection"`
	Dims                uint64 `yaml:"dims"`
}

// IntegrationsConfig holds credentials for the read-only integrations.
type IntegrationsConfig struct {
	Microsoft MicrosoftConfig `yaml:"microsoft"`
	Harvest   HarvestConfig   `yaml:"harvest"`
}

// MicrosoftConfig holds Microsoft Graph OAuth settings.
type MicrosoftConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id"`
	RefreshToken string `yaml:"refresh_token"`
}

// Configured reports whether enough settings are present to call Graph.
func (m MicrosoftConfig) Configured() bool {
	return m.ClientID != "" && m.ClientSecret != "" && m.RefreshToken != ""
}

// HarvestConfig holds Harvest API credentials.
type HarvestConfig struct {
	AccountID string `yaml:"account_id"`
	Token     string `yaml:"token"`
}

// Configured reports whether Harvest credentials are present.
func (h HarvestConfig) Configured() bool {
	return h.AccountID != "" && h.Token != ""
}

// NotifyConfig configures outbound recommendation notifications.
type NotifyConfig struct {
	MinPriority string        `yaml:"min_priority"`
	Slack       ChannelConfig `yaml:"slack"`
	Discord     ChannelConfig `yaml:"discord"`
}

// ChannelConfig addresses one chat platform channel.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config is loaded first, and ${VAR} references in
// the YAML are expanded from the environment.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied, suitable for running
// with an on-disk sqlite database and no integrations.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	}

	if c.Scheduler.Enabled == nil {
		enabled := true
		c.Scheduler.Enabled = &enabled
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.RunTimeout == 0 {
		c.Scheduler.RunTimeout = 10 * time.Minute
	}
	if c.Scheduler.Agents == nil {
		c.Scheduler.Agents = make(map[string]AgentConfig)
	}

	if c.Reasoning.Provider == "" {
		if c.Reasoning.APIKey != "" {
			c.Reasoning.Provider = "genai"
		} else {
			c.Reasoning.Provider = "none"
		}
	}
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = "gemini-2.5-flash"
	}
	if c.Reasoning.EmbeddingModel == "" {
		c.Reasoning.EmbeddingModel = "gemini-embedding-001"
	}
	if c.Reasoning.MaxTokens == 0 {
		c.Reasoning.MaxTokens = 4096
	}

	if c.Vector.KnowledgeCollection == "" {
		c.Vector.KnowledgeCollection = "fixed_knowledge"
	}
	if c.Vector.MemoryCollection == "" {
		c.Vector.MemoryCollection = "memories"
	}
	if c.Vector.Dims == 0 {
		c.Vector.Dims = 768
	}

	if c.Notify.MinPriority == "" {
		c.Notify.MinPriority = "high"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// SchedulerEnabled reports whether timers should be armed.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// Schedule returns the effective cron expression for an agent: the config
// override when present, else the built-in default. An agent disabled in
// config gets an empty schedule and only runs on demand.
func (c *Config) Schedule(agent string) string {
	if ac, ok := c.Scheduler.Agents[agent]; ok {
		if ac.Enabled != nil && !*ac.Enabled {
			return ""
		}
		if ac.Schedule != "" {
			return ac.Schedule
		}
	}
	return DefaultSchedules[agent]
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.timezone %q is invalid", c.Scheduler.Timezone))
	}
	if c.Scheduler.RunTimeout < 0 {
		errs = append(errs, "scheduler.run_timeout must be positive")
	}
	names := make([]string, 0, len(c.Scheduler.Agents))
	for name := range c.Scheduler.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expr := c.Scheduler.Agents[name].Schedule
		if expr == "" || expr == "manual" {
			continue
		}
		if _, err := cronParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.agents.%s.schedule %q is invalid", name, expr))
		}
	}
	switch c.Reasoning.Provider {
	case "genai":
		if c.Reasoning.APIKey == "" {
			errs = append(errs, "reasoning.api_key is required for provider genai")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("reasoning.provider %q must be genai or none", c.Reasoning.Provider))
	}
	if c.Vector.Enabled && c.Vector.URL == "" {
		errs = append(errs, "vector.url is required when vector is enabled")
	}
	switch c.Notify.MinPriority {
	case "low", "normal", "high", "urgent":
	default:
		errs = append(errs, fmt.Sprintf("notify.min_priority %q is invalid", c.Notify.MinPriority))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
