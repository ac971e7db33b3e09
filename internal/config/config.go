package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FetcherConfig carries the Ethical Fetcher's defaults (spec.md §4.1).
// Per-job overrides live in ScrapeJob.config and win when set.
type FetcherConfig struct {
	UserAgent     string `yaml:"userAgent"`
	MinDelayMs    int    `yaml:"minDelayMs"`
	MaxDelayMs    int    `yaml:"maxDelayMs"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	MaxRetries    int    `yaml:"maxRetries"`
	BackoffFactor float64 `yaml:"backoffFactor"`
}

type CrawlerConfig struct {
	MaxPagesDefault int `yaml:"maxPagesDefault"`
}

type RobotsConfig struct {
	Respect  bool `yaml:"respect"`
	TTLSec   int  `yaml:"ttlSeconds"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type ConfigCacheConfig struct {
	TTLSeconds int `yaml:"ttlSeconds"`
}

// WorkerConfig drives the single-job-at-a-time polling loop: at most
// one job runs across the whole system (spec.md §5), so there is no
// concurrency knob here, only the poll cadence and progress reporting.
type WorkerConfig struct {
	PollIntervalMs  int `yaml:"pollIntervalMs"`
	ProgressPollMs  int `yaml:"progressPollMs"`
	HeartbeatEveryN int `yaml:"heartbeatEveryN"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
	ScrapeDays  int `yaml:"scrapeDays"`
}

type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

// LLMConfig configures the external AI-enrichment collaborator (spec.md
// §1 excludes the real implementation; only wiring for a future client
// lives here).
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// ControlAPIConfig configures the shared-secret auth and CORS allow-list
// for the external HTTP control plane (spec.md §6).
type ControlAPIConfig struct {
	SharedSecret string   `yaml:"sharedSecret"`
	CORSAllow    []string `yaml:"corsAllow"`
}

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Fetcher   FetcherConfig     `yaml:"fetcher"`
	Crawler   CrawlerConfig     `yaml:"crawler"`
	Robots    RobotsConfig      `yaml:"robots"`
	Database  DatabaseConfig    `yaml:"database"`
	FieldMap  ConfigCacheConfig `yaml:"fieldMapCache"`
	Worker    WorkerConfig      `yaml:"worker"`
	LLM       LLMConfig         `yaml:"llm"`
	Retention RetentionConfig   `yaml:"retention"`
	Control   ControlAPIConfig  `yaml:"control"`
}

// Load reads YAML from path and then overlays a small set of
// environment variables so secrets never need to live in the file on
// disk (spec.md §6 configuration knobs).
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CONTROL_SHARED_SECRET"); v != "" {
		cfg.Control.SharedSecret = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DEFAULT_USER_AGENT"); v != "" {
		cfg.Fetcher.UserAgent = v
	}
}

// Validate performs basic sanity checks on the loaded configuration so
// misconfiguration fails fast at startup rather than during the first
// request.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("database.dsn must be set")
	}

	if strings.TrimSpace(cfg.Control.SharedSecret) == "" {
		return errors.New("control.sharedSecret must be set")
	}

	if cfg.Fetcher.MinDelayMs < 0 || cfg.Fetcher.MaxDelayMs < cfg.Fetcher.MinDelayMs {
		return fmt.Errorf("fetcher.minDelayMs/maxDelayMs misconfigured: min=%d max=%d", cfg.Fetcher.MinDelayMs, cfg.Fetcher.MaxDelayMs)
	}

	if cfg.LLM.Enabled && (cfg.LLM.APIKey == "" || cfg.LLM.Model == "") {
		return errors.New("llm is enabled but apiKey or model is missing")
	}

	return nil
}
