// Package config loads timebridge settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/directory"
	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/store"
)

// DefaultPath is read when no --config flag is given, if it exists.
const DefaultPath = "timebridge.yaml"

// Config holds every setting.
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Log      LogConfig      `yaml:"log" json:"log"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Tempo    TempoConfig    `yaml:"tempo" json:"tempo"`
	Jira     JiraConfig     `yaml:"jira" json:"jira"`
	Timelog  TimelogConfig  `yaml:"timelog" json:"timelog"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Rules    RulesConfig    `yaml:"rules" json:"rules"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite3" | "postgres"
	DSN    string `yaml:"dsn" json:"dsn"`
}

// LogConfig controls the slog handler the CLI installs.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" | "json"
}

// HTTPConfig applies to every outbound API client.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries opts GET requests into retries on 429 and 5xx. Zero, the
	// default, sends each request once.
	MaxRetries int     `yaml:"max_retries" json:"max_retries"`
	RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst  int     `yaml:"rate_burst" json:"rate_burst"`
}

// TempoConfig is the default for worklog sources without their own base URL.
// Tokens live on each source.
type TempoConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	PageSize int    `yaml:"page_size" json:"page_size"`
}

// JiraConfig enables issue enrichment and display names.
type JiraConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Email    string `yaml:"email" json:"email"`
	APIToken string `yaml:"api_token" json:"-"`
}

// TimelogConfig is the booking target.
type TimelogConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// RedisConfig enables the shared display-name cache.
type RedisConfig struct {
	URL string        `yaml:"url" json:"url"`
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// IngestConfig tunes imports.
type IngestConfig struct {
	EnrichConcurrency int `yaml:"enrich_concurrency" json:"enrich_concurrency"`
}

// RulesConfig tunes rule evaluation.
type RulesConfig struct {
	RegexTimeout time.Duration `yaml:"regex_timeout" json:"regex_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: string(store.DialectSQLite), DSN: "timebridge.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Timeout:   connhttp.DefaultTimeout,
			RateLimit: connhttp.DefaultRateLimit,
			RateBurst: connhttp.DefaultRateBurst,
		},
		Tempo:  TempoConfig{BaseURL: tempo.DefaultBaseURL, PageSize: tempo.DefaultPageSize},
		Redis:  RedisConfig{TTL: directory.DefaultTTL},
		Ingest: IngestConfig{EnrichConcurrency: ingest.DefaultEnrichConcurrency},
		Rules:  RulesConfig{RegexTimeout: engine.DefaultRegexTimeout},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path reads DefaultPath when it exists; an explicit path that
// does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
		slog.Debug("loaded config file", "path", path)
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from environment variables that are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"TIMEBRIDGE_DB", &c.Database.DSN},
		{"TIMEBRIDGE_DB_DRIVER", &c.Database.Driver},
		{"TEMPO_BASE_URL", &c.Tempo.BaseURL},
		{"JIRA_BASE_URL", &c.Jira.BaseURL},
		{"JIRA_EMAIL", &c.Jira.Email},
		{"JIRA_API_TOKEN", &c.Jira.APIToken},
		{"TIMELOG_BASE_URL", &c.Timelog.BaseURL},
		{"TIMELOG_API_KEY", &c.Timelog.APIKey},
		{"REDIS_URL", &c.Redis.URL},
		{"LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.target = v
		}
	}
}

// ValidationError reports an unusable setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the settings every command needs. Credentials for
// optional integrations are checked by the Require* methods when the
// integration is used.
func (c *Config) Validate() error {
	if _, err := store.ParseDialect(c.Database.Driver); err != nil {
		return &ValidationError{Field: "database.driver", Message: err.Error()}
	}
	if c.Database.DSN == "" {
		return &ValidationError{Field: "database.dsn", Message: "is required"}
	}
	if _, err := c.LogLevel(); err != nil {
		return &ValidationError{Field: "log.level", Message: err.Error()}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if c.Ingest.EnrichConcurrency < 1 {
		return &ValidationError{Field: "ingest.enrich_concurrency", Message: "must be at least 1"}
	}
	if c.Tempo.PageSize < 1 {
		return &ValidationError{Field: "tempo.page_size", Message: "must be at least 1"}
	}
	return nil
}

// MissingCredentialError names the settings a feature needs but lacks.
type MissingCredentialError struct {
	Feature string
	Fields  []string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s is not configured: set %s", e.Feature, strings.Join(e.Fields, ", "))
}

// JiraEnabled reports whether issue enrichment can be used.
func (c *Config) JiraEnabled() bool {
	return c.Jira.BaseURL != "" && c.Jira.Email != "" && c.Jira.APIToken != ""
}

// RequireTimelog fails unless the booking target is configured.
func (c *Config) RequireTimelog() error {
	var missing []string
	if c.Timelog.BaseURL == "" {
		missing = append(missing, "timelog.base_url (TIMELOG_BASE_URL)")
	}
	if c.Timelog.APIKey == "" {
		missing = append(missing, "timelog.api_key (TIMELOG_API_KEY)")
	}
	if len(missing) > 0 {
		return &MissingCredentialError{Feature: "time registration API", Fields: missing}
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// ClientConfig returns the shared HTTP client settings.
func (c *Config) ClientConfig() connhttp.ClientConfig {
	return connhttp.ClientConfig{
		Timeout:    c.HTTP.Timeout,
		MaxRetries: c.HTTP.MaxRetries,
		RateLimit:  c.HTTP.RateLimit,
		RateBurst:  c.HTTP.RateBurst,
	}
}
