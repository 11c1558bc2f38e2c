// Package config defines the application configuration loaded from the
// environment and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/harborlight/companion/pkg/config"
	"github.com/harborlight/companion/pkg/logger"
)

const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"

	// DefaultRecentSessionLimit is the fallback for an out-of-range
	// recent_card_session_limit in production.
	DefaultRecentSessionLimit = 5
)

// AppConfig holds all application configuration.
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"companion"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int           `env:"PORT" yaml:"port" default:"8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout" default:"60s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" yaml:"idle_timeout" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the complete database URL (takes precedence if provided)
	URL string `env:"DATABASE_URL" yaml:"url" default:""`

	Host     string `env:"DB_HOST" yaml:"host" default:"localhost"`
	Port     int    `env:"DB_PORT" yaml:"port" default:"5432"`
	Database string `env:"DB_NAME" yaml:"database" default:"companion"`
	Username string `env:"DB_USER" yaml:"username" default:"postgres"`
	Password string `env:"DB_PASSWORD" yaml:"password" default:"postgres"`
	SSLMode  string `env:"DB_SSLMODE" yaml:"sslmode" default:"disable"`

	MaxConnections int `env:"DB_MAX_CONNECTIONS" yaml:"max_connections" default:"25"`
	MinConnections int `env:"DB_MIN_CONNECTIONS" yaml:"min_connections" default:"2"`
}

// GetConnectionString returns the database connection string.
func (d DatabaseConfig) GetConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
		d.MaxConnections, d.MinConnections)
}

// LLMConfig holds completion provider settings.
type LLMConfig struct {
	Provider   string        `env:"LLM_PROVIDER" yaml:"provider" default:"openai"`
	APIKey     string        `env:"LLM_API_KEY" yaml:"api_key" required:"true"`
	BaseURL    string        `env:"LLM_BASE_URL" yaml:"base_url" default:""`
	Model      string        `env:"LLM_MODEL" yaml:"model" default:"gpt-4o-mini"`
	Timeout    time.Duration `env:"LLM_TIMEOUT" yaml:"timeout" default:"30s"`
	MaxRetries int           `env:"LLM_MAX_RETRIES" yaml:"max_retries" default:"3"`
	RetryDelay time.Duration `env:"LLM_RETRY_DELAY" yaml:"retry_delay" default:"1s"`
}

// MemoryConfig tunes the memory pipeline.
type MemoryConfig struct {
	RecentCardSessionLimit   int     `env:"RECENT_CARD_SESSION_LIMIT" yaml:"recent_card_session_limit" default:"5"`
	MentionScanLimit         int     `env:"MENTION_SCAN_LIMIT" yaml:"mention_scan_limit" default:"100"`
	BatchConfidenceThreshold float64 `env:"BATCH_CONFIDENCE_THRESHOLD" yaml:"batch_confidence_threshold" default:"0.3"`
	FieldConfidenceThreshold float64 `env:"FIELD_CONFIDENCE_THRESHOLD" yaml:"field_confidence_threshold" default:"0.7"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format string `env:"LOG_FORMAT" yaml:"format" default:"json"`
}

// MonitoringConfig holds metrics settings.
type MonitoringConfig struct {
	MetricsEnabled bool `env:"METRICS_ENABLED" yaml:"metrics_enabled" default:"true"`
	MetricsPort    int  `env:"METRICS_PORT" yaml:"metrics_port" default:"9090"`
}

// Load reads configuration from the optional YAML file path and the
// environment, then validates it.
func Load(filepath string) (*AppConfig, error) {
	var cfg AppConfig
	if err := config.GetConfig(&cfg, filepath, true); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration consistency. An out-of-range
// recent_card_session_limit is a hard error outside production; production
// falls back at ApplyFallbacks time so a bad deploy keeps serving.
func (c *AppConfig) Validate() error {
	var result error

	switch strings.ToLower(c.Environment) {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		result = multierror.Append(result,
			fmt.Errorf("environment must be one of development/testing/production, got %q", c.Environment))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result,
			fmt.Errorf("log level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		result = multierror.Append(result,
			fmt.Errorf("server port must be between 1-65535, got %d", c.Server.Port))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		result = multierror.Append(result,
			fmt.Errorf("llm provider must be openai or anthropic, got %q", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 1 {
		result = multierror.Append(result,
			fmt.Errorf("llm max_retries must be positive, got %d", c.LLM.MaxRetries))
	}

	if c.Memory.BatchConfidenceThreshold < 0 || c.Memory.BatchConfidenceThreshold > 1 {
		result = multierror.Append(result,
			fmt.Errorf("batch_confidence_threshold must be in [0,1], got %g", c.Memory.BatchConfidenceThreshold))
	}
	if c.Memory.FieldConfidenceThreshold < 0 || c.Memory.FieldConfidenceThreshold > 1 {
		result = multierror.Append(result,
			fmt.Errorf("field_confidence_threshold must be in [0,1], got %g", c.Memory.FieldConfidenceThreshold))
	}

	if !c.sessionLimitValid() && !c.IsProduction() {
		result = multierror.Append(result,
			fmt.Errorf("recent_card_session_limit must be between 1-20, got %d", c.Memory.RecentCardSessionLimit))
	}

	return result
}

// ApplyFallbacks repairs values production tolerates rather than crashing
// over. Call after Validate.
func (c *AppConfig) ApplyFallbacks(log logger.Logger) {
	if c.IsProduction() && !c.sessionLimitValid() {
		log.Warn("recent_card_session_limit out of range, falling back",
			logger.IntField("configured", c.Memory.RecentCardSessionLimit),
			logger.IntField("fallback", DefaultRecentSessionLimit),
		)
		c.Memory.RecentCardSessionLimit = DefaultRecentSessionLimit
	}
}

// IsProduction reports whether the service runs in production.
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == EnvProduction
}

func (c *AppConfig) sessionLimitValid() bool {
	return c.Memory.RecentCardSessionLimit >= 1 && c.Memory.RecentCardSessionLimit <= 20
}
