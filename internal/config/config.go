// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Narrator providers.
const (
	NarratorStatic = "static"
	NarratorAzure  = "azure"
	NarratorGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT"         envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH"      envDefault:"./data/crawl.db"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	Dungeon  DungeonConfig
	Sweep    SweepConfig
	Narrator NarratorConfig
	Timeout  TimeoutConfig
	Retry    RetryConfig
	OTel     OTelConfig
}

// DungeonConfig holds the session timers.
type DungeonConfig struct {
	ItemInterval     time.Duration `env:"DUNGEON_ITEM_INTERVAL"     envDefault:"10m"`
	EscapadeInterval time.Duration `env:"DUNGEON_ESCAPADE_INTERVAL" envDefault:"10m"`
	EncounterAfter   time.Duration `env:"DUNGEON_ENCOUNTER_AFTER"   envDefault:"6m"`
}

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	Interval    time.Duration `env:"SWEEP_INTERVAL"    envDefault:"30s"`
	Concurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"8"`
}

// NarratorConfig selects and configures the encounter generation strategy.
type NarratorConfig struct {
	Provider        string        `env:"NARRATOR_PROVIDER"       envDefault:"static"`
	Timeout         time.Duration `env:"NARRATOR_TIMEOUT"        envDefault:"8s"`
	AzureEndpoint   string        `env:"AZURE_OPENAI_ENDPOINT"`
	AzureAPIKey     string        `env:"AZURE_OPENAI_API_KEY"`
	AzureDeployment string        `env:"AZURE_OPENAI_DEPLOYMENT"`
	GRPCAddr        string        `env:"NARRATOR_GRPC_ADDR"`
}

// TimeoutConfig holds I/O deadlines.
type TimeoutConfig struct {
	DB          time.Duration `env:"DB_TIMEOUT"           envDefault:"5s"`
	HealthCheck time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
}

// RetryConfig controls retries of interactive commands on transient database errors.
type RetryConfig struct {
	MaxAttempts int           `env:"DB_MAX_RETRIES"      envDefault:"3"`
	BaseDelay   time.Duration `env:"DB_RETRY_BASE_DELAY" envDefault:"50ms"`
}

// OTelConfig controls trace export. Tracing is off unless an endpoint is set.
type OTelConfig struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Narrator.Provider = strings.ToLower(strings.TrimSpace(cfg.Narrator.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Dungeon.ItemInterval <= 0 || c.Dungeon.EscapadeInterval <= 0 {
		return fmt.Errorf("DUNGEON_ITEM_INTERVAL and DUNGEON_ESCAPADE_INTERVAL must be > 0")
	}
	if c.Dungeon.EncounterAfter < 0 {
		return fmt.Errorf("DUNGEON_ENCOUNTER_AFTER cannot be negative")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Sweep.Concurrency <= 0 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}

	switch c.Narrator.Provider {
	case NarratorStatic:
	case NarratorAzure:
		if c.Narrator.AzureEndpoint == "" || c.Narrator.AzureAPIKey == "" || c.Narrator.AzureDeployment == "" {
			return fmt.Errorf("NARRATOR_PROVIDER=azure requires AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_DEPLOYMENT")
		}
	case NarratorGRPC:
		if c.Narrator.GRPCAddr == "" {
			return fmt.Errorf("NARRATOR_PROVIDER=grpc requires NARRATOR_GRPC_ADDR")
		}
	default:
		return fmt.Errorf("unknown NARRATOR_PROVIDER %q", c.Narrator.Provider)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// TracingEnabled reports whether spans should be exported.
func (c *Config) TracingEnabled() bool {
	return c.OTel.Enabled && c.OTel.Endpoint != ""
}
