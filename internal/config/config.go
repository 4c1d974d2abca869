package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the CRM service.
// Environment variables are parsed from the ZAPPY_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Store driver: auto, postgres or memory. auto picks postgres when a DSN is set.
	StoreDriver string `envconfig:"STORE_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Analysis model
	GeminiAPIKey          string  `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel           string  `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	EmbedModel            string  `envconfig:"EMBED_MODEL" default:"text-embedding-004"`
	EmbedDimension        int     `envconfig:"EMBED_DIMENSION" default:"768"`
	EnableSearchRetrieval bool    `envconfig:"ENABLE_SEARCH_RETRIEVAL" default:"false"`
	ModelRPS              float64 `envconfig:"MODEL_RPS" default:"5"`
	ContextMaxChars       int     `envconfig:"CONTEXT_MAX_CHARS" default:"8000"`

	// Realtime watcher (Postgres LISTEN/NOTIFY)
	RealtimeEnabled bool   `envconfig:"REALTIME_ENABLED" default:"true"`
	RealtimeChannel string `envconfig:"REALTIME_CHANNEL" default:"crm_changes"`

	// Object storage + storage watcher
	StorageURL            string        `envconfig:"STORAGE_URL" default:""`
	StorageServiceKey     string        `envconfig:"STORAGE_SERVICE_KEY" default:""`
	StorageBucket         string        `envconfig:"STORAGE_BUCKET" default:"media"`
	StorageFolder         string        `envconfig:"STORAGE_FOLDER" default:""`
	StorageWatcherEnabled bool          `envconfig:"STORAGE_WATCHER_ENABLED" default:"false"`
	StoragePollInterval   time.Duration `envconfig:"STORAGE_POLL_INTERVAL" default:"30s"`
	StorageLedgerPath     string        `envconfig:"STORAGE_LEDGER_PATH" default:""`

	// Inbox poller (IMAP). Empty host disables it.
	IMAPHost         string        `envconfig:"IMAP_HOST" default:""`
	IMAPPort         int           `envconfig:"IMAP_PORT" default:"993"`
	IMAPUsername     string        `envconfig:"IMAP_USERNAME" default:""`
	IMAPPassword     string        `envconfig:"IMAP_PASSWORD" default:""`
	IMAPUseTLS       bool          `envconfig:"IMAP_USE_TLS" default:"true"`
	IMAPMailbox      string        `envconfig:"IMAP_MAILBOX" default:"INBOX"`
	IMAPCompany      string        `envconfig:"IMAP_COMPANY" default:""`
	IMAPPollInterval time.Duration `envconfig:"IMAP_POLL_INTERVAL" default:"1m"`

	// Media extraction
	FFmpegPath     string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	MediaMaxFrames int    `envconfig:"MEDIA_MAX_FRAMES" default:"6"`

	// Scheduled overdue sweep (robfig/cron expression). Empty disables it.
	OverdueSweepSchedule string `envconfig:"OVERDUE_SWEEP_SCHEDULE" default:"@every 15m"`

	// Background task queue
	TaskShards      int `envconfig:"TASK_SHARDS" default:"4"`
	TaskQueueSize   int `envconfig:"TASK_QUEUE_SIZE" default:"256"`
	TaskMaxAttempts int `envconfig:"TASK_MAX_ATTEMPTS" default:"3"`

	// Health checks
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	MCPEnabled bool `envconfig:"MCP_ENABLED" default:"true"`
}

// ResolveDefaults validates StoreDriver and derives it when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	if c.StoreDriver == "" || c.StoreDriver == "auto" {
		if c.PostgresDSN != "" {
			c.StoreDriver = "postgres"
		} else {
			c.StoreDriver = "memory"
		}
	}
	switch c.StoreDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("ZAPPY_POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.ContextMaxChars <= 0 {
		c.ContextMaxChars = 8000
	}
	if c.MediaMaxFrames <= 0 {
		c.MediaMaxFrames = 6
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: ZAPPY_HTTP_PORT, ZAPPY_GEMINI_API_KEY
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ZAPPY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("store_driver", cfg.StoreDriver).
		Bool("model_configured", cfg.ModelConfigured()).
		Str("model", cfg.GeminiModel).
		Str("embed_model", cfg.EmbedModel).
		Bool("realtime", cfg.RealtimeEnabled).
		Bool("storage_watcher", cfg.StorageWatcherEnabled).
		Str("storage_bucket", cfg.StorageBucket).
		Dur("storage_poll_interval", cfg.StoragePollInterval).
		Str("overdue_sweep", cfg.OverdueSweepSchedule).
		Bool("inbox_poller", cfg.InboxConfigured()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		HTTPPort:                  8080,
		StoreDriver:               "memory",
		GeminiModel:               "gemini-2.5-flash",
		EmbedModel:                "text-embedding-004",
		EmbedDimension:            768,
		ContextMaxChars:           8000,
		StorageBucket:             "media",
		StoragePollInterval:       30 * time.Second,
		FFmpegPath:                "ffmpeg",
		MediaMaxFrames:            6,
		TaskShards:                2,
		TaskQueueSize:             64,
		TaskMaxAttempts:           1,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
}

// ModelConfigured reports whether an analysis model credential is present.
func (c *Config) ModelConfigured() bool { return c.GeminiAPIKey != "" }

// StorageConfigured reports whether object storage can be reached.
func (c *Config) StorageConfigured() bool { return c.StorageURL != "" && c.StorageServiceKey != "" }

// InboxConfigured reports whether an IMAP mailbox can be polled.
func (c *Config) InboxConfigured() bool {
	return c.IMAPHost != "" && c.IMAPUsername != "" && c.IMAPPassword != ""
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
