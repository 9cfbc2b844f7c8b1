package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	// Base URLs of the two upstream collaborators.
	DownloaderBaseURL string `envconfig:"DOWNLOADER_BASE_URL" required:"true"`
	ResBaseURL        string `envconfig:"RES_BASE_URL" required:"true"`

	// Optional bearer token used when calling the internal services.
	ServiceToken string `envconfig:"SERVICE_TOKEN"`

	// HMAC secret used to verify X-Permissions assertions. Assertion-based
	// access is disabled when empty.
	PermissionsSecret string `envconfig:"PERMISSIONS_SECRET"`

	// Local FASTA reference required for CRAM coordinate queries.
	CramReferencePath string `envconfig:"CRAM_REFERENCE_PATH"`

	FileCacheTTL     time.Duration `envconfig:"FILE_CACHE_TTL" default:"24h"`
	IdentityCacheTTL time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"1h"`
	CacheSize        int           `envconfig:"CACHE_SIZE" default:"8192"`

	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"250ms"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath   string `envconfig:"DB_PATH" default:"transfers.db"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		BindAddress string `split_words:"true" default:"0.0.0.0:9464"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
