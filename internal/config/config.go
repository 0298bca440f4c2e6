package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ManifestPath string `envconfig:"MANIFEST_PATH" required:"true"`
	StagingDir   string `envconfig:"STAGING_DIR" default:"/tmp/artifactd/staging"`
	DBPath       string `envconfig:"DB_PATH" default:"artifactd.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"INFO"`
	AppName      string `envconfig:"APP_NAME" default:"artifactd"`
	ExitWhenDone bool   `envconfig:"EXIT_WHEN_DONE" default:"false"`

	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	NotifyInterval    time.Duration `envconfig:"NOTIFY_INTERVAL" default:"2s"`

	// ProgressIntervalBytes is how many bytes a transfer reads between two
	// progress callbacks.
	ProgressIntervalBytes int64 `envconfig:"PROGRESS_INTERVAL_BYTES" default:"1048576"`

	ProbeTimeout          time.Duration `envconfig:"PROBE_TIMEOUT" default:"15s"`
	DialTimeout           time.Duration `envconfig:"DIAL_TIMEOUT" default:"30s"`
	ResponseHeaderTimeout time.Duration `envconfig:"RESPONSE_HEADER_TIMEOUT" default:"60s"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		ServiceName  string `split_words:"true" default:"artifactd"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
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

	if cfg.ProgressIntervalBytes <= 0 {
		return nil, fmt.Errorf("PROGRESS_INTERVAL_BYTES must be positive, got %d", cfg.ProgressIntervalBytes)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	return logctx.ParseLevel(c.LogLevel)
}
