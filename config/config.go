// Package config loads and validates server configuration from a YAML
// file, QURL_ environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	qurlhttp "github.com/qurlsh/qurl/http"
)

// Config is the root configuration struct for qurl.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Storage   StorageConfig            `mapstructure:"storage"`
	Retention RetentionConfig          `mapstructure:"retention"`
	Sweep     SweepConfig              `mapstructure:"sweep"`
	RateLimit qurlhttp.RateLimitConfig `mapstructure:"rate_limit"`
	CORS      qurlhttp.CORSConfig      `mapstructure:"cors"`
	Log       LogConfig                `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL        string `mapstructure:"base_url" validate:"required"`
	MaxUploadSize  int64  `mapstructure:"max_upload_size" validate:"min=1"`
	RequestTimeout int    `mapstructure:"request_timeout" validate:"min=1"`
}

// StorageConfig selects and parameterizes the entry store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=files sqlite"`
	Path    string `mapstructure:"path" validate:"required_if=Backend files"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Backend sqlite"`
}

// RetentionConfig holds the server-side clamps on client-supplied
// retention parameters and the fixed secret window.
type RetentionConfig struct {
	DefaultTTL       time.Duration `mapstructure:"default_ttl" validate:"required"`
	MaxTTL           time.Duration `mapstructure:"max_ttl" validate:"required,gtefield=DefaultTTL"`
	DefaultDownloads int           `mapstructure:"default_downloads" validate:"min=1"`
	MaxDownloads     int           `mapstructure:"max_downloads" validate:"min=1,gtefield=DefaultDownloads"`
	SecretTTL        time.Duration `mapstructure:"secret_ttl" validate:"required"`
}

// SweepConfig holds the background sweeper's schedule.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"required"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// SetDefaults configures default values on the viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.max_upload_size", int64(50*1024*1024))
	v.SetDefault("server.request_timeout", 60) // seconds

	v.SetDefault("storage.backend", "files")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.dsn", "qurl.db")

	v.SetDefault("retention.default_ttl", "24h")
	v.SetDefault("retention.max_ttl", "168h")
	v.SetDefault("retention.default_downloads", 1)
	v.SetDefault("retention.max_downloads", 100)
	v.SetDefault("retention.secret_ttl", "24h")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "1h")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_minute", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
