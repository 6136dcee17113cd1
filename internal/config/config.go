// Package config loads service configuration from an optional YAML file
// with MONIKER_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Deprecation DeprecationConfig `yaml:"deprecation"`
	Cache       CacheConfig       `yaml:"cache"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	LogLevel    string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	SubmitToken  string `yaml:"submit_token"`
	ApproveToken string `yaml:"approve_token"`
	// WriteToken is the legacy single token granting both lanes when the
	// split tokens are unset.
	WriteToken string `yaml:"write_token"`
}

type CatalogConfig struct {
	File        string `yaml:"file" validate:"required"`
	DomainsFile string `yaml:"domains_file"`
	ModelsFile  string `yaml:"models_file"`
	// Watch reloads the catalog when the file changes on disk.
	Watch bool `yaml:"watch"`
	// BlockBreaking rejects watched reloads that remove paths or change
	// bindings.
	BlockBreaking bool `yaml:"block_breaking"`
}

type DeprecationConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	MaxSize    int           `yaml:"max_size" validate:"gte=0"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	RedisAddr  string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB    int           `yaml:"redis_db"`
}

type TelemetryConfig struct {
	Sink          string        `yaml:"sink" validate:"omitempty,oneof=console file postgres"`
	FilePath      string        `yaml:"file_path" validate:"required_if=Sink file"`
	PostgresDSN   string        `yaml:"postgres_dsn" validate:"required_if=Sink postgres"`
	QueueSize     int           `yaml:"queue_size" validate:"gte=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{
			File:          "catalog.yaml",
			BlockBreaking: true,
		},
		Deprecation: DeprecationConfig{Enabled: true},
		Cache: CacheConfig{
			Backend:    "memory",
			MaxSize:    4096,
			DefaultTTL: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Sink:          "console",
			QueueSize:     10000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads file (optional, "" skips it), applies environment overrides,
// and validates the result.
func Load(file string) (Config, error) {
	cfg := Default()

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "MONIKER_HOST")
	setInt(&cfg.Server.Port, "MONIKER_PORT")
	setString(&cfg.Auth.SubmitToken, "MONIKER_SUBMIT_TOKEN")
	setString(&cfg.Auth.ApproveToken, "MONIKER_APPROVE_TOKEN")
	setString(&cfg.Auth.WriteToken, "MONIKER_WRITE_TOKEN")
	setString(&cfg.Catalog.File, "MONIKER_CATALOG_FILE")
	setString(&cfg.Catalog.DomainsFile, "MONIKER_DOMAINS_FILE")
	setString(&cfg.Catalog.ModelsFile, "MONIKER_MODELS_FILE")
	setString(&cfg.Cache.RedisAddr, "MONIKER_REDIS_ADDR")
	setString(&cfg.Telemetry.PostgresDSN, "MONIKER_TELEMETRY_DSN")
	setString(&cfg.LogLevel, "MONIKER_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
