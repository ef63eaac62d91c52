// Package config loads and validates service configuration from
// config.yaml and ARGUS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"argus/core"
)

// Storage backend selectors for StorageConfig.Backend.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	TLS             bool          `mapstructure:"tls"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ClickHouseConfig holds the ClickHouse backend settings.
type ClickHouseConfig struct {
	Addr           string        `mapstructure:"addr"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TLS            bool          `mapstructure:"tls"`
	MaxPoolSize    int           `mapstructure:"max_pool_size"`
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	DedupCacheSize int           `mapstructure:"dedup_cache_size"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend    string           `mapstructure:"backend"`
	SQLitePath string           `mapstructure:"sqlite_path"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// RedisConfig holds the cache and lock settings.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// UserConfig is a single login account for the API.
type UserConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	Users     []UserConfig  `mapstructure:"users"`
}

// DetectionConfig tunes the detection engine and scheduler.
type DetectionConfig struct {
	// DedupWindowMinutes suppresses a repeat alert for the same rule and
	// entity within this trailing window.
	DedupWindowMinutes int `mapstructure:"dedup_window_minutes"`
	// RuleTimeoutSeconds bounds a single rule execution. Zero disables
	// the per-rule deadline.
	RuleTimeoutSeconds int `mapstructure:"rule_timeout_seconds"`
	// Schedule is a cron expression for periodic sweeps. Empty disables
	// the scheduler; sweeps then run only via the API or CLI.
	Schedule string `mapstructure:"schedule"`
	// TuningFile points at an optional JSON overrides file for rule
	// thresholds and windows.
	TuningFile string `mapstructure:"tuning_file"`
}

// DedupWindow returns the dedup window as a duration.
func (d DetectionConfig) DedupWindow() time.Duration {
	return time.Duration(d.DedupWindowMinutes) * time.Minute
}

// RuleTimeout returns the per-rule timeout as a duration.
func (d DetectionConfig) RuleTimeout() time.Duration {
	return time.Duration(d.RuleTimeoutSeconds) * time.Second
}

// IngestConfig tunes batch ingestion and its rate limiting.
type IngestConfig struct {
	MaxBatch       int     `mapstructure:"max_batch"`
	RateLimitPerIP float64 `mapstructure:"rate_limit_per_ip"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// MappingsFile points at an optional YAML file extending the
	// built-in field-synonym chains.
	MappingsFile string `mapstructure:"mappings_file"`
}

// WebhookNotifyConfig configures the outbound alert webhook.
type WebhookNotifyConfig struct {
	URL         string            `mapstructure:"url"`
	MinSeverity string            `mapstructure:"min_severity"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Headers     map[string]string `mapstructure:"headers"`
}

// NotifyConfig configures alert notification channels.
type NotifyConfig struct {
	Webhook WebhookNotifyConfig `mapstructure:"webhook"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// VaultConfig holds HashiCorp Vault connection settings.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// AWSConfig holds AWS Secrets Manager connection settings.
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	SecretID  string `mapstructure:"secret_id"`
}

// SecretsConfig selects the secret backend for vault:/aws: indirections.
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env, vault, aws
	Vault    VaultConfig `mapstructure:"vault"`
	AWS      AWSConfig   `mapstructure:"aws"`
}

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Detection DetectionConfig `mapstructure:"detection"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "./data/argus.db")
	// 127.0.0.1 rather than localhost avoids IPv6 resolution stalls
	v.SetDefault("storage.clickhouse.addr", "127.0.0.1:9000")
	v.SetDefault("storage.clickhouse.database", "argus")
	v.SetDefault("storage.clickhouse.username", "default")
	v.SetDefault("storage.clickhouse.tls", false)
	v.SetDefault("storage.clickhouse.max_pool_size", 10)
	v.SetDefault("storage.clickhouse.batch_size", 10000)
	v.SetDefault("storage.clickhouse.flush_interval", 5*time.Second)
	v.SetDefault("storage.clickhouse.dedup_cache_size", 65536)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_expiry", 24*time.Hour)

	v.SetDefault("detection.dedup_window_minutes", 60)
	v.SetDefault("detection.rule_timeout_seconds", 0)
	v.SetDefault("detection.schedule", "")
	v.SetDefault("detection.tuning_file", "")

	v.SetDefault("ingest.max_batch", 1000)
	v.SetDefault("ingest.rate_limit_per_ip", 50)
	v.SetDefault("ingest.rate_limit_burst", 100)
	v.SetDefault("ingest.mappings_file", "")

	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.min_severity", string(core.SeverityLow))
	v.SetDefault("notify.webhook.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("secrets.provider", "env")
}

// applyEnvSecrets overrides sensitive values from explicit environment
// variables. AutomaticEnv alone misses keys absent from the config file,
// so secrets get checked directly.
func applyEnvSecrets(cfg *Config) {
	if s := os.Getenv("ARGUS_AUTH_JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if s := os.Getenv("ARGUS_REDIS_PASSWORD"); s != "" {
		cfg.Redis.Password = s
	}
	if s := os.Getenv("ARGUS_CLICKHOUSE_PASSWORD"); s != "" {
		cfg.Storage.ClickHouse.Password = s
	}
}

// Load reads configuration from the given file path. An empty path falls
// back to config.yaml in the working directory or ./config, and a missing
// file there is not an error: defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnvSecrets(&cfg)

	if err := ResolveSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for correctness. It runs after
// secret resolution so indirections have already been replaced.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.TLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("server TLS enabled but cert_file or key_file missing")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path cannot be empty with the sqlite backend")
		}
	case BackendClickHouse:
		if c.Storage.ClickHouse.Addr == "" {
			return fmt.Errorf("storage.clickhouse.addr cannot be empty with the clickhouse backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %q (must be %s or %s)",
			c.Storage.Backend, BackendSQLite, BackendClickHouse)
	}

	if c.Auth.Enabled {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters when auth is enabled")
		}
		if len(c.Auth.Users) == 0 {
			return fmt.Errorf("auth enabled but no users configured")
		}
		for i, u := range c.Auth.Users {
			if u.Username == "" {
				return fmt.Errorf("auth.users[%d]: username cannot be empty", i)
			}
			if u.PasswordHash == "" {
				return fmt.Errorf("auth.users[%d]: password_hash cannot be empty", i)
			}
		}
		if c.Auth.JWTExpiry <= 0 {
			return fmt.Errorf("auth.jwt_expiry must be positive")
		}
	}

	if c.Detection.DedupWindowMinutes <= 0 {
		return fmt.Errorf("detection.dedup_window_minutes must be positive, got %d", c.Detection.DedupWindowMinutes)
	}
	if c.Detection.RuleTimeoutSeconds < 0 {
		return fmt.Errorf("detection.rule_timeout_seconds cannot be negative, got %d", c.Detection.RuleTimeoutSeconds)
	}

	if c.Ingest.MaxBatch <= 0 {
		return fmt.Errorf("ingest.max_batch must be positive, got %d", c.Ingest.MaxBatch)
	}
	if c.Ingest.RateLimitPerIP < 0 {
		return fmt.Errorf("ingest.rate_limit_per_ip cannot be negative")
	}

	if c.Notify.Webhook.URL != "" {
		parsed, err := url.Parse(c.Notify.Webhook.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("notify.webhook.url must be a valid http or https URL")
		}
		if sev := core.Severity(c.Notify.Webhook.MinSeverity); !sev.IsValid() {
			return fmt.Errorf("notify.webhook.min_severity must be one of low, medium, high, critical")
		}
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}
