// Package config loads and validates the audit engine's configuration using
// Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CLG_ prefix (e.g. CLG_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs with a
// config.yaml in local development and with pure environment variables in
// containerized deployments.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/change-ledger/change-ledger/internal/shipping"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Shipping  shipping.Config `mapstructure:"shipping"`
}

// ServerConfig holds the ingest HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format.
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// TelemetryConfig holds the metrics side-channel configuration.
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	MetricsPort    int  `mapstructure:"metrics_port"`
}

// AuditConfig holds the recorder toggles.
type AuditConfig struct {
	// LogInsertPayload attaches the full field snapshot to Insert records.
	// Off by default for volume control.
	LogInsertPayload bool `mapstructure:"log_insert_payload"`

	// ExceptionLoggingEnabled gates exception recording.
	ExceptionLoggingEnabled bool `mapstructure:"exception_logging_enabled"`

	// SuppressedErrorTypes lists error type names (%T form) that mean the
	// persistence layer itself is down; exceptions of these types are never
	// recorded, to avoid a failure loop through the broken sink.
	SuppressedErrorTypes []string `mapstructure:"suppressed_error_types"`
}

// Load reads configuration from the given file path (or the default search
// locations when empty), layered with CLG_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/change-ledger")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables.
	}

	v.SetEnvPrefix("CLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// bind the nested keys explicitly.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "change_ledger")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.metrics_port", 9090)

	v.SetDefault("audit.log_insert_payload", false)
	v.SetDefault("audit.exception_logging_enabled", true)
	v.SetDefault("audit.suppressed_error_types", []string{"*pq.Error", "*net.OpError"})

	v.SetDefault("shipping.file.enabled", false)
	v.SetDefault("shipping.file.path", "audit-records.log")
	v.SetDefault("shipping.file.max_size_mb", 100)
	v.SetDefault("shipping.file.max_backups", 5)
	v.SetDefault("shipping.webhook.enabled", false)
	v.SetDefault("shipping.webhook.url", "")
	v.SetDefault("shipping.webhook.timeout", "10s")
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections",
		"logging.format", "logging.level",
		"telemetry.metrics_enabled", "telemetry.metrics_port",
		"audit.log_insert_payload", "audit.exception_logging_enabled",
		"audit.suppressed_error_types",
		"shipping.file.enabled", "shipping.file.path",
		"shipping.file.max_size_mb", "shipping.file.max_backups",
		"shipping.webhook.enabled", "shipping.webhook.url", "shipping.webhook.timeout",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate checks invariants that would otherwise only surface at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name must not be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Telemetry.MetricsEnabled && (c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535) {
		return fmt.Errorf("telemetry.metrics_port out of range: %d", c.Telemetry.MetricsPort)
	}
	if c.Shipping.Webhook.Enabled && c.Shipping.Webhook.URL == "" {
		return fmt.Errorf("shipping.webhook.url must be set when the webhook shipper is enabled")
	}
	return nil
}
