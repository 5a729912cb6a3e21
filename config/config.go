/*
Package config loads runtime settings with viper.

SOURCES (later wins):
  1. Defaults below
  2. YAML file (--config, or ./bookkeeper.yaml when present)
  3. BOOKKEEPER_* environment variables (BOOKKEEPER_DATABASE_DSN, ...)
  4. Command-line flags bound by cmd/bookkeeper

EXAMPLE FILE:
  server:
    port: "8080"
    mode: production
    allowed_origins: ["http://localhost:5173"]
  database:
    driver: sqlite3
    dsn: ./data/bookkeeper.db
  recurring:
    enabled: true
    interval: 1h
    max_catch_up: 1000
  log:
    level: info
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Recurring RecurringConfig `mapstructure:"recurring"`
	Log       LogConfig       `mapstructure:"log"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"` // debug, production
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3, postgres
	DSN    string `mapstructure:"dsn"`
}

type RecurringConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxCatchUp int           `mapstructure:"max_catch_up"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultsConfig applies to books created without explicit values.
type DefaultsConfig struct {
	Currency string `mapstructure:"currency"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "production")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/bookkeeper.db")
	v.SetDefault("recurring.enabled", true)
	v.SetDefault("recurring.interval", time.Hour)
	v.SetDefault("recurring.max_catch_up", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("defaults.currency", "USD")

	v.SetEnvPrefix("BOOKKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file and decodes everything into a Config.
// An empty path looks for bookkeeper.yaml in the working directory and
// ./config; a missing default file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bookkeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Recurring.Enabled && c.Recurring.Interval <= 0 {
		return fmt.Errorf("recurring.interval must be positive, got %s", c.Recurring.Interval)
	}
	if c.Recurring.MaxCatchUp < 0 {
		return fmt.Errorf("recurring.max_catch_up must not be negative, got %d", c.Recurring.MaxCatchUp)
	}
	return nil
}
