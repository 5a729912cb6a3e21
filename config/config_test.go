package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), writeFile(t, "log:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Mode)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "./data/bookkeeper.db", cfg.Database.DSN)
	assert.True(t, cfg.Recurring.Enabled)
	assert.Equal(t, time.Hour, cfg.Recurring.Interval)
	assert.Equal(t, 1000, cfg.Recurring.MaxCatchUp)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "USD", cfg.Defaults.Currency)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A file selecting postgres and an environment override for the DSN
	// WHEN: The config is loaded
	// THEN: The file overrides defaults and the environment overrides the file

	path := writeFile(t, `
server:
  port: "9090"
  allowed_origins: ["https://books.example.com"]
database:
  driver: postgres
  dsn: postgres://file
recurring:
  interval: 15m
  max_catch_up: 50
`)
	t.Setenv("BOOKKEEPER_DATABASE_DSN", "postgres://env")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://books.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, 15*time.Minute, cfg.Recurring.Interval)
	assert.Equal(t, 50, cfg.Recurring.MaxCatchUp)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Database:  DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"},
		Recurring: RecurringConfig{Enabled: true, Interval: time.Minute},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero interval", func(c *Config) { c.Recurring.Interval = 0 }},
		{"negative catch up", func(c *Config) { c.Recurring.MaxCatchUp = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	// A disabled scheduler needs no interval.
	disabled := valid
	disabled.Recurring = RecurringConfig{Enabled: false}
	assert.NoError(t, disabled.Validate())
}
