package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fanout/internal/config"
)

func TestGetConfig(t *testing.T) {
	t.Run("loads defaults", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)

		cfg := config.GetConfig()
		assert.Equal(t, "fanout", cfg.AppName)
		assert.Equal(t, "4000", cfg.AppPort)
		assert.Equal(t, config.Development, cfg.Environment)
		assert.Equal(t, config.SQLiteDatabase, cfg.DatabaseType)
		assert.Equal(t, 4, cfg.DefaultConcurrency)
		assert.Equal(t, 32, cfg.MaxConcurrency)
		assert.False(t, cfg.SerialDispatch)
		assert.Equal(t, "", cfg.ModelAPIURL)
		assert.Equal(t, "base-completion", cfg.ModelName)
		assert.Equal(t, 30, cfg.RunRetentionDays)
	})

	t.Run("honors environment overrides", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)

		t.Setenv("FANOUT_ENV", config.Test)
		t.Setenv("FANOUT_APP_PORT", "5005")
		t.Setenv("FANOUT_DEFAULT_CONCURRENCY", "3")
		t.Setenv("FANOUT_MAX_CONCURRENCY", "6")
		t.Setenv("FANOUT_SERIAL_DISPATCH", "true")

		cfg := config.GetConfig()
		assert.Equal(t, config.Test, cfg.Environment)
		assert.Equal(t, "5005", cfg.AppPort)
		assert.Equal(t, 3, cfg.DefaultConcurrency)
		assert.Equal(t, 6, cfg.MaxConcurrency)
		assert.True(t, cfg.SerialDispatch)
	})

	t.Run("caches the configuration until reset", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)

		first := config.GetConfig()
		second := config.GetConfig()
		assert.Same(t, first, second)

		config.Reset()
		third := config.GetConfig()
		assert.NotSame(t, first, third)
	})
}

func TestDatabasePath(t *testing.T) {
	cfg := &config.Config{
		AppName:     "fanout",
		Environment: config.Test,
		StoragePath: "storage",
	}

	path := cfg.GetDatabasePath()
	assert.Equal(t, "storage/fanout-test.db", path)
	// Derived once, then stable.
	assert.Equal(t, path, cfg.GetDatabasePath())
}

func TestEnvironmentHelpers(t *testing.T) {
	assert.True(t, (&config.Config{Environment: config.Development}).IsDevelopment())
	assert.True(t, (&config.Config{Environment: config.Production}).IsProduction())
	assert.True(t, (&config.Config{Environment: config.Test}).IsTest())
}

func TestConnectionPoolDefaults(t *testing.T) {
	t.Run("test environment pins a single connection", func(t *testing.T) {
		cfg := &config.Config{Environment: config.Test}
		assert.Equal(t, 1, cfg.GetMaxOpenConns())
		assert.Equal(t, 1, cfg.GetMaxIdleConns())
	})

	t.Run("production uses a larger pool", func(t *testing.T) {
		cfg := &config.Config{Environment: config.Production}
		assert.Equal(t, 10, cfg.GetMaxOpenConns())
		assert.Equal(t, 5, cfg.GetMaxIdleConns())
	})

	t.Run("explicit settings win", func(t *testing.T) {
		cfg := &config.Config{
			Environment:          config.Test,
			DatabaseMaxOpenConns: 7,
			DatabaseMaxIdleConns: 3,
		}
		assert.Equal(t, 7, cfg.GetMaxOpenConns())
		assert.Equal(t, 3, cfg.GetMaxIdleConns())
	})
}

func TestDurationHelpers(t *testing.T) {
	cfg := &config.Config{
		ModelTimeoutSeconds: 45,
		JobIntervalSeconds:  90,
		RunRetentionDays:    7,
	}
	assert.Equal(t, 45*time.Second, cfg.ModelTimeout())
	assert.Equal(t, 90*time.Second, cfg.JobInterval())
	assert.Equal(t, 7*24*time.Hour, cfg.RunRetention())
}
