// Package testsupport provides shared helpers for fanout's tests.
package testsupport

import (
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fanout/internal/config"
	"fanout/internal/logger"
	"fanout/internal/runs"
)

// SetupTestDB opens a fresh in-memory sqlite database migrated with all
// fanout models. Each call gets its own database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", rand.Int63())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the shared in-memory database alive and
	// avoids table-lock flakiness.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&runs.Run{}, &runs.TaskResult{}))
	return db
}

// NewTestConfig returns a config suitable for tests without touching the
// process-wide singleton.
func NewTestConfig() *config.Config {
	return &config.Config{
		AppName:            "fanout",
		Environment:        config.Test,
		LogLevel:           config.LogLevelError,
		DatabaseType:       config.SQLiteDatabase,
		DefaultConcurrency: 2,
		MaxConcurrency:     8,
		JobIntervalSeconds: 60,
		RunRetentionDays:   30,
		ModelName:          "base-completion",
		ModelMaxTokens:     64,
		ModelTemperature:   0.5,
	}
}

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return logger.NewDiscard()
}
