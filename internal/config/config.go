// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// File paths
	StoragePath  string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Dispatch settings
	DefaultConcurrency int  `mapstructure:"defaultconcurrency"`
	MaxConcurrency     int  `mapstructure:"maxconcurrency"`
	SerialDispatch     bool `mapstructure:"serialdispatch"`

	// Remote model API settings
	ModelAPIURL         string  `mapstructure:"modelapiurl"`
	ModelAPIKey         string  `mapstructure:"modelapikey"`
	ModelName           string  `mapstructure:"modelname"`
	ModelMaxTokens      int     `mapstructure:"modelmaxtokens"`
	ModelTemperature    float64 `mapstructure:"modeltemperature"`
	ModelTimeoutSeconds int     `mapstructure:"modeltimeoutseconds"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings
	RunRetentionDays int `mapstructure:"runretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "fanout")
		v.SetDefault("appport", "4000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("defaultconcurrency", 4)
		v.SetDefault("maxconcurrency", 32)
		v.SetDefault("serialdispatch", false)
		v.SetDefault("modelapiurl", "")
		v.SetDefault("modelname", "base-completion")
		v.SetDefault("modelmaxtokens", 1024)
		v.SetDefault("modeltemperature", 0.7)
		v.SetDefault("modeltimeoutseconds", 60)
		v.SetDefault("jobintervalseconds", 60)
		v.SetDefault("runretentiondays", 30)

		// Bind environment variables
		v.BindEnv("appname", "FANOUT_APP_NAME")
		v.BindEnv("appport", "FANOUT_APP_PORT")
		v.BindEnv("environment", "FANOUT_ENV")
		v.BindEnv("loglevel", "FANOUT_LOG_LEVEL")
		v.BindEnv("storagepath", "FANOUT_STORAGE_PATH")
		v.BindEnv("logsdir", "FANOUT_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "FANOUT_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "FANOUT_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "FANOUT_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "FANOUT_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "FANOUT_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "FANOUT_DB_MAX_IDLE_CONNS")
		v.BindEnv("defaultconcurrency", "FANOUT_DEFAULT_CONCURRENCY")
		v.BindEnv("maxconcurrency", "FANOUT_MAX_CONCURRENCY")
		v.BindEnv("serialdispatch", "FANOUT_SERIAL_DISPATCH")
		v.BindEnv("modelapiurl", "FANOUT_MODEL_API_URL")
		v.BindEnv("modelapikey", "FANOUT_MODEL_API_KEY")
		v.BindEnv("modelname", "FANOUT_MODEL_NAME")
		v.BindEnv("modelmaxtokens", "FANOUT_MODEL_MAX_TOKENS")
		v.BindEnv("modeltemperature", "FANOUT_MODEL_TEMPERATURE")
		v.BindEnv("modeltimeoutseconds", "FANOUT_MODEL_TIMEOUT_SECONDS")
		v.BindEnv("jobintervalseconds", "FANOUT_JOB_INTERVAL_SECONDS")
		v.BindEnv("runretentiondays", "FANOUT_RUN_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.DefaultConcurrency < 1 {
		return fmt.Errorf("invalid default concurrency: %d", c.DefaultConcurrency)
	}
	if c.MaxConcurrency < c.DefaultConcurrency {
		return fmt.Errorf("max concurrency %d below default %d", c.MaxConcurrency, c.DefaultConcurrency)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.StoragePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for test stability with a shared in-memory database)
// - Development/Production: 10 (allows concurrent reads while runs are recorded)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// ModelTimeout returns the per-request timeout for the remote model API.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSeconds) * time.Second
}

// JobInterval returns the background job tick interval.
func (c *Config) JobInterval() time.Duration {
	return time.Duration(c.JobIntervalSeconds) * time.Second
}

// RunRetention returns how long finished runs are kept before cleanup.
func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.RunRetentionDays) * 24 * time.Hour
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
