// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
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

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName               string   `mapstructure:"appname"`
	AppPort               string   `mapstructure:"appport"`
	Environment           string   `mapstructure:"environment"`
	LogLevel              LogLevel `mapstructure:"loglevel"`
	PrivateKey            string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds int      `mapstructure:"sessiontimeoutseconds"`
	Domain                string   `mapstructure:"domain"`

	// Owner API access. The end-user identity provider is external; the
	// owner API trusts callers presenting a key matching this bcrypt hash.
	APIKeyHash string `mapstructure:"apikeyhash"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Geo lookup settings
	GeoHTTPEnabled           bool   `mapstructure:"geohttpenabled"`
	GeoHTTPEndpoint          string `mapstructure:"geohttpendpoint"`
	GeoHTTPTimeoutMs         int    `mapstructure:"geohttptimeoutms"`
	GeoHTTPRequestsPerMinute int    `mapstructure:"geohttprequestsperminute"`

	// Tracking settings
	TrackTimeoutSeconds int `mapstructure:"tracktimeoutseconds"`
	// TrackingOrigins lists the origins, comma separated, that host profile
	// pages on another site than the API. Empty means same-origin pages.
	TrackingOrigins string `mapstructure:"trackingorigins"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings
	RawEventsRetentionDays int `mapstructure:"raweventsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "linkfolio")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "web/dist/assets")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("geohttpenabled", true)
		v.SetDefault("geohttpendpoint", "https://ipapi.co/%s/json/")
		v.SetDefault("geohttptimeoutms", 3000)
		// ipapi.co free tier allows 1000 requests per day
		v.SetDefault("geohttprequestsperminute", 45)
		v.SetDefault("tracktimeoutseconds", 10)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("raweventsretentiondays", 90)

		v.BindEnv("appname", "LINKFOLIO_APP_NAME")
		v.BindEnv("appport", "LINKFOLIO_APP_PORT")
		v.BindEnv("environment", "LINKFOLIO_ENV")
		v.BindEnv("loglevel", "LINKFOLIO_LOG_LEVEL")
		v.BindEnv("privatekey", "LINKFOLIO_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "LINKFOLIO_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("domain", "LINKFOLIO_DOMAIN")
		v.BindEnv("apikeyhash", "LINKFOLIO_API_KEY_HASH")
		v.BindEnv("storagepath", "LINKFOLIO_STORAGE_PATH")
		v.BindEnv("geodbpath", "LINKFOLIO_GEO_DB_PATH")
		v.BindEnv("publicdir", "LINKFOLIO_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "LINKFOLIO_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "LINKFOLIO_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "LINKFOLIO_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "LINKFOLIO_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "LINKFOLIO_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "LINKFOLIO_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "LINKFOLIO_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "LINKFOLIO_DB_MAX_IDLE_CONNS")
		v.BindEnv("geohttpenabled", "LINKFOLIO_GEO_HTTP_ENABLED")
		v.BindEnv("geohttpendpoint", "LINKFOLIO_GEO_HTTP_ENDPOINT")
		v.BindEnv("geohttptimeoutms", "LINKFOLIO_GEO_HTTP_TIMEOUT_MS")
		v.BindEnv("geohttprequestsperminute", "LINKFOLIO_GEO_HTTP_REQUESTS_PER_MINUTE")
		v.BindEnv("tracktimeoutseconds", "LINKFOLIO_TRACK_TIMEOUT_SECONDS")
		v.BindEnv("trackingorigins", "LINKFOLIO_TRACKING_ORIGINS")
		v.BindEnv("jobintervalseconds", "LINKFOLIO_JOB_INTERVAL_SECONDS")
		v.BindEnv("raweventsretentiondays", "LINKFOLIO_RAW_EVENTS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

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

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique LINKFOLIO_PRIVATE_KEY (cannot use default)")
	}

	for _, origin := range c.TrackingOriginList() {
		if origin == "*" {
			return fmt.Errorf("tracking origins must be explicit, got %q", origin)
		}
	}

	if c.RawEventsRetentionDays < 1 {
		return fmt.Errorf("raw events retention must be at least one day, got %d", c.RawEventsRetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
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

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the visitor session timeout in seconds. It also
// bounds how long geo lookups are cached per address.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GeoCacheTTL is the per-address geo cache lifetime.
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// GeoHTTPTimeout bounds a single HTTP geo lookup.
func (c *Config) GeoHTTPTimeout() time.Duration {
	return time.Duration(c.GeoHTTPTimeoutMs) * time.Millisecond
}

// TrackTimeout bounds one event dispatch, geo lookup included.
func (c *Config) TrackTimeout() time.Duration {
	return time.Duration(c.TrackTimeoutSeconds) * time.Second
}

// TrackingOriginList returns the configured cross-site profile origins.
func (c *Config) TrackingOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(c.TrackingOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (concurrent dashboard reads)
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

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
