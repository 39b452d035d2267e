// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Watch    WatchConfig
	Ingest   IngestConfig
	Store    StoreConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectAttempts bounds connection acquisition retries (default: 3)
	ConnectAttempts int `env:"DB_CONNECT_ATTEMPTS" default:"3"`

	// ConnectTimeout is the deadline of one acquisition attempt (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// WatchConfig holds drop folder settings.
type WatchConfig struct {
	// Root is the watched drop folder (required for serve)
	Root string `env:"WATCH_ROOT" envAlt:"DROPZONE_ROOT"`

	// PollInterval is the time between scans (default: 15s)
	PollInterval time.Duration `env:"WATCH_POLL_INTERVAL" default:"15s"`

	// StabilityThreshold is the number of unchanged polls before a file is
	// ingested (default: 6)
	StabilityThreshold int `env:"WATCH_STABILITY_THRESHOLD" default:"6"`

	ReferenceDir    string `env:"WATCH_REFERENCE_DIR" default:"reference_data"`
	NonReferenceDir string `env:"WATCH_NON_REFERENCE_DIR" default:"non_reference_data"`
	FullloadDir     string `env:"WATCH_FULLLOAD_DIR" default:"fullload"`
	AppendDir       string `env:"WATCH_APPEND_DIR" default:"append"`
	ProcessedDir    string `env:"WATCH_PROCESSED_DIR" default:"processed"`
	ErrorDir        string `env:"WATCH_ERROR_DIR" default:"error"`

	// Notify enables filesystem notifications for early scans (default: true)
	Notify bool `env:"WATCH_NOTIFY" default:"true"`
}

// IngestConfig holds ingestion processing settings.
type IngestConfig struct {
	// BatchSize is the number of rows committed per batch (default: 990)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"990"`

	// MaxConcurrent is the maximum number of parallel ingestions (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a stable file waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// BatchTimeout is the deadline of one batch insert (default: 60s)
	BatchTimeout time.Duration `env:"INGEST_BATCH_TIMEOUT" default:"60s"`

	// JobTimeout is the maximum duration of one ingestion (default: 30m)
	JobTimeout time.Duration `env:"INGEST_JOB_TIMEOUT" default:"30m"`

	// SampleLines is the number of lines read for format detection (default: 10)
	SampleLines int `env:"INGEST_SAMPLE_LINES" default:"10"`

	// PreCount counts rows before loading so progress has a total (default: true)
	PreCount bool `env:"INGEST_PRE_COUNT" default:"true"`

	// DefaultDelimiter is used when detection is not confident (default: ",")
	DefaultDelimiter string `env:"INGEST_DEFAULT_DELIMITER" default:","`

	// DefaultHasHeader is used when detection is not confident (default: true)
	DefaultHasHeader bool `env:"INGEST_DEFAULT_HAS_HEADER" default:"true"`

	// KeepSource leaves processed files in place instead of moving them
	KeepSource bool `env:"INGEST_KEEP_SOURCE" default:"false"`

	// JobRetention is how long finished jobs stay queryable (default: 10m)
	JobRetention time.Duration `env:"INGEST_JOB_RETENTION" default:"10m"`
}

// StoreConfig holds target schema settings.
type StoreConfig struct {
	// ReferenceSchema receives reference data (default: reference)
	ReferenceSchema string `env:"STORE_REFERENCE_SCHEMA" default:"reference"`

	// DataSchema receives non-reference data (default: public)
	DataSchema string `env:"STORE_DATA_SCHEMA" default:"public"`

	// MatchThreshold is the minimum schema match reported (default: 0.7)
	MatchThreshold float64 `env:"STORE_MATCH_THRESHOLD" default:"0.7"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Enabled starts the status API alongside the watcher (default: true)
	Enabled bool `env:"SERVER_ENABLED" default:"true"`

	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0s).
	// 0 disables it; job event streams stay open as long as the job runs.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey protects the cancel endpoint with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Delimiter returns the default delimiter as a rune.
func (c *IngestConfig) Delimiter() rune {
	if c.DefaultDelimiter == `\t` || c.DefaultDelimiter == "tab" {
		return '\t'
	}
	for _, r := range c.DefaultDelimiter {
		return r
	}
	return ','
}
