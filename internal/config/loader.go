package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.ConnectAttempts <= 0 {
		errs = append(errs, "DB_CONNECT_ATTEMPTS must be positive")
	}

	// Watch validation
	if c.Watch.PollInterval <= 0 {
		errs = append(errs, "WATCH_POLL_INTERVAL must be positive")
	}
	if c.Watch.StabilityThreshold <= 0 {
		errs = append(errs, "WATCH_STABILITY_THRESHOLD must be positive")
	}
	dirs := map[string]string{
		"WATCH_REFERENCE_DIR":     c.Watch.ReferenceDir,
		"WATCH_NON_REFERENCE_DIR": c.Watch.NonReferenceDir,
		"WATCH_FULLLOAD_DIR":      c.Watch.FullloadDir,
		"WATCH_APPEND_DIR":        c.Watch.AppendDir,
		"WATCH_PROCESSED_DIR":     c.Watch.ProcessedDir,
		"WATCH_ERROR_DIR":         c.Watch.ErrorDir,
	}
	for _, name := range sortedKeys(dirs) {
		if v := dirs[name]; v == "" || strings.ContainsAny(v, `/\`) {
			errs = append(errs, fmt.Sprintf("%s (%q) must be a single folder name", name, v))
		}
	}
	if strings.EqualFold(c.Watch.ReferenceDir, c.Watch.NonReferenceDir) {
		errs = append(errs, "WATCH_REFERENCE_DIR and WATCH_NON_REFERENCE_DIR must differ")
	}
	if strings.EqualFold(c.Watch.FullloadDir, c.Watch.AppendDir) {
		errs = append(errs, "WATCH_FULLLOAD_DIR and WATCH_APPEND_DIR must differ")
	}

	// Ingest validation
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, "INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingest.MaxConcurrent <= 0 {
		errs = append(errs, "INGEST_MAX_CONCURRENT must be positive")
	}
	if c.Ingest.MaxWaitTime <= 0 {
		errs = append(errs, "INGEST_MAX_WAIT_TIME must be positive")
	}
	if c.Ingest.BatchTimeout < 0 {
		errs = append(errs, "INGEST_BATCH_TIMEOUT must be non-negative")
	}
	if c.Ingest.JobTimeout < 0 {
		errs = append(errs, "INGEST_JOB_TIMEOUT must be non-negative")
	}
	if c.Ingest.SampleLines <= 0 {
		errs = append(errs, "INGEST_SAMPLE_LINES must be positive")
	}
	switch d := c.Ingest.DefaultDelimiter; d {
	case ",", ";", "|", "\t", `\t`, "tab":
	default:
		errs = append(errs, fmt.Sprintf("INGEST_DEFAULT_DELIMITER (%q) must be one of: , ; | tab", d))
	}

	// Store validation
	if c.Store.ReferenceSchema == "" || c.Store.DataSchema == "" {
		errs = append(errs, "STORE_REFERENCE_SCHEMA and STORE_DATA_SCHEMA are required")
	}
	if c.Store.MatchThreshold <= 0 || c.Store.MatchThreshold > 1 {
		errs = append(errs, fmt.Sprintf("STORE_MATCH_THRESHOLD (%g) must be in (0, 1]", c.Store.MatchThreshold))
	}

	// Server validation
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
		}
		if c.Server.ReadTimeout < 0 {
			errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequireAPIKey && len(c.Server.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateWatch checks the settings only the drop folder loop needs.
func (c *Config) ValidateWatch() error {
	if c.Watch.Root == "" {
		return fmt.Errorf("WATCH_ROOT is required")
	}
	info, err := os.Stat(c.Watch.Root)
	if err != nil {
		return fmt.Errorf("WATCH_ROOT: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("WATCH_ROOT (%q) is not a directory", c.Watch.Root)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Watch: {Root: %q, PollInterval: %s, StabilityThreshold: %d}, ",
		c.Watch.Root, c.Watch.PollInterval, c.Watch.StabilityThreshold))
	b.WriteString(fmt.Sprintf("Ingest: {BatchSize: %d, MaxConcurrent: %d, JobTimeout: %s}, ",
		c.Ingest.BatchSize, c.Ingest.MaxConcurrent, c.Ingest.JobTimeout))
	b.WriteString(fmt.Sprintf("Store: {ReferenceSchema: %q, DataSchema: %q}, ",
		c.Store.ReferenceSchema, c.Store.DataSchema))
	b.WriteString(fmt.Sprintf("Server: {Enabled: %v, Host: %q, Port: %d}, ",
		c.Server.Enabled, c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
