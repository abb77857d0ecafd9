// Package config provides configuration loading and validation for the
// signing service binaries. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/esign/internal/validate"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageS3     = "s3"
	StorageGCS    = "gcs"
)

// Notification queues.
const (
	QueueLog   = "log"
	QueueRedis = "redis"
)

// Config holds all configuration values for the API server and reminder job.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Staff JWT authentication. The previous secret is accepted during rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Document storage
	StorageBackend    string `koanf:"storage_backend"`
	S3Bucket          string `koanf:"s3_bucket"`
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3Region          string `koanf:"s3_region"`
	GCSBucket         string `koanf:"gcs_bucket"`

	// Redis backs portal rate limits, idempotency keys and the notification queue.
	RedisURL string `koanf:"redis_url"`

	// Signing workflow
	TokenTTLDays                int    `koanf:"token_ttl_days"`
	SessionIdleMinutes          int    `koanf:"session_idle_minutes"`
	DefaultReminderIntervalDays int    `koanf:"default_reminder_interval_days"`
	ReminderTickSeconds         int    `koanf:"reminder_tick_seconds"` // 0 disables the in-process job
	PortalBaseURL               string `koanf:"portal_base_url"`
	NotificationQueue           string `koanf:"notification_queue"`

	// MetricsToken, when set, must be sent as X-Internal-Token to read /metrics.
	MetricsToken string `koanf:"metrics_token"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required in production")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingPortalBaseURL     = errors.New("PORTAL_BASE_URL is required")
	ErrInvalidPortalBaseURL     = errors.New("PORTAL_BASE_URL must be an absolute http(s) URL, https in production")
	ErrInvalidStorageBackend    = errors.New("STORAGE_BACKEND must be one of memory, s3, gcs")
	ErrMemoryStorageInProd      = errors.New("STORAGE_BACKEND=memory is not allowed in production")
	ErrMissingS3Bucket          = errors.New("S3_BUCKET is required for the s3 backend")
	ErrMissingS3AccessKeyID     = errors.New("S3_ACCESS_KEY_ID is required for the s3 backend")
	ErrMissingS3SecretAccessKey = errors.New("S3_SECRET_ACCESS_KEY is required for the s3 backend")
	ErrMissingGCSBucket         = errors.New("GCS_BUCKET is required for the gcs backend")
	ErrInvalidNotificationQueue = errors.New("NOTIFICATION_QUEUE must be one of log, redis")
	ErrMissingRedisURL          = errors.New("REDIS_URL is required for the redis notification queue")
	ErrInvalidTokenTTL          = errors.New("TOKEN_TTL_DAYS must be positive")
	ErrInvalidSessionIdle       = errors.New("SESSION_IDLE_MINUTES must be positive")
	ErrInvalidReminderInterval  = errors.New("DEFAULT_REMINDER_INTERVAL_DAYS must be positive")
	ErrInvalidReminderTick      = errors.New("REMINDER_TICK_SECONDS must not be negative")
	ErrInvalidSampleRate        = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidTracingExporter   = errors.New("TRACING_EXPORTER must be one of otlp-grpc, otlp-http")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrInvalidNumber            = errors.New("value must be a valid number")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultStorageBackend       = StorageMemory
	DefaultS3Region             = "auto"
	DefaultTokenTTLDays         = 30
	DefaultSessionIdleMinutes   = 30
	DefaultReminderIntervalDays = 3
	DefaultReminderTickSeconds  = 300
	DefaultNotificationQueue    = QueueLog
	DefaultTracingExporter      = "otlp-grpc"
	DefaultTracingSampleRate    = 0.1
	EnvProduction               = "production"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	intValue := func(envKeys []string, key string, def int) int {
		v, err := getEnvIntOrDefaultMulti(envKeys, k.Int(key), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}

	// ESIGN_PORT first, then PORT for platforms that inject it
	port := intValue([]string{"ESIGN_PORT", "PORT"}, "port", DefaultPort)
	tokenTTL := intValue([]string{"TOKEN_TTL_DAYS"}, "token_ttl_days", DefaultTokenTTLDays)
	sessionIdle := intValue([]string{"SESSION_IDLE_MINUTES"}, "session_idle_minutes", DefaultSessionIdleMinutes)
	reminderDays := intValue([]string{"DEFAULT_REMINDER_INTERVAL_DAYS"}, "default_reminder_interval_days", DefaultReminderIntervalDays)

	// Zero is meaningful for the tick (disabled), so presence decides the default.
	reminderTick := DefaultReminderTickSeconds
	if k.Exists("reminder_tick_seconds") {
		reminderTick = k.Int("reminder_tick_seconds")
	}
	if val := os.Getenv("REMINDER_TICK_SECONDS"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("REMINDER_TICK_SECONDS: %w", ErrInvalidNumber))
		} else {
			reminderTick = i
		}
	}

	sampleFromFile := DefaultTracingSampleRate
	if k.Exists("tracing_sample_rate") {
		sampleFromFile = k.Float64("tracing_sample_rate")
	}
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", sampleFromFile)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		tracingEnabled = parseBool(val, tracingEnabled)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                        port,
		Env:                         getEnvOrDefaultMulti([]string{"ESIGN_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:                 getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:                   getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:           getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		StorageBackend:              strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", k.String("storage_backend"), DefaultStorageBackend)),
		S3Bucket:                    getEnvOrKoanf("S3_BUCKET", k, "s3_bucket"),
		S3Endpoint:                  getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3AccessKeyID:               getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey:           getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3Region:                    getEnvOrDefault("S3_REGION", k.String("s3_region"), DefaultS3Region),
		GCSBucket:                   getEnvOrKoanf("GCS_BUCKET", k, "gcs_bucket"),
		RedisURL:                    getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		TokenTTLDays:                tokenTTL,
		SessionIdleMinutes:          sessionIdle,
		DefaultReminderIntervalDays: reminderDays,
		ReminderTickSeconds:         reminderTick,
		PortalBaseURL:               strings.TrimSuffix(getEnvOrKoanf("PORTAL_BASE_URL", k, "portal_base_url"), "/"),
		NotificationQueue:           strings.ToLower(getEnvOrDefault("NOTIFICATION_QUEUE", k.String("notification_queue"), DefaultNotificationQueue)),
		MetricsToken:                getEnvOrKoanf("METRICS_TOKEN", k, "metrics_token"),
		TracingEnabled:              tracingEnabled,
		TracingExporter:             getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:                getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", k.String("otlp_endpoint"), ""),
		TracingSampleRate:           sampleRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// TokenTTL returns the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

// SessionIdle returns the signing session idle timeout.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// ReminderTick returns the reminder job interval; zero means disabled.
func (c *Config) ReminderTick() time.Duration {
	return time.Duration(c.ReminderTickSeconds) * time.Second
}

// PortalOrigin returns the scheme and host of PortalBaseURL, the only browser
// origin allowed to call the signing portal.
func (c *Config) PortalOrigin() string {
	u, err := url.Parse(c.PortalBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
// A zero from the file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				if key == "PORT" || key == "ESIGN_PORT" {
					return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
				}
				return 0, fmt.Errorf("%s: %w", key, ErrInvalidNumber)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise fallback.
func getEnvFloatOrDefault(envKey string, fallback float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	return fallback, nil
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// Validate checks that all required configuration values are present and
// consistent. Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.DatabaseURL == "" && c.IsProduction() {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	if c.PortalBaseURL == "" {
		errs = append(errs, ErrMissingPortalBaseURL)
	} else if _, err := validate.PortalBaseURL(c.PortalBaseURL, c.IsProduction()); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidPortalBaseURL, err))
	}

	switch c.StorageBackend {
	case StorageMemory:
		if c.IsProduction() {
			errs = append(errs, ErrMemoryStorageInProd)
		}
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, ErrMissingS3Bucket)
		}
		if c.S3AccessKeyID == "" {
			errs = append(errs, ErrMissingS3AccessKeyID)
		}
		if c.S3SecretAccessKey == "" {
			errs = append(errs, ErrMissingS3SecretAccessKey)
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			errs = append(errs, ErrMissingGCSBucket)
		}
	default:
		errs = append(errs, ErrInvalidStorageBackend)
	}

	switch c.NotificationQueue {
	case QueueLog:
	case QueueRedis:
		if c.RedisURL == "" {
			errs = append(errs, ErrMissingRedisURL)
		}
	default:
		errs = append(errs, ErrInvalidNotificationQueue)
	}

	if c.TokenTTLDays <= 0 {
		errs = append(errs, ErrInvalidTokenTTL)
	}
	if c.SessionIdleMinutes <= 0 {
		errs = append(errs, ErrInvalidSessionIdle)
	}
	if c.DefaultReminderIntervalDays <= 0 {
		errs = append(errs, ErrInvalidReminderInterval)
	}
	if c.ReminderTickSeconds < 0 {
		errs = append(errs, ErrInvalidReminderTick)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
		errs = append(errs, ErrInvalidTracingExporter)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                           strconv.Itoa(c.Port),
		"env":                            c.Env,
		"database_url":                   maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":                     maskSecret(c.JWTSecret),
		"jwt_previous_secret":            maskSecret(c.JWTPreviousSecret),
		"storage_backend":                c.StorageBackend,
		"s3_bucket":                      c.S3Bucket,
		"s3_endpoint":                    c.S3Endpoint,
		"s3_access_key_id":               maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":           maskSecret(c.S3SecretAccessKey),
		"s3_region":                      c.S3Region,
		"gcs_bucket":                     c.GCSBucket,
		"redis_url":                      maskDatabaseURL(c.RedisURL),
		"token_ttl_days":                 strconv.Itoa(c.TokenTTLDays),
		"session_idle_minutes":           strconv.Itoa(c.SessionIdleMinutes),
		"default_reminder_interval_days": strconv.Itoa(c.DefaultReminderIntervalDays),
		"reminder_tick_seconds":          strconv.Itoa(c.ReminderTickSeconds),
		"portal_base_url":                c.PortalBaseURL,
		"notification_queue":             c.NotificationQueue,
		"metrics_token":                  maskSecret(c.MetricsToken),
		"tracing_enabled":                strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":               c.TracingExporter,
		"otlp_endpoint":                  c.OTLPEndpoint,
		"tracing_sample_rate":            strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// URLs.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
