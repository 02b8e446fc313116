// Package config provides configuration management for transcribebridge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort            = 8080
	defaultServerTimeout         = 30 * time.Second
	defaultShutdownTimeout       = 10 * time.Second
	defaultMaxOpenConns          = 25
	defaultMaxIdleConns          = 10
	defaultConnMaxIdleTime       = 30 * time.Minute
	defaultMaxUploadSizeBytes    = 500 * 1024 * 1024 // 500MB
	defaultQueueMaxConcurrent    = 8
	defaultQueueMaxAttempts      = 3
	defaultQueueBaseDelay        = 1 * time.Second
	defaultQueueBackoffMult      = 2.0
	defaultQueueMaxDelay         = 30 * time.Second
	defaultSegmentDurationMin    = 15
	defaultProviderTimeout       = 5 * time.Minute
	defaultProviderModelID       = "scribe_v1"
	defaultBreakerThreshold      = 5
	defaultBreakerRecoveryWindow = 60 * time.Second
	defaultDeliveryMaxAttempts   = 5
	defaultDeliveryTimeout       = 30 * time.Second
	defaultDeliveryBaseDelayMs   = 1000
	defaultDeliveryMaxDelayMs    = 60000
	defaultPumpInterval          = 100 * time.Millisecond
	defaultCleanupIntervalHours  = 24
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Provider ProviderConfig `mapstructure:"provider"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Pump     PumpConfig     `mapstructure:"pump"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`

	// CallbackBaseURL is the externally reachable base URL of this
	// service; the provider's preconfigured webhook points here.
	CallbackBaseURL string `mapstructure:"callback_base_url"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	UploadsDir   string `mapstructure:"uploads_dir"`
	ConvertedDir string `mapstructure:"converted_dir"`
	SegmentsDir  string `mapstructure:"segments_dir"`
	// Retention is how long terminal tasks' blobs are kept before the
	// cleanup job removes them. Supports "7d" style values.
	Retention Duration `mapstructure:"retention"`
	// MaxUploadSize is the maximum allowed size for an audio upload.
	// Supports human-readable values like "500MB" or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds segment queue configuration.
type QueueConfig struct {
	// MaxConcurrent is the number of segments in flight at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxAttempts is the per-segment attempts budget.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the first retry delay.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// CompletionPolicy is "strict" (any failed segment fails the task)
	// or "lenient" (assemble from completed segments alone).
	CompletionPolicy string `mapstructure:"completion_policy"`
}

// ProviderConfig holds transcription provider configuration.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	ModelID string `mapstructure:"model_id"`
	// WebhookSecret verifies inbound provider callbacks. Empty disables
	// verification (dev-mode permissive, logged as a warning).
	WebhookSecret string `mapstructure:"webhook_secret"`
	// Timeout bounds one dispatch call; generous for large audio.
	Timeout time.Duration `mapstructure:"timeout"`
	// SegmentDurationMinutes is the split length the upstream splitter
	// uses; recorded here so path helpers and validation agree with it.
	SegmentDurationMinutes int `mapstructure:"segment_duration_minutes"`
	LanguageCode           string `mapstructure:"language_code"`
	Diarize                bool   `mapstructure:"diarize"`
	TagAudioEvents         bool   `mapstructure:"tag_audio_events"`

	// Circuit breaker settings for the provider dependency.
	BreakerFailureThreshold int           `mapstructure:"breaker_failure_threshold"`
	BreakerRecoveryTimeout  time.Duration `mapstructure:"breaker_recovery_timeout"`
	BreakerExpectedErrors   []string      `mapstructure:"breaker_expected_errors"`
}

// DeliveryConfig holds client webhook delivery configuration.
type DeliveryConfig struct {
	// SigningSecret keys the HMAC-SHA256 signature on outbound payloads.
	SigningSecret string `mapstructure:"signing_secret"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `mapstructure:"timeout"`
	// BaseDelayMs and MaxDelayMs shape the retry schedule:
	// min(base * 2^(k-2), max) before attempt k, jittered +/-25%.
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// PumpConfig holds the internal queue pump configuration. Serverless
// deployments disable it and drive the queue via the pump endpoint.
type PumpConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// CleanupConfig holds the periodic cleanup configuration.
type CleanupConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TRANSCRIBEBRIDGE_ and use
// underscores for nesting. Example: TRANSCRIBEBRIDGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadUnvalidated reads configuration like Load but skips validation, so
// inspection commands can render configs that are not yet runnable.
func LoadUnvalidated(configPath string) (*Config, error) {
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/transcribebridge")
		v.AddConfigPath("$HOME/.transcribebridge")
	}

	// Environment variable settings
	v.SetEnvPrefix("TRANSCRIBEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// Viper's stock decode hooks never consult UnmarshalText, so the
	// Duration and ByteSize fields need the text-unmarshaller hook to
	// accept "7d" or "500MB" style values.
	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.callback_base_url", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "transcribebridge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.uploads_dir", "uploads")
	v.SetDefault("storage.converted_dir", "converted")
	v.SetDefault("storage.segments_dir", "segments")
	v.SetDefault("storage.retention", "7d")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSizeBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Queue defaults
	v.SetDefault("queue.max_concurrent", defaultQueueMaxConcurrent)
	v.SetDefault("queue.max_attempts", defaultQueueMaxAttempts)
	v.SetDefault("queue.base_delay", defaultQueueBaseDelay)
	v.SetDefault("queue.backoff_multiplier", defaultQueueBackoffMult)
	v.SetDefault("queue.max_delay", defaultQueueMaxDelay)
	v.SetDefault("queue.completion_policy", "strict")

	// Provider defaults
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "https://api.elevenlabs.io")
	v.SetDefault("provider.model_id", defaultProviderModelID)
	v.SetDefault("provider.webhook_secret", "")
	v.SetDefault("provider.timeout", defaultProviderTimeout)
	v.SetDefault("provider.segment_duration_minutes", defaultSegmentDurationMin)
	v.SetDefault("provider.language_code", "")
	v.SetDefault("provider.diarize", false)
	v.SetDefault("provider.tag_audio_events", false)
	v.SetDefault("provider.breaker_failure_threshold", defaultBreakerThreshold)
	v.SetDefault("provider.breaker_recovery_timeout", defaultBreakerRecoveryWindow)
	v.SetDefault("provider.breaker_expected_errors", []string{})

	// Delivery defaults
	v.SetDefault("delivery.signing_secret", "")
	v.SetDefault("delivery.max_attempts", defaultDeliveryMaxAttempts)
	v.SetDefault("delivery.timeout", defaultDeliveryTimeout)
	v.SetDefault("delivery.base_delay_ms", defaultDeliveryBaseDelayMs)
	v.SetDefault("delivery.max_delay_ms", defaultDeliveryMaxDelayMs)

	// Pump defaults
	v.SetDefault("pump.enabled", true)
	v.SetDefault("pump.interval", defaultPumpInterval)

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval_hours", defaultCleanupIntervalHours)
}

// Validate checks the configuration for errors. Missing provider
// credentials, store configuration, or the callback base URL are
// startup-time fatal.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.CallbackBaseURL == "" {
		return fmt.Errorf("server.callback_base_url is required")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Queue validation
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.BackoffMultiplier < 1 {
		return fmt.Errorf("queue.backoff_multiplier must be at least 1")
	}
	if c.Queue.CompletionPolicy != "strict" && c.Queue.CompletionPolicy != "lenient" {
		return fmt.Errorf("queue.completion_policy must be one of: strict, lenient")
	}

	// Provider validation
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.SegmentDurationMinutes < 1 {
		return fmt.Errorf("provider.segment_duration_minutes must be at least 1")
	}

	// Delivery validation
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UploadsPath returns the full path to the uploads directory.
func (c *StorageConfig) UploadsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.UploadsDir)
}

// ConvertedPath returns the full path to the converted-audio directory.
func (c *StorageConfig) ConvertedPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.ConvertedDir)
}

// SegmentsPath returns the full path to the segments directory.
func (c *StorageConfig) SegmentsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.SegmentsDir)
}

// Strict reports whether the strict completion policy is in force.
func (c *QueueConfig) Strict() bool {
	return c.CompletionPolicy != "lenient"
}
