package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete llmguard configuration.
type Config struct {
	// Cache configures the response cache.
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Dedup configures in-flight request deduplication.
	Dedup DedupConfig `yaml:"dedup" env:"DEDUP"`

	// RateLimit configures the token-bucket admission control.
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Fallback configures the model fallback chain.
	Fallback FallbackConfig `yaml:"fallback" env:"FALLBACK"`

	// Compressor configures history compression.
	Compressor CompressorConfig `yaml:"compressor" env:"COMPRESSOR"`

	// Session configures session persistence.
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Redis configures the optional hot stores.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the relational session archive.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures Prometheus export.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// CacheConfig covers the response cache.
type CacheConfig struct {
	// Enabled turns the cache layer on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// TTL is the default entry freshness window.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// MaxEntries bounds the cache size.
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// SweepInterval enables the optional background stale-entry sweep
	// when positive.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// DedupConfig covers request deduplication.
type DedupConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// RateLimitConfig covers the token bucket.
type RateLimitConfig struct {
	// MaxTokens is the bucket ceiling.
	MaxTokens float64 `yaml:"max_tokens" env:"MAX_TOKENS"`
	// RefillRate is tokens per second.
	RefillRate float64 `yaml:"refill_rate" env:"REFILL_RATE"`
}

// BreakerConfig covers the circuit breaker.
type BreakerConfig struct {
	FailureThreshold     int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessRateThreshold float64       `yaml:"success_rate_threshold" env:"SUCCESS_RATE_THRESHOLD"`
	Window               time.Duration `yaml:"window" env:"WINDOW"`
	ResetTimeout         time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
}

// FallbackModel is one registered model in the fallback chain.
type FallbackModel struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority"`
}

// FallbackConfig covers the model fallback chain.
type FallbackConfig struct {
	MaxFailures     int             `yaml:"max_failures" env:"MAX_FAILURES"`
	RecoveryTimeout time.Duration   `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	AutoRecovery    bool            `yaml:"auto_recovery" env:"AUTO_RECOVERY"`
	Models          []FallbackModel `yaml:"models" env:"-"`
}

// CompressorConfig covers transcript compression.
type CompressorConfig struct {
	MaxTokens           int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	CharsPerToken       float64 `yaml:"chars_per_token" env:"CHARS_PER_TOKEN"`
	PreserveRecentTurns int     `yaml:"preserve_recent_turns" env:"PRESERVE_RECENT_TURNS"`
	PreserveToolCalls   bool    `yaml:"preserve_tool_calls" env:"PRESERVE_TOOL_CALLS"`
}

// SessionConfig covers session persistence.
type SessionConfig struct {
	// Backend selects the store: file, redis, db.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Dir is the FileStore directory.
	Dir string `yaml:"dir" env:"DIR"`
	// TTL expires sessions measured from last activity; 0 never expires.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig covers the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig covers the relational archive.
type DatabaseConfig struct {
	// Driver selects the gorm driver; sqlite is the default.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" env:"DSN"`
}

// LogConfig covers structured logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// MetricsConfig covers Prometheus export.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with builder-style setup.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the LLMGUARD env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LLMGUARD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML file, then
// environment overrides, then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file falls back to defaults.
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				// Bare integers are read as milliseconds, matching the
				// conventional TTL flag form.
				ms, msErr := strconv.ParseInt(value, 10, 64)
				if msErr != nil {
					return err
				}
				field.SetInt(int64(time.Duration(ms) * time.Millisecond))
				return nil
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []string

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, "cache.max_entries must be positive")
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.RateLimit.MaxTokens <= 0 || c.RateLimit.RefillRate <= 0 {
		errs = append(errs, "rate_limit values must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessRateThreshold < 0 || c.Breaker.SuccessRateThreshold > 1 {
		errs = append(errs, "breaker.success_rate_threshold must be within [0,1]")
	}
	if c.Compressor.PreserveRecentTurns < 0 {
		errs = append(errs, "compressor.preserve_recent_turns must not be negative")
	}
	switch c.Session.Backend {
	case "file", "redis", "db":
	default:
		errs = append(errs, fmt.Sprintf("unknown session backend %q", c.Session.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
