package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache:      DefaultCacheConfig(),
		Dedup:      DedupConfig{Enabled: true},
		RateLimit:  DefaultRateLimitConfig(),
		Breaker:    DefaultBreakerConfig(),
		Fallback:   DefaultFallbackConfig(),
		Compressor: DefaultCompressorConfig(),
		Session:    DefaultSessionConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultCacheConfig returns the default response cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	}
}

// DefaultRateLimitConfig returns the default token bucket configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxTokens:  10,
		RefillRate: 1,
	}
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
	}
}

// DefaultFallbackConfig returns the default fallback chain configuration.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		MaxFailures:     3,
		RecoveryTimeout: 60 * time.Second,
		AutoRecovery:    true,
	}
}

// DefaultCompressorConfig returns the default compressor configuration.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		MaxTokens:           4000,
		CharsPerToken:       4,
		PreserveRecentTurns: 3,
		PreserveToolCalls:   true,
	}
}

// DefaultSessionConfig returns the default session persistence
// configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend: "file",
		Dir:     "./sessions",
		TTL:     7 * 24 * time.Hour,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: "sqlite",
		DSN:    "llmguard.db",
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "llmguard",
	}
}
