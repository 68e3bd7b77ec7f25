package middleware

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/llmguard/config"
	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/cache"
	"github.com/BaSui01/llmguard/llm/circuitbreaker"
	"github.com/BaSui01/llmguard/llm/compress"
	"github.com/BaSui01/llmguard/llm/dedup"
	"github.com/BaSui01/llmguard/llm/fallback"
	"github.com/BaSui01/llmguard/llm/observability"
	"github.com/BaSui01/llmguard/llm/ratelimit"
	"github.com/BaSui01/llmguard/llm/session"
)

// defaultComponentKey names the registry slot the stack components live in.
const defaultComponentKey = "default"

// Stack is the component set assembled from one configuration. It is the
// bridge between the config package and the component instances: the
// process entry point builds one Stack and passes the pieces (or the whole
// stack) to its consumers.
type Stack struct {
	Registry   *Registry
	Cache      *cache.ResponseCache
	Dedup      *dedup.Deduplicator
	Limiter    *ratelimit.Limiter
	Breaker    *circuitbreaker.Breaker
	Fallback   *fallback.Manager
	Compressor *compress.Compressor
	Metrics    *observability.PerformanceMetrics
	Collector  *observability.Collector
	Sessions   *session.Manager

	rdb    *redis.Client
	logger *zap.Logger
}

// FromConfig assembles the stack cfg describes. The Prometheus registerer
// is injected the same way the Collector takes it: nil selects the default
// registerer; the collector is only built when metrics are enabled. A nil
// logger is replaced with a nop logger.
func FromConfig(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := NewRegistry(logger)
	s := &Stack{Registry: r, logger: logger}

	s.Cache = r.Cache(defaultComponentKey, cache.Options{
		Enabled: &cfg.Cache.Enabled,
		TTL:     &cfg.Cache.TTL,
		MaxSize: &cfg.Cache.MaxEntries,
	})

	s.Dedup = r.Dedup(defaultComponentKey)
	s.Dedup.SetEnabled(cfg.Dedup.Enabled)

	s.Limiter = r.Limiter(defaultComponentKey, ratelimit.Options{
		MaxTokens:  &cfg.RateLimit.MaxTokens,
		RefillRate: &cfg.RateLimit.RefillRate,
	})

	s.Breaker = r.Breaker(defaultComponentKey, circuitbreaker.Config{
		FailureThreshold:     cfg.Breaker.FailureThreshold,
		SuccessRateThreshold: cfg.Breaker.SuccessRateThreshold,
		Window:               cfg.Breaker.Window,
		ResetTimeout:         cfg.Breaker.ResetTimeout,
	})

	s.Fallback = r.Fallback(defaultComponentKey, fallback.Options{
		MaxFailures:     &cfg.Fallback.MaxFailures,
		RecoveryTimeout: &cfg.Fallback.RecoveryTimeout,
		AutoRecovery:    &cfg.Fallback.AutoRecovery,
	})
	for _, m := range cfg.Fallback.Models {
		s.Fallback.AddModel(fallback.ModelConfig{ID: m.ID, Priority: m.Priority})
	}

	s.Compressor = r.Compressor(defaultComponentKey, compress.Options{
		MaxTokens:           &cfg.Compressor.MaxTokens,
		CharsPerToken:       &cfg.Compressor.CharsPerToken,
		PreserveRecentTurns: &cfg.Compressor.PreserveRecentTurns,
		PreserveToolCalls:   &cfg.Compressor.PreserveToolCalls,
	})

	s.Metrics = observability.NewPerformanceMetrics(0, logger)
	if cfg.Metrics.Enabled {
		s.Collector = observability.NewCollector(cfg.Metrics.Namespace, reg)
	}

	store, err := s.buildSessionStore(cfg, logger)
	if err != nil {
		r.Reset()
		return nil, err
	}
	s.Sessions = session.NewManager(store, s.Compressor, logger)

	if cfg.Cache.SweepInterval > 0 {
		s.Cache.StartSweep(cfg.Cache.SweepInterval)
	}
	return s, nil
}

func (s *Stack) buildSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case "file":
		return session.NewFileStore(cfg.Session.Dir, cfg.Session.TTL, logger)
	case "redis":
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		return session.NewRedisStore(s.rdb, cfg.Session.TTL, logger), nil
	case "db":
		if cfg.Database.Driver != "sqlite" {
			return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
		}
		db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		return session.NewGormStore(db, cfg.Session.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// Wrap decorates inner with the stack's cache, dedup and metrics layers.
func (s *Stack) Wrap(inner llm.ContentGenerator) *CachingGenerator {
	return NewCachingGenerator(inner, CachingGeneratorOptions{
		Cache:     s.Cache,
		Dedup:     s.Dedup,
		Metrics:   s.Metrics,
		Collector: s.Collector,
	}, s.logger)
}

// Close stops background sweeps and releases connections the stack owns.
func (s *Stack) Close() error {
	s.Registry.Reset()
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
