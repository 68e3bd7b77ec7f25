package middleware

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm/cache"
	"github.com/BaSui01/llmguard/llm/circuitbreaker"
	"github.com/BaSui01/llmguard/llm/compress"
	"github.com/BaSui01/llmguard/llm/dedup"
	"github.com/BaSui01/llmguard/llm/fallback"
	"github.com/BaSui01/llmguard/llm/ratelimit"
)

// Registry owns shared component instances keyed by string, constructed
// once by the process entry point and passed by reference to every
// consumer. Each accessor has get-or-create semantics: the options only
// apply on first creation of a key.
type Registry struct {
	mu     sync.Mutex
	logger *zap.Logger

	caches      map[string]*cache.ResponseCache
	dedups      map[string]*dedup.Deduplicator
	limiters    map[string]*ratelimit.Limiter
	breakers    map[string]*circuitbreaker.Breaker
	fallbacks   map[string]*fallback.Manager
	compressors map[string]*compress.Compressor
}

// NewRegistry creates an empty registry. A nil logger is replaced with a
// nop logger.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	r.init()
	return r
}

func (r *Registry) init() {
	r.caches = make(map[string]*cache.ResponseCache)
	r.dedups = make(map[string]*dedup.Deduplicator)
	r.limiters = make(map[string]*ratelimit.Limiter)
	r.breakers = make(map[string]*circuitbreaker.Breaker)
	r.fallbacks = make(map[string]*fallback.Manager)
	r.compressors = make(map[string]*compress.Compressor)
}

// Cache returns the response cache for key, creating it on first use.
func (r *Registry) Cache(key string, opts cache.Options) *cache.ResponseCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[key]; ok {
		return c
	}
	c := cache.New(opts, r.logger)
	r.caches[key] = c
	return c
}

// Dedup returns the deduplicator for key, creating it on first use.
func (r *Registry) Dedup(key string) *dedup.Deduplicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dedups[key]; ok {
		return d
	}
	d := dedup.New(r.logger)
	r.dedups[key] = d
	return d
}

// Limiter returns the rate limiter for key, creating it on first use.
func (r *Registry) Limiter(key string, opts ratelimit.Options) *ratelimit.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := ratelimit.New(opts, r.logger)
	r.limiters[key] = l
	return l
}

// Breaker returns the circuit breaker for key, creating it on first use.
func (r *Registry) Breaker(key string, config circuitbreaker.Config) *circuitbreaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := circuitbreaker.New(config, r.logger)
	r.breakers[key] = b
	return b
}

// Fallback returns the fallback manager for key, creating it on first use.
func (r *Registry) Fallback(key string, opts fallback.Options) *fallback.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fallbacks[key]; ok {
		return f
	}
	f := fallback.New(opts, r.logger)
	r.fallbacks[key] = f
	return f
}

// Compressor returns the history compressor for key, creating it on first
// use.
func (r *Registry) Compressor(key string, opts compress.Options) *compress.Compressor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.compressors[key]; ok {
		return c
	}
	c := compress.New(opts, r.logger)
	r.compressors[key] = c
	return c
}

// Reset drops every instance. Background sweeps on registered caches are
// stopped first so no goroutines leak.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.caches {
		c.StopSweep()
	}
	r.init()
}
