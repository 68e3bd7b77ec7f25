package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/cache"
	"github.com/BaSui01/llmguard/llm/dedup"
	"github.com/BaSui01/llmguard/llm/observability"
)

// CachingGenerator wraps a ContentGenerator with a response cache and an
// in-flight deduplicator. GenerateContent runs cache lookup, then
// deduplicated delegation, then cache write-back; streaming, token
// counting and embedding pass straight through (streams are consumed
// incrementally, so caching them would force full buffering).
type CachingGenerator struct {
	inner     llm.ContentGenerator
	cache     *cache.ResponseCache
	dedup     *dedup.Deduplicator
	metrics   *observability.PerformanceMetrics
	collector *observability.Collector

	now    func() time.Time
	logger *zap.Logger
}

// CachingGeneratorOptions carries the optional collaborators. Nil metrics
// and collector disable recording; nil cache or dedup disable that layer.
type CachingGeneratorOptions struct {
	Cache     *cache.ResponseCache
	Dedup     *dedup.Deduplicator
	Metrics   *observability.PerformanceMetrics
	Collector *observability.Collector
}

// NewCachingGenerator wraps inner. A nil logger is replaced with a nop
// logger.
func NewCachingGenerator(inner llm.ContentGenerator, opts CachingGeneratorOptions, logger *zap.Logger) *CachingGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingGenerator{
		inner:     inner,
		cache:     opts.Cache,
		dedup:     opts.Dedup,
		metrics:   opts.Metrics,
		collector: opts.Collector,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "caching_generator")),
	}
}

// GenerateContent serves identical requests from cache when fresh,
// coalesces concurrent identical misses onto one transport call, and
// caches only responses carrying at least one candidate. Errors and
// empty-candidate responses are never cached.
func (g *CachingGenerator) GenerateContent(ctx context.Context, req *llm.GenerateRequest, promptID string) (*llm.GenerateResponse, error) {
	key := llm.CacheKeyRecord(req)

	if g.cache != nil {
		if resp, ok := g.cache.Get(key); ok {
			g.observe(observability.RequestRecord{
				Model:       req.Model,
				RequestType: "generate",
				Cached:      true,
			})
			if g.collector != nil {
				g.collector.ObserveCacheHit()
			}
			return resp, nil
		}
		if g.collector != nil {
			g.collector.ObserveCacheMiss()
		}
	}

	start := g.now()
	resp, coalesced, err := g.call(ctx, req, promptID)
	elapsed := g.now().Sub(start)

	rec := observability.RequestRecord{
		Model:        req.Model,
		RequestType:  "generate",
		Deduped:      coalesced,
		ResponseTime: elapsed,
	}
	if err != nil {
		rec.Error = err.Error()
	} else if resp != nil {
		rec.TokenCount = resp.Usage.TotalTokens
	}
	g.observe(rec)

	if g.collector != nil {
		if coalesced {
			g.collector.ObserveDedup()
		}
		g.collector.ObserveRequest(req.Model, "generate", err, elapsed)
		if err == nil && resp != nil {
			g.collector.ObserveTokens(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
	}

	if err != nil {
		return nil, err
	}
	if g.cache != nil && resp != nil && len(resp.Candidates) > 0 {
		g.cache.Set(key, resp, 0)
	}
	return resp, nil
}

func (g *CachingGenerator) call(ctx context.Context, req *llm.GenerateRequest, promptID string) (*llm.GenerateResponse, bool, error) {
	fn := func() (*llm.GenerateResponse, error) {
		return g.inner.GenerateContent(ctx, req, promptID)
	}
	if g.dedup == nil {
		resp, err := fn()
		return resp, false, err
	}
	return g.dedup.DoRequest(ctx, req, fn)
}

// GenerateContentStream passes through uncached and undeduplicated.
func (g *CachingGenerator) GenerateContentStream(ctx context.Context, req *llm.GenerateRequest, promptID string) (<-chan llm.StreamChunk, error) {
	return g.inner.GenerateContentStream(ctx, req, promptID)
}

// CountTokens passes through uncached.
func (g *CachingGenerator) CountTokens(ctx context.Context, req *llm.CountTokensRequest) (*llm.CountTokensResponse, error) {
	return g.inner.CountTokens(ctx, req)
}

// EmbedContent passes through uncached.
func (g *CachingGenerator) EmbedContent(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return g.inner.EmbedContent(ctx, req)
}

func (g *CachingGenerator) observe(rec observability.RequestRecord) {
	if g.metrics == nil {
		return
	}
	g.metrics.Record(rec)
}
