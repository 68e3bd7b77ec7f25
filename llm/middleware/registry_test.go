package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm/cache"
	"github.com/BaSui01/llmguard/llm/circuitbreaker"
	"github.com/BaSui01/llmguard/llm/compress"
	"github.com/BaSui01/llmguard/llm/fallback"
	"github.com/BaSui01/llmguard/llm/ratelimit"
)

func TestRegistry_GetOrCreateSemantics(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	c1 := r.Cache("chat", cache.Options{})
	c2 := r.Cache("chat", cache.Options{})
	assert.Same(t, c1, c2, "same key returns the same instance")

	other := r.Cache("embeddings", cache.Options{})
	assert.NotSame(t, c1, other, "distinct keys get distinct instances")
}

func TestRegistry_OptionsOnlyApplyOnCreation(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	size := 5
	c1 := r.Cache("chat", cache.Options{MaxSize: &size})
	bigger := 50
	c2 := r.Cache("chat", cache.Options{MaxSize: &bigger})
	assert.Same(t, c1, c2)

	// Fill beyond the original bound; the first creation's options hold.
	for i := 0; i < 10; i++ {
		c2.Set(string(rune('a'+i)), nil, 0)
	}
	assert.LessOrEqual(t, c2.Size(), 5)
}

func TestRegistry_AllComponentKinds(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	assert.Same(t, r.Dedup("x"), r.Dedup("x"))
	assert.Same(t, r.Limiter("x", ratelimit.Options{}), r.Limiter("x", ratelimit.Options{}))
	assert.Same(t, r.Breaker("x", circuitbreaker.Config{}), r.Breaker("x", circuitbreaker.Config{}))
	assert.Same(t, r.Fallback("x", fallback.Options{}), r.Fallback("x", fallback.Options{}))
	assert.Same(t, r.Compressor("x", compress.Options{}), r.Compressor("x", compress.Options{}))
}

func TestRegistry_ResetDropsInstances(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	before := r.Cache("chat", cache.Options{})
	before.Set("k", nil, 0)

	r.Reset()

	after := r.Cache("chat", cache.Options{})
	assert.NotSame(t, before, after, "reset forgets prior instances")
	assert.Zero(t, after.Size())
}
