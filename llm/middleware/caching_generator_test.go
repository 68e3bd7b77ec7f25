package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/cache"
	"github.com/BaSui01/llmguard/llm/dedup"
	"github.com/BaSui01/llmguard/llm/observability"
)

// fakeGenerator is a scriptable transport.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     atomic.Int64
	responses map[string]*llm.GenerateResponse
	err       error
	block     chan struct{}
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{responses: make(map[string]*llm.GenerateResponse)}
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, req *llm.GenerateRequest, promptID string) (*llm.GenerateResponse, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[req.Model]; ok {
		return resp, nil
	}
	return &llm.GenerateResponse{
		Model:      req.Model,
		Candidates: []llm.Candidate{{Content: llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: "out"}}}}},
		Usage:      llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeGenerator) GenerateContentStream(ctx context.Context, req *llm.GenerateRequest, promptID string) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Model: req.Model, Delta: llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: "chunk"}}}}
	close(ch)
	return ch, nil
}

func (f *fakeGenerator) CountTokens(ctx context.Context, req *llm.CountTokensRequest) (*llm.CountTokensResponse, error) {
	return &llm.CountTokensResponse{TotalTokens: 42}, nil
}

func (f *fakeGenerator) EmbedContent(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return &llm.EmbedResponse{}, nil
}

func request(model, text string) *llm.GenerateRequest {
	return &llm.GenerateRequest{
		Model:    model,
		Contents: []llm.Content{{Role: llm.RoleUser, Parts: []llm.Part{{Text: text}}}},
	}
}

func newWrapped(inner llm.ContentGenerator) (*CachingGenerator, *observability.PerformanceMetrics) {
	metrics := observability.NewPerformanceMetrics(100, zap.NewNop())
	g := NewCachingGenerator(inner, CachingGeneratorOptions{
		Cache:   cache.New(cache.Options{}, zap.NewNop()),
		Dedup:   dedup.New(zap.NewNop()),
		Metrics: metrics,
	}, zap.NewNop())
	return g, metrics
}

// ---------------------------------------------------------------------------
// Cache behavior
// ---------------------------------------------------------------------------

func TestCachingGenerator_SecondIdenticalRequestIsCached(t *testing.T) {
	inner := newFakeGenerator()
	g, metrics := newWrapped(inner)
	ctx := context.Background()

	first, err := g.GenerateContent(ctx, request("m", "hi"), "p1")
	require.NoError(t, err)
	second, err := g.GenerateContent(ctx, request("m", "hi"), "p1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load(), "second call served from cache")
	assert.Same(t, first, second)

	records := metrics.Records()
	require.Len(t, records, 2)
	assert.False(t, records[0].Cached)
	assert.True(t, records[1].Cached)
	assert.Equal(t, 15, records[0].TokenCount)
}

func TestCachingGenerator_DifferentRequestsMissSeparately(t *testing.T) {
	inner := newFakeGenerator()
	g, _ := newWrapped(inner)
	ctx := context.Background()

	_, err := g.GenerateContent(ctx, request("m", "one"), "p")
	require.NoError(t, err)
	_, err = g.GenerateContent(ctx, request("m", "two"), "p")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachingGenerator_NondeterministicKnobsExcludedFromKey(t *testing.T) {
	inner := newFakeGenerator()
	g, _ := newWrapped(inner)
	ctx := context.Background()

	base := request("m", "hi")
	withLogprobs := request("m", "hi")
	lp := 5
	withLogprobs.Config.Logprobs = &lp

	_, err := g.GenerateContent(ctx, base, "p")
	require.NoError(t, err)
	_, err = g.GenerateContent(ctx, withLogprobs, "p")
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load(), "logprobs does not change the cache key")

	withTemp := request("m", "hi")
	temp := 0.9
	withTemp.Config.Temperature = &temp
	_, err = g.GenerateContent(ctx, withTemp, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "temperature does change the cache key")
}

func TestCachingGenerator_ErrorsAreNotCached(t *testing.T) {
	inner := newFakeGenerator()
	inner.err = errors.New("boom")
	g, metrics := newWrapped(inner)
	ctx := context.Background()

	_, err := g.GenerateContent(ctx, request("m", "hi"), "p")
	require.Error(t, err)
	_, err = g.GenerateContent(ctx, request("m", "hi"), "p")
	require.Error(t, err)

	assert.Equal(t, int64(2), inner.calls.Load(), "failures always reach the transport")
	records := metrics.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "boom", records[0].Error)
}

func TestCachingGenerator_EmptyCandidatesNotCached(t *testing.T) {
	inner := newFakeGenerator()
	inner.responses["m"] = &llm.GenerateResponse{Model: "m"} // zero candidates
	g, _ := newWrapped(inner)
	ctx := context.Background()

	_, err := g.GenerateContent(ctx, request("m", "hi"), "p")
	require.NoError(t, err)
	_, err = g.GenerateContent(ctx, request("m", "hi"), "p")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

// ---------------------------------------------------------------------------
// Deduplication
// ---------------------------------------------------------------------------

func TestCachingGenerator_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	inner := newFakeGenerator()
	inner.block = make(chan struct{})
	g, metrics := newWrapped(inner)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*llm.GenerateResponse, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := g.GenerateContent(ctx, request("m", "same"), "p")
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}

	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(inner.block)
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load(), "one transport call for all callers")
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}

	// Every caller except the leader was served shared work: either
	// coalesced onto the in-flight execution or, if it arrived after
	// settlement, from the cache the leader populated.
	shared := 0
	for _, rec := range metrics.Records() {
		if rec.Deduped || rec.Cached {
			shared++
		}
	}
	assert.Equal(t, callers-1, shared)
}

// ---------------------------------------------------------------------------
// Pass-through surfaces and optional layers
// ---------------------------------------------------------------------------

func TestCachingGenerator_StreamPassesThrough(t *testing.T) {
	inner := newFakeGenerator()
	g, _ := newWrapped(inner)

	ch, err := g.GenerateContentStream(context.Background(), request("m", "hi"), "p")
	require.NoError(t, err)
	chunk, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "chunk", chunk.Delta.Parts[0].Text)
}

func TestCachingGenerator_CountAndEmbedPassThrough(t *testing.T) {
	inner := newFakeGenerator()
	g, _ := newWrapped(inner)
	ctx := context.Background()

	count, err := g.CountTokens(ctx, &llm.CountTokensRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, 42, count.TotalTokens)

	_, err = g.EmbedContent(ctx, &llm.EmbedRequest{Model: "m"})
	assert.NoError(t, err)
}

func TestCachingGenerator_NilLayersDegradeToPassThrough(t *testing.T) {
	inner := newFakeGenerator()
	g := NewCachingGenerator(inner, CachingGeneratorOptions{}, zap.NewNop())
	ctx := context.Background()

	_, err := g.GenerateContent(ctx, request("m", "hi"), "p")
	require.NoError(t, err)
	_, err = g.GenerateContent(ctx, request("m", "hi"), "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "no cache layer, every call hits the transport")
}
