// Package llm defines the request/response model shared by the llmguard
// middleware components and the CachingContentGenerator composition that
// wraps an abstract content generator with caching and request
// deduplication.
//
// The concrete transport that talks to a model provider is a collaborator,
// not part of this module: anything implementing ContentGenerator can be
// wrapped. Sub-packages provide the orthogonal request guards (cache,
// dedup, ratelimit, circuitbreaker, fallback, compress) plus session
// persistence and observability.
package llm
