// Package middleware composes the resilience and efficiency layers around
// an abstract content generator: response caching, in-flight request
// deduplication and metrics recording, plus an explicit registry for
// shared component instances.
package middleware
