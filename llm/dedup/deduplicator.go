// Package dedup collapses concurrently issued identical generation
// requests into a single in-flight execution whose outcome is shared by
// every caller.
package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
)

// call is one shared in-flight execution. done is closed only after the
// fingerprint has been removed from the registry, so a request issued the
// instant after settlement always starts a fresh execution.
type call struct {
	done chan struct{}
	resp *llm.GenerateResponse
	err  error
}

// Deduplicator maps request fingerprints to shared pending results. A
// fingerprint appears at most once at any instant; entries are removed
// unconditionally on settlement, success or failure.
type Deduplicator struct {
	mu       sync.Mutex
	enabled  bool
	inflight map[string]*call
	logger   *zap.Logger
}

// New creates a Deduplicator. A nil logger is replaced with a nop logger.
func New(logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		enabled:  true,
		inflight: make(map[string]*call),
		logger:   logger.With(zap.String("component", "request_deduplicator")),
	}
}

// SetEnabled toggles deduplication. While disabled, Do always runs the
// executor directly.
func (d *Deduplicator) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// DoRequest derives the fingerprint from req and delegates to Do.
func (d *Deduplicator) DoRequest(ctx context.Context, req *llm.GenerateRequest, fn func() (*llm.GenerateResponse, error)) (*llm.GenerateResponse, bool, error) {
	return d.Do(ctx, llm.Fingerprint(req), fn)
}

// Do executes fn for the first caller of a fingerprint and registers the
// pending operation; every caller arriving for the same fingerprint while
// it is pending awaits the same execution and observes the same eventual
// value or error. The returned bool reports whether this caller was
// coalesced onto an execution started by someone else.
//
// The check-then-register below is atomic under d.mu: no suspension occurs
// between the lookup and the registration, which is the one real
// concurrency hazard in this package.
func (d *Deduplicator) Do(ctx context.Context, fingerprint string, fn func() (*llm.GenerateResponse, error)) (*llm.GenerateResponse, bool, error) {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		resp, err := fn()
		return resp, false, err
	}

	if existing, ok := d.inflight[fingerprint]; ok {
		d.mu.Unlock()
		d.logger.Debug("coalescing duplicate request", zap.String("fingerprint", fingerprint))
		select {
		case <-existing.done:
			return existing.resp, true, existing.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	d.inflight[fingerprint] = c
	d.mu.Unlock()

	c.resp, c.err = fn()

	// Deregister before any awaiter can observe settlement.
	d.mu.Lock()
	if d.inflight[fingerprint] == c {
		delete(d.inflight, fingerprint)
	}
	d.mu.Unlock()
	close(c.done)

	return c.resp, false, c.err
}

// IsInFlight reports whether an execution for fingerprint is pending.
func (d *Deduplicator) IsInFlight(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[fingerprint]
	return ok
}

// InFlightCount returns the number of pending executions.
func (d *Deduplicator) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Clear forgets all pending registrations. Executions already running
// settle normally for their awaiters; new identical requests start fresh.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight = make(map[string]*call)
}
