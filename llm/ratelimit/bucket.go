// Package ratelimit bounds the call rate to the generation transport with
// a lazily refilled token bucket. Refill is a pure function of elapsed
// wall-clock time computed on every access; there is no background ticking.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures a Limiter. Pointer fields left nil mean "unchanged"
// when passed to SetOptions.
type Options struct {
	MaxTokens  *float64
	RefillRate *float64 // tokens per second
}

const (
	DefaultMaxTokens  = 10.0
	DefaultRefillRate = 1.0
)

// Stats is a point-in-time snapshot of the bucket.
type Stats struct {
	Tokens     float64 `json:"tokens"`
	MaxTokens  float64 `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// Limiter is a token-bucket rate limiter. Tokens are floating point and
// never exceed MaxTokens; the post-wait debit in Acquire may drive the
// count slightly negative under floating-point rounding, which is accepted
// as the latency/precision trade-off of the shortfall computation.
type Limiter struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	tokens     float64
	lastRefill time.Time

	now    func() time.Time
	logger *zap.Logger
}

// New creates a full bucket. A nil logger is replaced with a nop logger.
func New(opts Options, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		maxTokens:  DefaultMaxTokens,
		refillRate: DefaultRefillRate,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "rate_limiter")),
	}
	l.applyOptions(opts)
	l.tokens = l.maxTokens
	l.lastRefill = l.now()
	return l
}

// refill adds tokens for the elapsed time, capped at maxTokens. Must be
// called under l.mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.refillRate
		if l.tokens > l.maxTokens {
			l.tokens = l.maxTokens
		}
	}
	l.lastRefill = now
}

// TryAcquire refills, then debits n tokens iff they are available.
// Otherwise it leaves state untouched and returns false.
func (l *Limiter) TryAcquire(n float64) bool {
	if n <= 0 {
		n = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < n {
		return false
	}
	l.tokens -= n
	return true
}

// Acquire blocks until n tokens are available, then debits them. When the
// bucket is short, the wait is computed from the exact shortfall
// ((n - tokens) / refillRate) and the debit after the wait is forced; it
// is not clamped at zero.
func (l *Limiter) Acquire(ctx context.Context, n float64) error {
	if n <= 0 {
		n = 1
	}

	l.mu.Lock()
	l.refill()
	if l.tokens >= n {
		l.tokens -= n
		l.mu.Unlock()
		return nil
	}
	wait := l.shortfallWait(n)
	l.mu.Unlock()

	l.logger.Debug("rate limited, waiting for refill",
		zap.Duration("wait", wait),
		zap.Float64("requested", n))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	l.mu.Lock()
	l.refill()
	l.tokens -= n
	l.mu.Unlock()
	return nil
}

// WaitTime returns how long a caller needing n tokens would wait right
// now, without mutating bucket state.
func (l *Limiter) WaitTime(n float64) time.Duration {
	if n <= 0 {
		n = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// Compute the refilled level without committing it.
	tokens := l.tokens + l.now().Sub(l.lastRefill).Seconds()*l.refillRate
	if tokens > l.maxTokens {
		tokens = l.maxTokens
	}
	if tokens >= n {
		return 0
	}
	return time.Duration((n - tokens) / l.refillRate * float64(time.Second))
}

// shortfallWait computes the wait for the current shortfall. Must be
// called under l.mu after refill.
func (l *Limiter) shortfallWait(n float64) time.Duration {
	return time.Duration((n - l.tokens) / l.refillRate * float64(time.Second))
}

// Stats returns a refreshed snapshot.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Stats{Tokens: l.tokens, MaxTokens: l.maxTokens, RefillRate: l.refillRate}
}

// Reset refills the bucket to capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.maxTokens
	l.lastRefill = l.now()
}

// SetOptions applies a partial options update. The token level is clamped
// to a lowered ceiling.
func (l *Limiter) SetOptions(opts Options) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.applyOptions(opts)
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
}

func (l *Limiter) applyOptions(opts Options) {
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		l.maxTokens = *opts.MaxTokens
	}
	if opts.RefillRate != nil && *opts.RefillRate > 0 {
		l.refillRate = *opts.RefillRate
	}
}
