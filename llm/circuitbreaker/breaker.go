// Package circuitbreaker protects the generation transport from sustained
// hammering of a failing target. The breaker is a CLOSED → OPEN →
// HALF_OPEN automaton whose time-driven transitions are evaluated lazily
// on access, never by a timer callback, so behavior stays deterministic
// under an injected clock.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// OpenError is raised without contacting the transport when the breaker
// refuses a call. It carries the remaining cooldown before the next probe
// is allowed.
type OpenError struct {
	RemainingCooldown time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry in %s", e.RemainingCooldown)
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold trips CLOSED → OPEN once this many failures fall
	// within Window.
	FailureThreshold int

	// SuccessRateThreshold, when > 0, additionally trips the breaker if
	// the windowed success rate drops below it while at least
	// FailureThreshold outcomes have been recorded in the window.
	SuccessRateThreshold float64

	// Window bounds how far back recorded outcomes count.
	Window time.Duration

	// ResetTimeout is the OPEN cooldown before a HALF_OPEN probe.
	ResetTimeout time.Duration

	// OnStateChange, when set, is invoked after every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is the three-state failure-protection automaton. Timestamps
// outside the window are pruned on every record and read; transitions are
// the only way state changes, and lastStateChange moves only on
// transitions.
type Breaker struct {
	mu     sync.Mutex
	config Config

	state           State
	failures        []time.Time
	successes       []time.Time
	lastStateChange time.Time

	now    func() time.Time
	logger *zap.Logger
}

// New creates a closed breaker. Out-of-range config values fall back to
// defaults; a nil logger is replaced with a nop logger.
func New(config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	b := &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
		logger: logger.With(zap.String("component", "circuit_breaker")),
	}
	b.lastStateChange = b.now()
	return b
}

// RecordFailure appends a failure, prunes the window, and applies the
// trip rules: HALF_OPEN fails straight back to OPEN; CLOSED trips once
// the window condition holds.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = append(b.failures, b.now())
	b.prune()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.tripConditionHolds() {
			b.transition(StateOpen)
		}
	}
}

// RecordSuccess appends a success and prunes. A HALF_OPEN success closes
// the breaker and clears all recorded outcomes for a fresh start.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = append(b.successes, b.now())
	b.prune()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.failures = nil
		b.successes = nil
	}
}

// State returns the current state, applying the lazy OPEN → HALF_OPEN
// transition when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state != StateOpen
}

// Execute runs fn under breaker protection: a refused call fails with
// *OpenError without invoking fn; otherwise the outcome is recorded and
// failures are rethrown unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (*llm.GenerateResponse, error)) (*llm.GenerateResponse, error) {
	b.mu.Lock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		remaining := b.config.ResetTimeout - b.now().Sub(b.lastStateChange)
		if remaining < 0 {
			remaining = 0
		}
		b.mu.Unlock()
		return nil, &OpenError{RemainingCooldown: remaining}
	}
	b.mu.Unlock()

	resp, err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return nil, err
	}
	b.RecordSuccess()
	return resp, nil
}

// ForceOpen trips the breaker regardless of recorded outcomes.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		b.transition(StateOpen)
	}
}

// ForceClose closes the breaker and clears recorded outcomes.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = nil
	b.successes = nil
}

// Counts returns the windowed failure and success counts.
func (b *Breaker) Counts() (failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return len(b.failures), len(b.successes)
}

// --- internal (all called under b.mu) ---

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.lastStateChange) >= b.config.ResetTimeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) tripConditionHolds() bool {
	if len(b.failures) >= b.config.FailureThreshold {
		return true
	}
	if b.config.SuccessRateThreshold > 0 {
		total := len(b.failures) + len(b.successes)
		if total >= b.config.FailureThreshold {
			rate := float64(len(b.successes)) / float64(total)
			if rate < b.config.SuccessRateThreshold {
				return true
			}
		}
	}
	return false
}

func (b *Breaker) prune() {
	cutoff := b.now().Add(-b.config.Window)
	b.failures = pruneBefore(b.failures, cutoff)
	b.successes = pruneBefore(b.successes, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = b.now()
	b.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(from, to)
	}
}
