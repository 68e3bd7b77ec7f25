// Package fallback routes generation across a priority-ordered chain of
// named models with per-model health tracking. Execution always targets
// the best currently-healthy model and fails over on eligible errors.
package fallback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
)

// ModelConfig registers one model in the chain. Lower Priority values are
// tried first.
type ModelConfig struct {
	ID       string
	Priority int
}

// ModelStatus is a read-only view of one registered model's health.
type ModelStatus struct {
	ID            string     `json:"id"`
	Priority      int        `json:"priority"`
	Healthy       bool       `json:"healthy"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Options configures a Manager. Pointer fields left nil mean "unchanged"
// when passed to SetOptions.
type Options struct {
	// MaxFailures marks a model unhealthy once its failure counter
	// reaches this value.
	MaxFailures *int
	// RecoveryTimeout is how long after the last failure an unhealthy
	// model is reset to healthy, when AutoRecovery is on.
	RecoveryTimeout *time.Duration
	// AutoRecovery enables lazy on-read recovery.
	AutoRecovery *bool
}

const (
	DefaultMaxFailures     = 3
	DefaultRecoveryTimeout = 60 * time.Second
)

type modelHealth struct {
	config        ModelConfig
	healthy       bool
	failureCount  int
	lastFailureAt time.Time
}

// Manager owns the model registry. "Current model" is recomputed on every
// read from the live registry, never cached across mutations; unhealthy
// models recover lazily when current-model state is queried.
type Manager struct {
	mu              sync.Mutex
	models          map[string]*modelHealth
	maxFailures     int
	recoveryTimeout time.Duration
	autoRecovery    bool

	now    func() time.Time
	logger *zap.Logger
}

// New creates an empty Manager. A nil logger is replaced with a nop logger.
func New(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		models:          make(map[string]*modelHealth),
		maxFailures:     DefaultMaxFailures,
		recoveryTimeout: DefaultRecoveryTimeout,
		autoRecovery:    true,
		now:             time.Now,
		logger:          logger.With(zap.String("component", "model_fallback")),
	}
	m.applyOptions(opts)
	return m
}

// AddModel registers a model, healthy with a zero failure count.
// Re-adding an existing id replaces its config and resets its health.
func (m *Manager) AddModel(config ModelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[config.ID] = &modelHealth{config: config, healthy: true}
}

// RemoveModel deregisters a model.
func (m *Manager) RemoveModel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, id)
}

// Current returns the lowest-priority-value healthy model id, applying
// lazy auto-recovery first. The second return is false when no model is
// healthy.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRecover()
	ordered := m.healthyByPriority()
	if len(ordered) == 0 {
		return "", false
	}
	return ordered[0].config.ID, true
}

// RecordSuccess resets the model's failure counter and marks it healthy.
func (m *Manager) RecordSuccess(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.models[id]
	if !ok {
		return
	}
	h.failureCount = 0
	h.healthy = true
}

// RecordFailure increments the model's failure counter and marks it
// unhealthy once the counter reaches MaxFailures.
func (m *Manager) RecordFailure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.models[id]
	if !ok {
		return
	}
	h.failureCount++
	h.lastFailureAt = m.now()
	if h.failureCount >= m.maxFailures && h.healthy {
		h.healthy = false
		m.logger.Warn("model marked unhealthy",
			zap.String("model", id),
			zap.Int("failures", h.failureCount))
	}
}

// ForceHealthy marks the model healthy with a zero failure count.
func (m *Manager) ForceHealthy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.models[id]; ok {
		h.healthy = true
		h.failureCount = 0
	}
}

// ForceUnhealthy marks the model unhealthy regardless of its counter.
func (m *Manager) ForceUnhealthy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.models[id]; ok {
		h.healthy = false
		h.lastFailureAt = m.now()
	}
}

// Statuses returns a snapshot of every registered model, ordered by
// ascending priority.
func (m *Manager) Statuses() []ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRecover()

	out := make([]ModelStatus, 0, len(m.models))
	for _, h := range m.models {
		status := ModelStatus{
			ID:           h.config.ID,
			Priority:     h.config.Priority,
			Healthy:      h.healthy,
			FailureCount: h.failureCount,
		}
		if !h.lastFailureAt.IsZero() {
			at := h.lastFailureAt
			status.LastFailureAt = &at
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Result pairs a successful response with the model that produced it.
type Result struct {
	Response *llm.GenerateResponse
	Model    string
}

// ExecuteWithFallback calls fn for each healthy model in ascending
// priority order until one succeeds. A terminal error (a client-error
// status other than 429) stops the chain immediately; eligible errors
// record a failure and move on to the next model. When the chain is
// exhausted the last error is returned wrapped.
func (m *Manager) ExecuteWithFallback(ctx context.Context, fn func(ctx context.Context, model string) (*llm.GenerateResponse, error)) (*Result, error) {
	m.mu.Lock()
	m.maybeRecover()
	ordered := m.healthyByPriority()
	candidates := make([]string, len(ordered))
	for i, h := range ordered {
		candidates[i] = h.config.ID
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return nil, fmt.Errorf("model fallback: no healthy models available")
	}

	var lastErr error
	for _, id := range candidates {
		resp, err := fn(ctx, id)
		if err == nil {
			m.RecordSuccess(id)
			return &Result{Response: resp, Model: id}, nil
		}
		m.RecordFailure(id)
		if !llm.IsFallbackEligible(err) {
			return nil, err
		}
		m.logger.Warn("model failed, falling back",
			zap.String("model", id),
			zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("model fallback: all models failed: %w", lastErr)
}

// SetOptions applies a partial options update.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyOptions(opts)
}

func (m *Manager) applyOptions(opts Options) {
	if opts.MaxFailures != nil && *opts.MaxFailures > 0 {
		m.maxFailures = *opts.MaxFailures
	}
	if opts.RecoveryTimeout != nil && *opts.RecoveryTimeout > 0 {
		m.recoveryTimeout = *opts.RecoveryTimeout
	}
	if opts.AutoRecovery != nil {
		m.autoRecovery = *opts.AutoRecovery
	}
}

// maybeRecover resets unhealthy models whose last failure is older than
// the recovery timeout. Must be called under m.mu.
func (m *Manager) maybeRecover() {
	if !m.autoRecovery {
		return
	}
	now := m.now()
	for id, h := range m.models {
		if !h.healthy && now.Sub(h.lastFailureAt) >= m.recoveryTimeout {
			h.healthy = true
			h.failureCount = 0
			m.logger.Info("model auto-recovered", zap.String("model", id))
		}
	}
}

// healthyByPriority returns healthy models in ascending priority order.
// Must be called under m.mu.
func (m *Manager) healthyByPriority() []*modelHealth {
	out := make([]*modelHealth, 0, len(m.models))
	for _, h := range m.models {
		if h.healthy {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].config.Priority != out[j].config.Priority {
			return out[i].config.Priority < out[j].config.Priority
		}
		return out[i].config.ID < out[j].config.ID
	})
	return out
}
