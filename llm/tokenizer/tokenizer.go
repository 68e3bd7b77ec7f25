package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer is the unified token-counting interface.
type Tokenizer interface {
	// CountTokens returns the token count of the given text.
	CountTokens(text string) (int, error)

	// MaxTokens returns the model's maximum context length.
	MaxTokens() int

	// Name returns the tokenizer's name.
	Name() string
}

// Registry maps model names to tokenizers. It is an explicit object owned
// by whoever constructs the processing pipeline, passed by reference to
// consumers rather than held in package-level state.
type Registry struct {
	mu         sync.RWMutex
	tokenizers map[string]Tokenizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokenizers: make(map[string]Tokenizer)}
}

// Register binds a tokenizer to a model name.
func (r *Registry) Register(model string, t Tokenizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenizers[model] = t
}

// Lookup returns the tokenizer registered for the given model, also
// trying prefix matches (so "gpt-4o-mini" can resolve via "gpt-4o").
func (r *Registry) Lookup(model string) (Tokenizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tokenizers[model]; ok {
		return t, nil
	}
	for prefix, t := range r.tokenizers {
		if strings.HasPrefix(model, prefix) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// LookupOrEstimator returns the registered tokenizer for the model,
// falling back to a generic estimator when none is registered.
func (r *Registry) LookupOrEstimator(model string) Tokenizer {
	t, err := r.Lookup(model)
	if err != nil {
		return NewEstimator(model, 0)
	}
	return t
}
