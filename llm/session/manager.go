package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/compress"
)

// Manager layers lifecycle handling on a Store: id allocation, activity
// refresh on every mutation, and transcript compression once a session's
// history outgrows the compressor's budget.
type Manager struct {
	store      Store
	compressor *compress.Compressor
	newID      func() string
	now        func() time.Time
	logger     *zap.Logger
}

// NewManager creates a Manager. compressor may be nil to disable history
// compression; a nil logger is replaced with a nop logger.
func NewManager(store Store, compressor *compress.Compressor, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		compressor: compressor,
		newID:      uuid.NewString,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "session_manager")),
	}
}

// GetOrCreate loads the session, creating and persisting a fresh one when
// id is empty or unknown.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*SessionData, error) {
	if id != "" {
		data, err := m.store.Load(ctx, id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	} else {
		id = m.newID()
	}

	now := m.now()
	data := &SessionData{
		ID:             id,
		CreatedAt:      now,
		LastActivityAt: now,
		Metadata:       make(map[string]string),
	}
	if err := m.store.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	m.logger.Debug("session created", zap.String("session", id))
	return data, nil
}

// AppendTurn appends one turn to the session history, refreshes
// LastActivityAt and the token total, compresses the history when it
// exceeds the budget, and persists the result.
func (m *Manager) AppendTurn(ctx context.Context, id string, turn llm.Content) (*SessionData, error) {
	data, err := m.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	data.History = append(data.History, turn)
	data.LastActivityAt = m.now()

	if m.compressor != nil {
		if m.compressor.NeedsCompression(data.History) {
			before := len(data.History)
			data.History = m.compressor.Compress(data.History)
			m.logger.Info("session history compressed",
				zap.String("session", data.ID),
				zap.Int("turns_before", before),
				zap.Int("turns_after", len(data.History)))
		}
		data.TotalTokens = m.compressor.TokenCount(data.History)
	}

	if err := m.store.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("save session %s: %w", data.ID, err)
	}
	return data, nil
}

// SetMetadata updates one metadata key and persists the session.
func (m *Manager) SetMetadata(ctx context.Context, id, key, value string) error {
	data, err := m.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	if data.Metadata == nil {
		data.Metadata = make(map[string]string)
	}
	data.Metadata[key] = value
	data.LastActivityAt = m.now()
	return m.store.Save(ctx, data)
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Cleanup delegates the expiry sweep to the store.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	return m.store.Cleanup(ctx)
}
