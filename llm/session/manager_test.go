package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/compress"
)

func intp(v int) *int { return &v }

func newTestManager(t *testing.T, compressor *compress.Compressor) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), DefaultTTL, zap.NewNop())
	require.NoError(t, err)
	return NewManager(store, compressor, zap.NewNop())
}

func TestManager_GetOrCreateAllocatesID(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	data, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, data.ID)
	_, err = uuid.Parse(data.ID)
	assert.NoError(t, err, "allocated ids are UUIDs")
	assert.False(t, data.CreatedAt.IsZero())
	assert.Equal(t, data.CreatedAt, data.LastActivityAt)
}

func TestManager_GetOrCreateLoadsExisting(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, "sess", llm.Content{Role: llm.RoleUser, Parts: []llm.Part{{Text: "hi"}}})
	require.NoError(t, err)

	again, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, again.History, 1, "existing history survives")
}

func TestManager_AppendTurnRefreshesActivity(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	clock := time.Unix(1700000000, 0)
	m.now = func() time.Time { return clock }

	data, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	created := data.LastActivityAt

	clock = clock.Add(time.Minute)
	data, err = m.AppendTurn(ctx, "sess", llm.Content{Role: llm.RoleUser, Parts: []llm.Part{{Text: "hi"}}})
	require.NoError(t, err)
	assert.True(t, data.LastActivityAt.After(created))
	assert.Len(t, data.History, 1)
}

func TestManager_AppendTurnCompressesOverBudget(t *testing.T) {
	compressor := compress.New(compress.Options{
		MaxTokens:           intp(50),
		PreserveRecentTurns: intp(1),
	}, zap.NewNop())
	m := newTestManager(t, compressor)
	ctx := context.Background()

	long := strings.Repeat("w", 400)
	var data *SessionData
	var err error
	for i := 0; i < 6; i++ {
		data, err = m.AppendTurn(ctx, "sess", llm.Content{
			Role: llm.RoleUser, Parts: []llm.Part{{Text: long}},
		})
		require.NoError(t, err)
	}

	assert.Less(t, len(data.History), 6, "history was compressed")
	assert.Positive(t, data.TotalTokens)

	// The persisted copy reflects the compressed history.
	reloaded, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, len(data.History), len(reloaded.History))
}

func TestManager_SetMetadata(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.SetMetadata(ctx, "sess", "channel", "cli"))
	data, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "cli", data.Metadata["channel"])
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, "sess", llm.Content{Role: llm.RoleUser, Parts: []llm.Part{{Text: "hi"}}})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "sess"))

	recreated, err := m.GetOrCreate(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, recreated.History, "deleted session starts fresh")
	assert.Equal(t, first.ID, recreated.ID, "same explicit id")
}
