package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/llmguard/llm"
)

func testResponse(id string) *llm.GenerateResponse {
	return &llm.GenerateResponse{
		Model: "test-model",
		Candidates: []llm.Candidate{{
			Content: llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: id}}},
		}},
	}
}

// fakeClock lets tests drive lazy expiry deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time               { return f.t }
func (f *fakeClock) advance(d time.Duration)      { f.t = f.t.Add(d) }
func newFakeClock() *fakeClock                    { return &fakeClock{t: time.Unix(1700000000, 0)} }
func withClock(c *ResponseCache, fc *fakeClock)   { c.now = fc.now }

// ---------------------------------------------------------------------------
// Basic get/set/has
// ---------------------------------------------------------------------------

func TestResponseCache_SetGet(t *testing.T) {
	c := New(Options{}, zap.NewNop())

	resp := testResponse("a")
	c.Set("k", resp, 0)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, resp, got)
	assert.True(t, c.Has("k"))
	assert.Equal(t, 1, c.Size())
}

func TestResponseCache_MissOnUnknownKey(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.False(t, c.Has("missing"))
}

// ---------------------------------------------------------------------------
// Structured keys canonicalize independent of field order
// ---------------------------------------------------------------------------

func TestResponseCache_StructuredKeyCanonicalization(t *testing.T) {
	c := New(Options{}, zap.NewNop())

	// Maps with the same entries must collide to the same slot.
	k1 := map[string]any{"model": "m", "temperature": 0.5}
	k2 := map[string]any{"temperature": 0.5, "model": "m"}

	c.Set(k1, testResponse("a"), 0)
	got, ok := c.Get(k2)
	require.True(t, ok)
	assert.Equal(t, "a", got.Candidates[0].Content.Parts[0].Text)
}

// ---------------------------------------------------------------------------
// TTL expiry (lazy, on access)
// ---------------------------------------------------------------------------

func TestResponseCache_ExpiryOnGet(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{}, zap.NewNop())
	withClock(c, clock)

	c.Set("k", testResponse("v"), time.Second)

	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.advance(1100 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must read as absent")
	assert.False(t, c.Has("k"), "expired entry must be removed as a side effect")
	assert.Equal(t, 0, c.Size())
}

func TestResponseCache_PerEntryTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	ttl := time.Minute
	c := New(Options{TTL: &ttl}, zap.NewNop())
	withClock(c, clock)

	c.Set("short", testResponse("s"), time.Second)
	c.Set("long", testResponse("l"), 0) // default TTL

	clock.advance(2 * time.Second)
	assert.False(t, c.Has("short"))
	assert.True(t, c.Has("long"))
}

func TestResponseCache_Cleanup(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{}, zap.NewNop())
	withClock(c, clock)

	c.Set("a", testResponse("a"), time.Second)
	c.Set("b", testResponse("b"), time.Hour)

	clock.advance(2 * time.Second)
	removed := c.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())
	assert.True(t, c.Has("b"))
}

// ---------------------------------------------------------------------------
// LRU eviction
// ---------------------------------------------------------------------------

func TestResponseCache_EvictsLeastRecentlyUsed(t *testing.T) {
	size := 3
	c := New(Options{MaxSize: &size}, zap.NewNop())

	c.Set("a", testResponse("a"), 0)
	c.Set("b", testResponse("b"), 0)
	c.Set("c", testResponse("c"), 0)

	// Touch "a" so "b" becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", testResponse("d"), 0)

	assert.Equal(t, 3, c.Size())
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))
}

func TestResponseCache_CapacityNeverExceeded(t *testing.T) {
	size := 2
	c := New(Options{MaxSize: &size}, zap.NewNop())

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), testResponse("v"), 0)
		assert.LessOrEqual(t, c.Size(), size)
	}
}

// ---------------------------------------------------------------------------
// Enable/disable and option updates
// ---------------------------------------------------------------------------

func TestResponseCache_DisableClearsAndNoops(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	c.Set("k", testResponse("v"), 0)

	off := false
	c.SetOptions(Options{Enabled: &off})

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k2", testResponse("v"), 0)
	assert.Equal(t, 0, c.Size(), "set must be a no-op while disabled")

	on := true
	c.SetOptions(Options{Enabled: &on})
	assert.Equal(t, 0, c.Size(), "re-enabling starts empty")
	c.Set("k3", testResponse("v"), 0)
	assert.True(t, c.Has("k3"))
}

func TestResponseCache_ShrinkEvictsOldest(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), testResponse("v"), 0)
	}

	smaller := 2
	c.SetOptions(Options{MaxSize: &smaller})

	assert.Equal(t, 2, c.Size())
	// The two most recently inserted survive.
	assert.True(t, c.Has("k3"))
	assert.True(t, c.Has("k4"))
}

func TestResponseCache_Clear(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	c.Set("k", testResponse("v"), 0)
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

// ---------------------------------------------------------------------------
// Property: map and access-order list stay in lock-step
// ---------------------------------------------------------------------------

func TestResponseCache_AccessOrderInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 8).Draw(t, "maxSize")
		c := New(Options{MaxSize: &size}, zap.NewNop())

		keys := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}), 1, 40).Draw(t, "ops")
		for i, k := range keys {
			if i%3 == 0 {
				c.Get(k)
			} else {
				c.Set(k, testResponse(k), 0)
			}

			c.mu.Lock()
			// Every key in the map appears exactly once in the list and
			// vice versa.
			seen := make(map[string]bool)
			count := 0
			for e := c.head; e != nil; e = e.next {
				require.False(t, seen[e.key], "key %q appears twice in access order", e.key)
				seen[e.key] = true
				_, inMap := c.items[e.key]
				require.True(t, inMap)
				count++
			}
			require.Equal(t, len(c.items), count)
			require.LessOrEqual(t, count, size)
			c.mu.Unlock()
		}
	})
}

// ---------------------------------------------------------------------------
// Background sweep
// ---------------------------------------------------------------------------

func TestResponseCache_SweepRemovesExpiredEntries(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	fc := newFakeClock()
	withClock(c, fc)

	c.Set("k", testResponse("a"), time.Minute)
	fc.advance(2 * time.Minute)

	c.StartSweep(time.Millisecond)
	defer c.StopSweep()

	require.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, time.Millisecond)
}

func TestResponseCache_StopSweepIsIdempotent(t *testing.T) {
	c := New(Options{}, zap.NewNop())

	assert.NotPanics(t, func() { c.StopSweep() }, "stop without start")

	c.StartSweep(time.Hour)
	assert.NotPanics(t, func() {
		c.StopSweep()
		c.StopSweep()
	})
}

func TestResponseCache_SweepRestartsAfterStop(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	fc := newFakeClock()
	withClock(c, fc)

	c.StartSweep(time.Hour)
	c.StartSweep(time.Hour) // second start is a no-op
	c.StopSweep()

	c.Set("k", testResponse("a"), time.Minute)
	fc.advance(2 * time.Minute)

	c.StartSweep(time.Millisecond)
	defer c.StopSweep()
	require.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, time.Millisecond)
}
