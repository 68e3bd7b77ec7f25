package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
)

// Options configures a ResponseCache. Used both at construction and, with
// pointer fields left nil meaning "unchanged", for partial updates via
// SetOptions.
type Options struct {
	Enabled *bool
	MaxSize *int
	TTL     *time.Duration
}

// DefaultMaxSize and DefaultTTL match the recognized configuration surface.
const (
	DefaultMaxSize = 100
	DefaultTTL     = 5 * time.Minute
)

// entry is one cached response. Entries are replaced wholesale on re-Set,
// never mutated in place.
type entry struct {
	value    *llm.GenerateResponse
	storedAt time.Time
	ttl      time.Duration

	key  string
	prev *entry
	next *entry
}

// ResponseCache is a size- and time-bounded LRU store of prior responses.
// Keys may be opaque strings or structured records; structured records are
// canonicalized and hashed so structurally identical requests collide to
// the same slot regardless of field insertion order.
//
// Expiry is checked lazily on access; there is no timer-driven eviction
// unless StartSweep is used.
type ResponseCache struct {
	mu      sync.Mutex
	enabled bool
	maxSize int
	ttl     time.Duration

	items map[string]*entry
	head  *entry // most recently used
	tail  *entry // least recently used

	now    func() time.Time
	logger *zap.Logger

	sweepStop chan struct{}
}

// New creates a ResponseCache. A nil logger is replaced with a nop logger.
func New(opts Options, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ResponseCache{
		enabled: true,
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		items:   make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "response_cache")),
	}
	c.applyOptions(opts)
	return c
}

// normalizeKey maps an opaque string through unchanged and canonicalizes
// anything else to a fixed-width digest.
func normalizeKey(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return "llm:cache:" + llm.CanonicalDigest(key)
}

// Get returns the cached response for key, or nil, false. A hit moves the
// key to the most-recently-used position; an expired entry is deleted as a
// side effect and reported as a miss.
func (c *ResponseCache) Get(key any) (*llm.GenerateResponse, bool) {
	k := normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, false
	}
	e, ok := c.items[k]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.remove(e)
		return nil, false
	}
	c.moveToHead(e)
	return e.value, true
}

// Has reports whether key is present and fresh, without touching the
// access order. An expired entry is deleted as a side effect.
func (c *ResponseCache) Has(key any) bool {
	k := normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}
	e, ok := c.items[k]
	if !ok {
		return false
	}
	if c.expired(e) {
		c.remove(e)
		return false
	}
	return true
}

// Set stores value under key. A zero ttl means "use the cache default".
// Inserting a new key into a full cache evicts exactly the least-recently
// touched entry first, so capacity is never exceeded.
func (c *ResponseCache) Set(key any, value *llm.GenerateResponse, ttl time.Duration) {
	k := normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	if e, ok := c.items[k]; ok {
		e.value = value
		e.storedAt = c.now()
		e.ttl = ttl
		c.moveToHead(e)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictTail()
	}

	e := &entry{value: value, storedAt: c.now(), ttl: ttl, key: k}
	c.items[k] = e
	c.addToHead(e)
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.items {
		if c.expired(e) {
			c.remove(e)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache cleanup", zap.Int("removed", removed), zap.Int("remaining", len(c.items)))
	}
	return removed
}

// Clear drops all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Size returns the current number of entries.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SetOptions applies a partial options update. Disabling the cache clears
// it immediately; shrinking MaxSize evicts oldest entries until the new
// bound holds.
func (c *ResponseCache) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyOptions(opts)
}

func (c *ResponseCache) applyOptions(opts Options) {
	if opts.Enabled != nil && *opts.Enabled != c.enabled {
		c.enabled = *opts.Enabled
		if !c.enabled {
			c.reset()
		}
	}
	if opts.TTL != nil && *opts.TTL > 0 {
		c.ttl = *opts.TTL
	}
	if opts.MaxSize != nil && *opts.MaxSize > 0 {
		c.maxSize = *opts.MaxSize
		for len(c.items) > c.maxSize {
			c.evictTail()
		}
	}
}

// StartSweep runs a best-effort periodic Cleanup until StopSweep is
// called. The goroutine never blocks shutdown: it only waits on its ticker
// and stop channel. Calling StartSweep while a sweep is running is a no-op;
// a stopped cache may start a fresh sweep.
func (c *ResponseCache) StartSweep(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	c.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep stops the background sweep if one is running. Safe to call
// repeatedly and without a prior StartSweep.
func (c *ResponseCache) StopSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sweepStop == nil {
		return
	}
	close(c.sweepStop)
	c.sweepStop = nil
}

// --- internal list maintenance (all called under c.mu) ---

func (c *ResponseCache) expired(e *entry) bool {
	return c.now().Sub(e.storedAt) > e.ttl
}

func (c *ResponseCache) reset() {
	c.items = make(map[string]*entry)
	c.head = nil
	c.tail = nil
}

func (c *ResponseCache) addToHead(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResponseCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *ResponseCache) remove(e *entry) {
	c.unlink(e)
	delete(c.items, e.key)
}

func (c *ResponseCache) moveToHead(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToHead(e)
}

func (c *ResponseCache) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.remove(victim)
	c.logger.Debug("cache eviction", zap.String("key", victim.key))
}
