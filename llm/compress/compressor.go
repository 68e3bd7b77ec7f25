// Package compress reduces a growing conversation transcript to fit a
// token budget. Recent turns are preserved verbatim; older turns are
// truncated, then dropped, oldest first. Turns are never reordered and
// tool-call/tool-result payloads are atomic for preservation purposes.
package compress

import (
	"encoding/json"
	"math"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
	"github.com/BaSui01/llmguard/llm/tokenizer"
)

// CompressedMarkerText is the single synthetic turn prepended when any
// older turn was dropped outright.
const CompressedMarkerText = "[earlier conversation compressed]"

const truncationMarker = "...[truncated]..."

// Options configures a Compressor. Pointer fields left nil mean
// "unchanged" when passed to SetOptions.
type Options struct {
	// MaxTokens is the transcript budget.
	MaxTokens *int
	// CharsPerToken tunes the estimate ceil(chars / charsPerToken).
	CharsPerToken *float64
	// PreserveRecentTurns×2 trailing turns are kept completely unmodified
	// (heuristically N user+model pairs).
	PreserveRecentTurns *int
	// PreserveToolCalls keeps tool-call/tool-result parts through
	// aggressive shortening and blocks dropping turns that carry them.
	PreserveToolCalls *bool
	// LightTruncateChars / AggressiveTruncateChars bound free-text length
	// in the two shortening modes.
	LightTruncateChars      *int
	AggressiveTruncateChars *int
	// Tokenizer, when set, replaces the character estimate with a precise
	// count for free-text parts.
	Tokenizer tokenizer.Tokenizer
}

const (
	DefaultMaxTokens               = 4000
	DefaultCharsPerToken           = tokenizer.DefaultCharsPerToken
	DefaultPreserveRecentTurns     = 3
	DefaultLightTruncateChars      = 500
	DefaultAggressiveTruncateChars = 150
)

// CompressionStats reports the effect of one compression pass.
type CompressionStats struct {
	OriginalTokens   int     `json:"original_tokens"`
	CompressedTokens int     `json:"compressed_tokens"`
	ReductionPercent float64 `json:"reduction_percent"`
	TurnsRemoved     int     `json:"turns_removed"`
}

// Compressor is the token-budgeted transcript compressor.
type Compressor struct {
	mu                      sync.Mutex
	maxTokens               int
	charsPerToken           float64
	preserveRecentTurns     int
	preserveToolCalls       bool
	lightTruncateChars      int
	aggressiveTruncateChars int
	tok                     tokenizer.Tokenizer

	logger *zap.Logger
}

// New creates a Compressor. A nil logger is replaced with a nop logger.
func New(opts Options, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compressor{
		maxTokens:               DefaultMaxTokens,
		charsPerToken:           DefaultCharsPerToken,
		preserveRecentTurns:     DefaultPreserveRecentTurns,
		preserveToolCalls:       true,
		lightTruncateChars:      DefaultLightTruncateChars,
		aggressiveTruncateChars: DefaultAggressiveTruncateChars,
		logger:                  logger.With(zap.String("component", "history_compressor")),
	}
	c.applyOptions(opts)
	return c
}

// SetOptions applies a partial options update.
func (c *Compressor) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyOptions(opts)
}

func (c *Compressor) applyOptions(opts Options) {
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		c.maxTokens = *opts.MaxTokens
	}
	if opts.CharsPerToken != nil && *opts.CharsPerToken > 0 {
		c.charsPerToken = *opts.CharsPerToken
	}
	if opts.PreserveRecentTurns != nil && *opts.PreserveRecentTurns >= 0 {
		c.preserveRecentTurns = *opts.PreserveRecentTurns
	}
	if opts.PreserveToolCalls != nil {
		c.preserveToolCalls = *opts.PreserveToolCalls
	}
	if opts.LightTruncateChars != nil && *opts.LightTruncateChars > 0 {
		c.lightTruncateChars = *opts.LightTruncateChars
	}
	if opts.AggressiveTruncateChars != nil && *opts.AggressiveTruncateChars > 0 {
		c.aggressiveTruncateChars = *opts.AggressiveTruncateChars
	}
	if opts.Tokenizer != nil {
		c.tok = opts.Tokenizer
	}
}

// NeedsCompression reports whether the running token total across turns
// exceeds the budget. The scan exits as soon as the budget is crossed.
func (c *Compressor) NeedsCompression(history []llm.Content) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for i := range history {
		total += c.turnTokens(&history[i])
		if total > c.maxTokens {
			return true
		}
	}
	return false
}

// TokenCount estimates the token total of the whole transcript.
func (c *Compressor) TokenCount(history []llm.Content) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTokens(history)
}

// Compress returns a transcript fitting the budget. A transcript already
// under budget is returned unchanged, same slice. Otherwise the trailing
// preserveRecentTurns*2 turns are kept verbatim and older turns are
// shortened or dropped, oldest to newest, against the leftover budget;
// when any older turn is dropped a single synthetic marker turn is
// prepended. When preserveToolCalls is on, an over-budget tool-call turn
// is kept anyway, so the result may intentionally exceed maxTokens rather
// than lose a tool round-trip.
func (c *Compressor) Compress(history []llm.Content) []llm.Content {
	c.mu.Lock()
	defer c.mu.Unlock()

	originalTokens := c.totalTokens(history)
	if originalTokens <= c.maxTokens {
		return history
	}

	recentCount := c.preserveRecentTurns * 2
	if recentCount > len(history) {
		recentCount = len(history)
	}
	split := len(history) - recentCount
	older, recent := history[:split], history[split:]

	budget := c.maxTokens - c.totalTokens(recent)
	if budget < 0 {
		budget = 0
	}

	kept := make([]llm.Content, 0, len(older))
	used := 0
	dropped := 0
	for i := range older {
		turn := &older[i]
		cost := c.turnTokens(turn)
		if used+cost <= budget {
			light := c.shortenTurn(turn, c.lightTruncateChars, false)
			kept = append(kept, light)
			used += c.turnTokens(&light)
			continue
		}

		hard := c.shortenTurn(turn, c.aggressiveTruncateChars, true)
		hardCost := c.turnTokens(&hard)
		mustKeep := c.preserveToolCalls && turn.HasToolPayload()
		if len(hard.Parts) > 0 && (used+hardCost <= budget || mustKeep) {
			kept = append(kept, hard)
			used += hardCost
			continue
		}
		dropped++
	}

	out := make([]llm.Content, 0, len(kept)+recentCount+1)
	if dropped > 0 {
		out = append(out, llm.Content{
			Role:  llm.RoleSystem,
			Parts: []llm.Part{{Text: CompressedMarkerText}},
		})
	}
	out = append(out, kept...)
	out = append(out, recent...)

	c.logger.Debug("history compressed",
		zap.Int("original_tokens", originalTokens),
		zap.Int("compressed_tokens", c.totalTokens(out)),
		zap.Int("turns_dropped", dropped))
	return out
}

// Stats compares an original transcript with its compressed form. Turn
// removal is counted by sequence-length delta, not deep comparison.
func (c *Compressor) Stats(original, compressed []llm.Content) CompressionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CompressionStats{
		OriginalTokens:   c.totalTokens(original),
		CompressedTokens: c.totalTokens(compressed),
	}
	if stats.OriginalTokens > 0 {
		stats.ReductionPercent = 100 * float64(stats.OriginalTokens-stats.CompressedTokens) / float64(stats.OriginalTokens)
	}
	if removed := len(original) - len(compressed); removed > 0 {
		stats.TurnsRemoved = removed
	}
	return stats
}

// --- internal (called under c.mu) ---

func (c *Compressor) totalTokens(history []llm.Content) int {
	total := 0
	for i := range history {
		total += c.turnTokens(&history[i])
	}
	return total
}

// turnTokens estimates one turn as ceil(chars / charsPerToken), where
// chars sums text length plus the serialized length of any tool payloads.
// A configured tokenizer replaces the estimate for free text only.
func (c *Compressor) turnTokens(turn *llm.Content) int {
	chars := 0
	textTokens := 0
	for i := range turn.Parts {
		p := &turn.Parts[i]
		if p.Text != "" {
			if c.tok != nil {
				if n, err := c.tok.CountTokens(p.Text); err == nil {
					textTokens += n
				} else {
					chars += utf8.RuneCountInString(p.Text)
				}
			} else {
				chars += utf8.RuneCountInString(p.Text)
			}
		}
		if p.ToolCall != nil {
			chars += serializedLen(p.ToolCall)
		}
		if p.ToolResult != nil {
			chars += serializedLen(p.ToolResult)
		}
	}
	return textTokens + int(math.Ceil(float64(chars)/c.charsPerToken))
}

func serializedLen(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(raw)
}

// shortenTurn copies the turn with long free text truncated to limit. In
// aggressive mode tool payloads are dropped unless preserveToolCalls is
// set.
func (c *Compressor) shortenTurn(turn *llm.Content, limit int, aggressive bool) llm.Content {
	parts := make([]llm.Part, 0, len(turn.Parts))
	for i := range turn.Parts {
		p := turn.Parts[i]
		if aggressive && !c.preserveToolCalls && (p.ToolCall != nil || p.ToolResult != nil) {
			p.ToolCall = nil
			p.ToolResult = nil
			if p.Text == "" {
				continue
			}
		}
		if p.Text != "" {
			p.Text = truncateText(p.Text, limit)
		}
		parts = append(parts, p)
	}
	return llm.Content{Role: turn.Role, Parts: parts}
}

// truncateText keeps a head and tail excerpt of roughly half the limit
// each, joined by an explicit marker, so readers retain both the opening
// and closing context of a long message.
func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	head := limit / 2
	tail := limit - head
	return string(runes[:head]) + truncationMarker + string(runes[len(runes)-tail:])
}
