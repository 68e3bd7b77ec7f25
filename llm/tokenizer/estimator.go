package tokenizer

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// DefaultCharsPerToken is the assumed ratio for plain estimation, used by
// transcript budgeting when no precise tokenizer is available.
const DefaultCharsPerToken = 4.0

// Estimator is a character-count-based token estimator. Counting is
// ceil(characterCount / charsPerToken), with CJK characters weighted
// separately since they carry far fewer characters per token.
type Estimator struct {
	model         string
	maxTokens     int
	charsPerToken float64
}

// NewEstimator creates a generic estimator.
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Estimator{
		model:         model,
		maxTokens:     maxTokens,
		charsPerToken: DefaultCharsPerToken,
	}
}

// WithCharsPerToken overrides the default chars-per-token ratio.
func (e *Estimator) WithCharsPerToken(ratio float64) *Estimator {
	if ratio > 0 {
		e.charsPerToken = ratio
	}
	return e
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}
	if cjkCount == 0 {
		return int(math.Ceil(float64(totalChars) / e.charsPerToken)), nil
	}

	// CJK characters run ~1.5 chars/token regardless of the ratio.
	cjkTokens := float64(cjkCount) / 1.5
	restTokens := float64(totalChars-cjkCount) / e.charsPerToken
	return int(math.Ceil(cjkTokens + restTokens)), nil
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }

func (e *Estimator) Name() string {
	return fmt.Sprintf("estimator[%.1f]", e.charsPerToken)
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
