// Package tokenizer provides a unified token-counting interface with a
// tiktoken-backed precise counter and a character-ratio estimator, used
// for token budgeting of request transcripts.
package tokenizer
