package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalEncode serializes v into a byte form that is stable across
// property insertion order: the value is marshaled, decoded into generic
// JSON, and re-marshaled, which sorts all object keys. Two structurally
// identical values always encode identically.
func CanonicalEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Fall back to a deterministic textual form to avoid key collisions.
		return []byte(fmt.Sprintf("%#v", v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return data
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return data
	}
	return canonical
}

// CanonicalDigest hashes the canonical encoding of v to a fixed-width
// hex digest (first 16 bytes of sha256).
func CanonicalDigest(v any) string {
	hash := sha256.Sum256(CanonicalEncode(v))
	return hex.EncodeToString(hash[:16])
}

// cacheKeyView is the deterministic subset of a request that participates
// in response-cache keys. Non-deterministic sampling knobs (logprobs,
// candidate count) are excluded on purpose; stop sequences stay in because
// they deterministically shape the output.
type cacheKeyView struct {
	Model           string    `json:"model"`
	Contents        []Content `json:"contents"`
	Temperature     *float64  `json:"temperature,omitempty"`
	TopK            *int      `json:"top_k,omitempty"`
	TopP            *float64  `json:"top_p,omitempty"`
	MaxOutputTokens *int      `json:"max_output_tokens,omitempty"`
	Stop            []string  `json:"stop,omitempty"`
}

// CacheKeyRecord returns the structured record used as the response-cache
// key for req.
func CacheKeyRecord(req *GenerateRequest) any {
	return cacheKeyView{
		Model:           req.Model,
		Contents:        req.Contents,
		Temperature:     req.Config.Temperature,
		TopK:            req.Config.TopK,
		TopP:            req.Config.TopP,
		MaxOutputTokens: req.Config.MaxOutputTokens,
		Stop:            req.Config.Stop,
	}
}

// Fingerprint derives the in-flight coalescing key for req: model id plus
// serialized contents plus serialized generation config. It intentionally
// shares the canonicalization rules of cache keys while remaining a
// distinct namespace, so cache TTL and deduplication stay independent.
func Fingerprint(req *GenerateRequest) string {
	view := struct {
		Model    string           `json:"model"`
		Contents []Content        `json:"contents"`
		Config   GenerationConfig `json:"config"`
	}{req.Model, req.Contents, req.Config}
	return "llm:inflight:" + CanonicalDigest(view)
}
