package llm

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
)

// ToolCall is an opaque request from the model to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult carries the outcome of a tool invocation back to the model.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Part is one piece of a conversation turn: free text, a tool call, or a
// tool result. Exactly one field is expected to be set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// HasToolPayload reports whether the part carries a tool call or result.
func (p Part) HasToolPayload() bool {
	return p.ToolCall != nil || p.ToolResult != nil
}

// Content is a single conversation turn.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// HasToolPayload reports whether any part of the turn carries a tool call
// or tool result. Such turns are atomic for history-compression purposes.
func (c Content) HasToolPayload() bool {
	for _, p := range c.Parts {
		if p.HasToolPayload() {
			return true
		}
	}
	return false
}

// GenerationConfig holds the sampling knobs of a generation request.
// Temperature, TopK, TopP, MaxOutputTokens and Stop participate in cache
// keys; Logprobs and CandidateCount are non-deterministic/diagnostic knobs
// and are deliberately excluded from key derivation.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	CandidateCount  *int     `json:"candidate_count,omitempty"`
	Logprobs        *int     `json:"logprobs,omitempty"`
	Stop            []string `json:"stop,omitempty"`
}

// GenerateRequest describes one call to the generation endpoint.
type GenerateRequest struct {
	Model    string            `json:"model"`
	Contents []Content         `json:"contents"`
	Config   GenerationConfig  `json:"config,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Candidate is one generated answer.
type Candidate struct {
	Index        int     `json:"index"`
	Content      Content `json:"content"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage reports token accounting for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// GenerateResponse is the result of a generation call. A response with no
// candidates is never cached.
type GenerateResponse struct {
	ID         string      `json:"id,omitempty"`
	Model      string      `json:"model"`
	Candidates []Candidate `json:"candidates"`
	Usage      Usage       `json:"usage,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
}

// StreamChunk is one incremental piece of a streaming response.
type StreamChunk struct {
	ID           string  `json:"id,omitempty"`
	Model        string  `json:"model,omitempty"`
	Delta        Content `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
	Err          error   `json:"-"`
}

// CountTokensRequest asks the provider for an exact token count.
type CountTokensRequest struct {
	Model    string    `json:"model"`
	Contents []Content `json:"contents"`
}

// CountTokensResponse carries the provider's token count.
type CountTokensResponse struct {
	TotalTokens int `json:"total_tokens"`
}

// EmbedRequest asks the provider for an embedding.
type EmbedRequest struct {
	Model    string    `json:"model"`
	Contents []Content `json:"contents"`
}

// EmbedResponse carries embedding vectors, one per input content.
type EmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
