package llm

import "context"

// ContentGenerator is the abstract generation capability this middleware
// wraps. The concrete implementation performs the actual provider call and
// may fail with an *Error carrying an HTTP-like status code.
type ContentGenerator interface {
	// GenerateContent produces one complete response for the request.
	GenerateContent(ctx context.Context, req *GenerateRequest, promptID string) (*GenerateResponse, error)

	// GenerateContentStream produces the response incrementally. The
	// returned channel is closed once the stream ends; a terminal failure
	// is delivered as a chunk with Err set.
	GenerateContentStream(ctx context.Context, req *GenerateRequest, promptID string) (<-chan StreamChunk, error)

	// CountTokens returns the provider's exact token count for a request.
	CountTokens(ctx context.Context, req *CountTokensRequest) (*CountTokensResponse, error)

	// EmbedContent returns embeddings for the request contents.
	EmbedContent(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}
