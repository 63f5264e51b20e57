package core

import "context"

// Embedding is one vector returned by a provider, tagged with the position
// of its input text inside the request batch.
type Embedding struct {
	Index  int
	Vector []float32
}

// EmbeddingProvider turns a batch of texts into vectors. Implementations may
// return items in any order; callers sort by Index.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error)
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role    string
	Content string
}

// GenerateRequest is a provider-neutral chat completion request.
type GenerateRequest struct {
	System      string
	History     []Turn
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// LLMProvider generates text, either in one call or as incremental fragments.
// Stream calls onFragment once per fragment in order and stops at the first
// error returned by onFragment.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Stream(ctx context.Context, req GenerateRequest, onFragment func(string) error) error
}
